// Package health provides health check endpoints for the bridge service.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

// ServiceStatus represents the status of a single service
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PendingSummary reports what the store is holding
type PendingSummary struct {
	Foreground int    `json:"foreground"`
	Background int    `json:"background"`
	Dropped    uint64 `json:"dropped"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Pending   *PendingSummary          `json:"pending,omitempty"`
	Runtimes  *int                     `json:"runtimes,omitempty"`
	Version   string                   `json:"version,omitempty"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// StatsSource reports pending counts. *bridge.Bridge implements it.
type StatsSource interface {
	Stats() events.Stats
}

// RuntimeCounter reports connected runtimes.
// *sse.InMemoryConnectionManager implements it.
type RuntimeCounter interface {
	TotalConnections() int
}

// Handler handles health check requests
type Handler struct {
	redisClient redis.UniversalClient
	natsConn    *nats.Conn
	stats       StatsSource
	runtimes    RuntimeCounter
	version     string
	timeout     time.Duration
	ready       bool
	mu          sync.RWMutex
}

// Config holds health handler configuration. Nil dependencies are skipped.
type Config struct {
	RedisClient redis.UniversalClient
	NATSConn    *nats.Conn
	Stats       StatsSource
	Runtimes    RuntimeCounter
	Version     string
	Timeout     time.Duration // Default: 5 seconds
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Handler{
		redisClient: cfg.RedisClient,
		natsConn:    cfg.NATSConn,
		stats:       cfg.Stats,
		runtimes:    cfg.Runtimes,
		version:     cfg.Version,
		timeout:     timeout,
		ready:       true,
	}
}

// SetReady sets the readiness state of the service
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health handles the main health check endpoint. The in-memory store is
// always up; the notifier transports are checked when configured.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := h.checkServices(ctx)
	overallStatus := "healthy"
	for _, s := range services {
		if s.Status != "up" {
			overallStatus = "degraded"
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	}
	if h.stats != nil {
		s := h.stats.Stats()
		response.Pending = &PendingSummary{
			Foreground: sum(s.Foreground),
			Background: sum(s.Background),
			Dropped:    s.Dropped,
		}
	}
	if h.runtimes != nil {
		n := h.runtimes.TotalConnections()
		response.Runtimes = &n
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// Readiness handles the readiness probe endpoint
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.IsReady()
	if ready {
		for _, s := range h.checkServices(ctx) {
			if s.Status != "up" {
				ready = false
			}
		}
	}

	response := ReadinessResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// Liveness handles the liveness probe endpoint
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	response := LivenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) checkServices(ctx context.Context) map[string]ServiceStatus {
	services := make(map[string]ServiceStatus)
	if h.redisClient != nil {
		services["redis"] = h.checkRedis(ctx)
	}
	if h.natsConn != nil {
		services["nats"] = h.checkNATS(ctx)
	}
	return services
}

// checkRedis checks Redis connectivity
func (h *Handler) checkRedis(ctx context.Context) ServiceStatus {
	start := time.Now()
	_, err := h.redisClient.Ping(ctx).Result()
	return status(time.Since(start), err)
}

// checkNATS checks NATS connectivity with a server round trip
func (h *Handler) checkNATS(ctx context.Context) ServiceStatus {
	if !h.natsConn.IsConnected() {
		return ServiceStatus{Status: "down", Error: "nats: " + h.natsConn.Status().String()}
	}

	start := time.Now()
	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	var err error
	if timeout <= 0 {
		err = errors.New("nats: health check deadline exceeded")
	} else {
		err = h.natsConn.FlushTimeout(timeout)
	}
	return status(time.Since(start), err)
}

func sum(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func status(latency time.Duration, err error) ServiceStatus {
	if err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ServiceStatus{
		Status:  "up",
		Latency: latency.String(),
	}
}
