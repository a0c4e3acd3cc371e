// Package metrics provides Prometheus metrics for the bridge service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// HTTPResponseSize measures HTTP response size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)
)

var (
	// EventsEnqueued counts events accepted by the pending store
	EventsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "store",
			Name:      "events_enqueued_total",
			Help:      "Total number of events enqueued by routing name and bucket",
		},
		[]string{"event_name", "bucket"},
	)

	// EventsTaken counts events handed to a runtime by take
	EventsTaken = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "store",
			Name:      "events_taken_total",
			Help:      "Total number of events taken by routing name and bucket",
		},
		[]string{"event_name", "bucket"},
	)

	// EventsDropped counts events evicted because a name reached capacity
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "store",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped at capacity by routing name",
		},
		[]string{"event_name"},
	)

	// EventsPending tracks events waiting to be taken
	EventsPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "store",
			Name:      "events_pending",
			Help:      "Number of events waiting to be taken by bucket",
		},
		[]string{"bucket"},
	)
)

var (
	// SignalsSent counts foreground signals by result
	SignalsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "delivery",
			Name:      "signals_total",
			Help:      "Total number of pending-event signals by result",
		},
		[]string{"result"},
	)

	// Wakes counts background wake requests by result
	Wakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "headless",
			Name:      "wakes_total",
			Help:      "Total number of headless wake requests by result",
		},
		[]string{"result"},
	)

	// HeadlessTaskDuration measures headless task run time
	HeadlessTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "headless",
			Name:      "task_duration_seconds",
			Help:      "Headless task duration in seconds by outcome",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// DrainCycles counts emitter drain cycles
	DrainCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "emitter",
			Name:      "drain_cycles_total",
			Help:      "Total number of drain cycles by bucket and outcome",
		},
		[]string{"bucket", "outcome"},
	)

	// ListenerErrors counts listener failures isolated by the emitter
	ListenerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "emitter",
			Name:      "listener_errors_total",
			Help:      "Total number of listener errors and panics by routing name",
		},
		[]string{"event_name"},
	)
)

var (
	// SSEConnectionsActive tracks active SSE connections
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "sse",
			Name:      "connections_active",
			Help:      "Number of active SSE connections",
		},
	)

	// SSEEventsPublished counts SSE frames written by type
	SSEEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "sse",
			Name:      "events_published_total",
			Help:      "Total number of SSE events published by type",
		},
		[]string{"event_type"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// newResponseWriter creates a new responseWriter
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush passes through so the runtime stream can flush frames
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the wrapped writer for http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Track in-flight requests
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		// Wrap response writer to capture status and size
		rw := newResponseWriter(w)

		// Process request
		next.ServeHTTP(rw, r)

		// Calculate duration
		duration := time.Since(start).Seconds()

		// Get route pattern for consistent labeling
		path := getRoutePattern(r)

		// Record metrics
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.size))
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
