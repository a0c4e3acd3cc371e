package sse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/welldanyogia/event-bridge/backend/internal/auth"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/headless"
	"github.com/welldanyogia/event-bridge/backend/internal/middleware"
)

// PendingChecker reports what a newly connected runtime has to drain.
// *bridge.Bridge implements it.
type PendingChecker interface {
	HasForegroundPending() bool
	HasBackgroundPending() bool
}

// Waker starts the headless drain. *headless.Service implements it.
type Waker interface {
	Wake() headless.WakeResult
}

// Handler serves the runtime stream.
type Handler struct {
	config       Config
	connManager  *InMemoryConnectionManager
	tokenService *auth.TokenService
	pending      PendingChecker
	waker        Waker
	logger       *slog.Logger
}

// NewHandler creates a new SSE handler. waker may be nil.
func NewHandler(config Config, connManager *InMemoryConnectionManager, tokenService *auth.TokenService, pending PendingChecker, waker Waker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:       config,
		connManager:  connManager,
		tokenService: tokenService,
		pending:      pending,
		waker:        waker,
		logger:       logger,
	}
}

// HandleStream handles an SSE stream request.
// It accepts a runtime token via the token query parameter or the
// Authorization header.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	runtimeID, err := h.authenticate(r)
	if err != nil {
		h.writeUnauthorized(w)
		return
	}

	conn, err := NewConnection(uuid.New().String(), runtimeID, w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	h.connManager.AddConnection(runtimeID, conn)
	defer h.connManager.RemoveConnection(runtimeID, conn.ID)

	h.logger.Info("runtime connected",
		slog.String("runtime_id", runtimeID),
		slog.String("connection_id", conn.ID),
	)

	if err := conn.Send(NewFrame(FrameConnected, map[string]any{
		"runtime_id":    runtimeID,
		"connection_id": conn.ID,
		"timestamp":     time.Now().UTC(),
	})); err != nil {
		return
	}

	h.catchUp(conn)

	heartbeatDone := make(chan struct{})
	go h.heartbeatLoop(conn, heartbeatDone)

	timeout := time.NewTimer(h.config.ConnectionTimeout)
	defer timeout.Stop()

	select {
	case <-r.Context().Done():
	case <-conn.Done:
	case <-timeout.C:
	}

	close(heartbeatDone)
	h.logger.Info("runtime disconnected",
		slog.String("runtime_id", runtimeID),
		slog.String("connection_id", conn.ID),
	)
}

// catchUp tells a new connection about events buffered while no runtime was
// listening. Background work goes through the headless service so it stays
// single-flight.
func (h *Handler) catchUp(conn *Connection) {
	if h.pending == nil {
		return
	}
	if h.pending.HasForegroundPending() {
		_ = conn.Send(Frame{Name: events.FramePendingEvents})
	}
	if h.waker != nil && h.pending.HasBackgroundPending() {
		h.waker.Wake()
	}
}

// authenticate extracts and validates the runtime token from the request.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		if token, ok := middleware.BearerToken(r.Header.Get("Authorization")); ok {
			tokenString = token
		}
	}
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	claims, err := h.tokenService.Validate(tokenString, auth.RuntimeKind)
	if err != nil {
		return "", ErrInvalidToken
	}
	return claims.ClientID(), nil
}

// writeUnauthorized writes a 401 Unauthorized response.
func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    middleware.CodeTokenInvalid,
			"message": "Invalid or missing authentication token",
		},
		"timestamp": time.Now().UTC(),
	})
}

// heartbeatLoop sends heartbeat frames at regular intervals.
func (h *Handler) heartbeatLoop(conn *Connection, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-conn.Done:
			return
		case <-ticker.C:
			if err := conn.Send(NewFrame(FrameHeartbeat, map[string]any{"timestamp": time.Now().UTC()})); err != nil {
				return
			}
			conn.Touch()
		}
	}
}
