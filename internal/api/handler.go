// Package api is the HTTP surface of the bridge: runtimes register listeners
// and take pending events, producers enqueue events and report host resume.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/event-bridge/backend/internal/bridge"
	appctx "github.com/welldanyogia/event-bridge/backend/internal/context"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/logger"
)

// Error codes for bridge operations
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnknownEvent    = "UNKNOWN_EVENT"
	CodeRequestCanceled = "REQUEST_CANCELED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// maxBodyBytes bounds an ingest request body
const maxBodyBytes = 1 << 20

// Bridge is the native module the handlers drive. *bridge.Bridge implements it.
type Bridge interface {
	Platform() bridge.Platform
	Enqueue(event events.Event)
	OnListenerAdded(ctx context.Context, name string) error
	TakePendingEvents(ctx context.Context, name string, isBackground bool) ([]json.RawMessage, error)
	OnHostResume()
	HasPending(name string) bool
	Stats() events.Stats
}

// Handler handles the bridge HTTP endpoints
type Handler struct {
	bridge Bridge
	logger *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(b Bridge, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bridge: b,
		logger: logger,
	}
}

// AddListener handles POST /api/v1/listeners/{name}
func (h *Handler) AddListener(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.bridge.OnListenerAdded(r.Context(), name); err != nil {
		h.handleBridgeError(w, r, err)
		return
	}

	h.log(r).Debug("listener added", slog.String("event_name", name))
	h.writeSuccess(w, http.StatusOK, ListenerResponse{
		Name:    name,
		Known:   events.IsKnownName(name),
		Pending: events.IsKnownName(name) && h.bridge.HasPending(name),
	})
}

// TakeEvents handles POST /api/v1/events/{name}/take?background=true|false
func (h *Handler) TakeEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	isBackground := false
	if raw := r.URL.Query().Get("background"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, CodeValidationError, "background must be true or false",
				map[string][]string{"background": {"must be true or false"}})
			return
		}
		isBackground = b
	}

	bodies, err := h.bridge.TakePendingEvents(r.Context(), name, isBackground)
	if err != nil {
		h.handleBridgeError(w, r, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, TakeResponse{Events: bodies})
}

// Enqueue handles POST /api/v1/events
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	classification := events.DefaultClassification(req.Name, req.Body)
	if req.Classification != "" {
		// Validated by the oneof tag
		classification, _ = events.ParseClassification(req.Classification)
	}

	event := events.NewRawEvent(req.Name, req.Body, classification)
	h.bridge.Enqueue(event)

	producer, _ := appctx.ExtractClientID(r.Context())
	h.log(r).Info("event ingested",
		slog.String("event_name", event.Name),
		slog.String("event_id", event.ID),
		slog.String("classification", classification.String()),
		slog.String("producer_id", producer),
	)

	h.writeSuccess(w, http.StatusAccepted, EnqueueResponse{
		ID:             event.ID,
		Name:           event.Name,
		Classification: event.Classification,
		Bucket:         event.Classification.Bucket().String(),
		Timestamp:      event.Timestamp.UTC(),
	})
}

// HostResume handles POST /api/v1/host/resume
func (h *Handler) HostResume(w http.ResponseWriter, r *http.Request) {
	h.bridge.OnHostResume()
	h.writeSuccess(w, http.StatusOK, ResumeResponse{Resumed: true})
}

// Pending handles GET /api/v1/events/pending
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	stats := h.bridge.Stats()
	h.writeSuccess(w, http.StatusOK, PendingResponse{
		Platform:   string(h.bridge.Platform()),
		Foreground: stats.Foreground,
		Background: stats.Background,
		Total:      stats.Total(),
		Dropped:    stats.Dropped,
	})
}

// handleBridgeError maps bridge errors to HTTP responses
func (h *Handler) handleBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bridge.ErrUnknownEvent):
		h.writeError(w, http.StatusNotFound, CodeUnknownEvent, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client has usually gone by now
		h.writeError(w, http.StatusServiceUnavailable, CodeRequestCanceled, "Request canceled", nil)
	default:
		h.log(r).Error("bridge operation failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error", nil)
	}
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	return logger.WithCorrelationID(r.Context(), h.logger)
}

// writeSuccess writes a success JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
