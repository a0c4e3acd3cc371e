package api

import (
	"encoding/json"
	"time"

	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// EnqueueRequest is the body of POST /api/v1/events.
// Classification may be omitted; the routing name's default applies.
type EnqueueRequest struct {
	Name           string          `json:"name" validate:"required,routing_name"`
	Body           json.RawMessage `json:"body" validate:"required,json_object"`
	Classification string          `json:"classification,omitempty" validate:"omitempty,oneof=foreground background"`
}

// EnqueueResponse describes the stored event
type EnqueueResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Classification events.Classification `json:"classification"`
	Bucket         string                `json:"bucket"`
	Timestamp      time.Time             `json:"timestamp"`
}

// TakeResponse is the result of a take: bodies in arrival order
type TakeResponse struct {
	Events []json.RawMessage `json:"events"`
}

// ListenerResponse acknowledges a listener registration
type ListenerResponse struct {
	Name    string `json:"name"`
	Known   bool   `json:"known"`
	Pending bool   `json:"pending"`
}

// PendingResponse reports the store contents per bucket and routing name
type PendingResponse struct {
	Platform   string         `json:"platform"`
	Foreground map[string]int `json:"foreground"`
	Background map[string]int `json:"background"`
	Total      int            `json:"total"`
	Dropped    uint64         `json:"dropped"`
}

// ResumeResponse acknowledges a host resume
type ResumeResponse struct {
	Resumed bool `json:"resumed"`
}
