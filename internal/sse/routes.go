package sse

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the runtime stream with the Chi router.
// Authentication is handled by the handler so that browsers and other
// EventSource clients can pass the token as a query parameter.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/runtime", func(r chi.Router) {
		// GET /api/v1/runtime/stream
		r.Get("/stream", handler.HandleStream)
	})
}
