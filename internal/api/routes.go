package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middlewares groups the per-audience middleware the bridge routes need.
type Middlewares struct {
	// Runtime authenticates runtime tokens
	Runtime func(next http.Handler) http.Handler
	// Producer authenticates producer tokens
	Producer func(next http.Handler) http.Handler
	// IngestLimit rate limits enqueue requests per producer. Optional.
	IngestLimit func(next http.Handler) http.Handler
}

// RegisterRoutes registers the bridge routes under the given router,
// normally mounted at /api/v1.
func RegisterRoutes(r chi.Router, handler *Handler, mw Middlewares) {
	// Runtime side
	r.Group(func(r chi.Router) {
		r.Use(mw.Runtime)

		// POST /api/v1/listeners/{name} - A listener was added for name
		r.Post("/listeners/{name}", handler.AddListener)

		// POST /api/v1/events/{name}/take - Take pending bodies for name
		r.Post("/events/{name}/take", handler.TakeEvents)

		// GET /api/v1/events/pending - Pending counts
		r.Get("/events/pending", handler.Pending)
	})

	// Producer side
	r.Group(func(r chi.Router) {
		r.Use(mw.Producer)

		// POST /api/v1/events - Enqueue an event
		if mw.IngestLimit != nil {
			r.With(mw.IngestLimit).Post("/events", handler.Enqueue)
		} else {
			r.Post("/events", handler.Enqueue)
		}

		// POST /api/v1/host/resume - Host app returned to the foreground
		r.Post("/host/resume", handler.HostResume)
	})
}
