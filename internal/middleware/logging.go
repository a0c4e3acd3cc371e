// Package middleware provides HTTP middleware for the bridge API.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/welldanyogia/event-bridge/backend/internal/logger"
)

// quietPaths are polled by probes and scrapers and log at debug.
var quietPaths = map[string]struct{}{
	"/health":       {},
	"/health/ready": {},
	"/health/live":  {},
	"/metrics":      {},
}

// LoggingMiddleware logs one structured line per completed request
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware instance
func NewLoggingMiddleware(log *slog.Logger) *LoggingMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingMiddleware{
		logger: log,
	}
}

// Handler returns an HTTP middleware that logs requests. The chi request id
// becomes the correlation id downstream handlers log with.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

		// The chi wrapper keeps http.Flusher for the runtime stream
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		attrs := []any{
			slog.String("correlation_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
		}
		if r.URL.RawQuery != "" && r.URL.Query().Get("token") == "" {
			attrs = append(attrs, slog.String("query", r.URL.RawQuery))
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			attrs = append(attrs, slog.String("x_forwarded_for", xff))
		}

		stream := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
		_, quiet := quietPaths[r.URL.Path]

		switch {
		case status >= 500:
			m.logger.Error("HTTP request completed with server error", attrs...)
		case status >= 400:
			m.logger.Warn("HTTP request completed with client error", attrs...)
		case stream:
			m.logger.Info("runtime stream closed", attrs...)
		case quiet:
			m.logger.Debug("HTTP request completed", attrs...)
		default:
			m.logger.Info("HTTP request completed", attrs...)
		}
	})
}

// StructuredLogger returns a chi-compatible logger that uses slog
func StructuredLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return NewLoggingMiddleware(log).Handler
}
