package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/welldanyogia/event-bridge/backend/internal/logger"
)

func newBufferLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))
}

func TestStructuredLogger_SetsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := chimw.RequestID(StructuredLogger(newBufferLogger(&buf, slog.LevelInfo))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = logger.GetCorrelationID(r.Context())
		}),
	))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/events/pending", nil))

	assert.NotEmpty(t, seen)
	assert.Contains(t, buf.String(), `"correlation_id":"`+seen+`"`)
	assert.Contains(t, buf.String(), "HTTP request completed")
}

func TestStructuredLogger_OmitsTokenQuery(t *testing.T) {
	var buf bytes.Buffer
	h := StructuredLogger(newBufferLogger(&buf, slog.LevelInfo))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/runtime/stream?token=secret-value", nil))

	assert.NotContains(t, buf.String(), "secret-value")
}

func TestStructuredLogger_ProbesLogAtDebug(t *testing.T) {
	var buf bytes.Buffer
	h := StructuredLogger(newBufferLogger(&buf, slog.LevelInfo))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health/live", nil))
	assert.Empty(t, buf.String())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/events", nil))
	assert.NotEmpty(t, buf.String())
}

func TestStructuredLogger_ClientErrorsWarn(t *testing.T) {
	var buf bytes.Buffer
	h := StructuredLogger(newBufferLogger(&buf, slog.LevelInfo))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/events/nope/take", nil))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"status":404`)
}
