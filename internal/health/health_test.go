package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

type stubStats events.Stats

func (s stubStats) Stats() events.Stats { return events.Stats(s) }

type stubRuntimes int

func (s stubRuntimes) TotalConnections() int { return int(s) }

func TestHealth_ReportsPendingAndRuntimes(t *testing.T) {
	h := NewHandler(Config{
		Stats: stubStats{
			Foreground: map[string]int{"deep_link": 2, "channel_created": 1},
			Background: map[string]int{"push_received": 4},
			Dropped:    3,
		},
		Runtimes: stubRuntimes(2),
		Version:  "test",
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Pending)
	assert.Equal(t, 3, resp.Pending.Foreground)
	assert.Equal(t, 4, resp.Pending.Background)
	assert.Equal(t, uint64(3), resp.Pending.Dropped)
	require.NotNil(t, resp.Runtimes)
	assert.Equal(t, 2, *resp.Runtimes)
	assert.Empty(t, resp.Services)
}

func TestHealth_UnreachableRedisDegrades(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	h := NewHandler(Config{RedisClient: client, Timeout: time.Second})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Services["redis"].Status)
	assert.NotEmpty(t, resp.Services["redis"].Error)

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessFollowsSetReady(t *testing.T) {
	h := NewHandler(Config{})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.SetReady(false)
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
