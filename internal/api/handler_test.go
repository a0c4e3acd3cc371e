package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/welldanyogia/event-bridge/backend/internal/auth"
	"github.com/welldanyogia/event-bridge/backend/internal/bridge"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/middleware"
)

type testEnv struct {
	router   http.Handler
	store    *events.PendingStore
	runtime  string
	producer string
}

func newTestEnv(t interface{ Fatalf(string, ...any) }, platform bridge.Platform) *testEnv {
	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: "test-secret-key-for-api-tests",
		Expiry: time.Hour,
		Issuer: "event-bridge",
	})
	runtimeToken, err := tokens.Generate(auth.RuntimeKind, "runtime-1")
	if err != nil {
		t.Fatalf("generate runtime token: %v", err)
	}
	producerToken, err := tokens.Generate(auth.ProducerKind, "producer-1")
	if err != nil {
		t.Fatalf("generate producer token: %v", err)
	}

	store := events.NewPendingStore(100, nil)
	b := bridge.New(store, bridge.Options{Platform: platform})
	authMW := middleware.NewAuthMiddleware(tokens)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(b, nil), Middlewares{
			Runtime:     authMW.Authenticate(auth.RuntimeKind),
			Producer:    authMW.Authenticate(auth.ProducerKind),
			IngestLimit: middleware.NewRateLimiter(1000, time.Minute).Limit,
		})
	})

	return &testEnv{router: r, store: store, runtime: runtimeToken, producer: producerToken}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			_ = json.NewEncoder(&buf).Encode(v)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestEnqueue_DefaultClassification(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	rec := env.do("POST", "/api/v1/events", env.producer, map[string]any{
		"name": events.NamePushReceived,
		"body": map[string]any{"pushPayload": map[string]any{"alert": "hi"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	var data EnqueueResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.NotEmpty(t, data.ID)
	assert.Equal(t, events.Background, data.Classification)
	assert.Equal(t, events.BackgroundBucket.String(), data.Bucket)
	assert.Equal(t, 1, env.store.LenForName(events.NamePushReceived, events.BackgroundBucket))
}

func TestEnqueue_ExplicitClassificationOverrides(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	rec := env.do("POST", "/api/v1/events", env.producer, map[string]any{
		"name":           events.NamePushReceived,
		"body":           map[string]any{},
		"classification": "foreground",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.store.LenForName(events.NamePushReceived, events.ForegroundBucket))
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{"unknown routing name", map[string]any{"name": "not_an_event", "body": map[string]any{}}, "name"},
		{"missing body", map[string]any{"name": events.NameDeepLink}, "body"},
		{"body not an object", map[string]any{"name": events.NameDeepLink, "body": []int{1}}, "body"},
		{"bad classification", map[string]any{"name": events.NameDeepLink, "body": map[string]any{}, "classification": "sometimes"}, "classification"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do("POST", "/api/v1/events", env.producer, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeValidationError, resp.Error.Code)
			assert.Contains(t, resp.Error.Details, tc.field)
		})
	}

	t.Run("unknown field", func(t *testing.T) {
		rec := env.do("POST", "/api/v1/events", env.producer, `{"name":"deep_link","body":{},"extra":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("malformed json", func(t *testing.T) {
		rec := env.do("POST", "/api/v1/events", env.producer, `{"name":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	assert.Zero(t, env.store.Snapshot().Total())
}

func TestRoutes_TokenKindsAreSeparated(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	rec := env.do("POST", "/api/v1/events", env.runtime, map[string]any{
		"name": events.NameDeepLink,
		"body": map[string]any{"deepLink": "app://x"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do("POST", "/api/v1/events/deep_link/take", env.producer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do("GET", "/api/v1/events/pending", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTakeEvents_UnknownNameIsNotFound(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	rec := env.do("POST", "/api/v1/events/nope/take", env.runtime, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUnknownEvent, decode(t, rec).Error.Code)
}

func TestTakeEvents_BadBackgroundParam(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	rec := env.do("POST", "/api/v1/events/deep_link/take?background=maybe", env.runtime, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error.Details, "background")
}

func TestTakeEvents_SelectsBucket(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)

	env.store.Enqueue(events.NewRawEvent(events.NameNotificationResponse, json.RawMessage(`{"n":"fg"}`), events.Foreground))
	env.store.Enqueue(events.NewRawEvent(events.NameNotificationResponse, json.RawMessage(`{"n":"bg"}`), events.Background))

	rec := env.do("POST", "/api/v1/events/notification_response/take?background=true", env.runtime, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var taken TakeResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &taken))
	require.Len(t, taken.Events, 1)
	assert.JSONEq(t, `{"n":"bg"}`, string(taken.Events[0]))

	// Foreground bucket untouched
	assert.Equal(t, 1, env.store.LenForName(events.NameNotificationResponse, events.ForegroundBucket))
}

func TestAddListener_ReportsPending(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformAndroid)
	env.store.Enqueue(events.NewRawEvent(events.NameDeepLink, json.RawMessage(`{}`), events.Foreground))

	rec := env.do("POST", "/api/v1/listeners/deep_link", env.runtime, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data ListenerResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.True(t, data.Known)
	assert.True(t, data.Pending)

	// Unknown names are accepted and never pending
	rec = env.do("POST", "/api/v1/listeners/custom_thing", env.runtime, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.False(t, data.Known)
	assert.False(t, data.Pending)
}

func TestPendingAndHostResume(t *testing.T) {
	env := newTestEnv(t, bridge.PlatformIOS)
	env.store.Enqueue(events.NewRawEvent(events.NameDeepLink, json.RawMessage(`{}`), events.Foreground))
	env.store.Enqueue(events.NewRawEvent(events.NamePushReceived, json.RawMessage(`{}`), events.Background))

	rec := env.do("GET", "/api/v1/events/pending", env.runtime, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending PendingResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &pending))
	assert.Equal(t, "ios", pending.Platform)
	assert.Equal(t, 2, pending.Total)
	assert.Equal(t, 1, pending.Background[events.NamePushReceived])

	rec = env.do("POST", "/api/v1/host/resume", env.producer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// Property 1: Bodies enqueued through the API come back from take in
// arrival order, exactly once.
func TestProperty_EnqueueTakeOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t, bridge.PlatformAndroid)
		n := rapid.IntRange(1, 20).Draw(t, "n")

		for i := 0; i < n; i++ {
			rec := env.do("POST", "/api/v1/events", env.producer, map[string]any{
				"name": events.NameDeepLink,
				"body": map[string]any{"i": i},
			})
			if rec.Code != http.StatusAccepted {
				t.Fatalf("enqueue %d: status %d: %s", i, rec.Code, rec.Body.String())
			}
		}

		rec := env.do("POST", "/api/v1/events/deep_link/take", env.runtime, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("take: status %d", rec.Code)
		}
		var env1 envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env1); err != nil {
			t.Fatalf("decode: %v", err)
		}
		var taken TakeResponse
		if err := json.Unmarshal(env1.Data, &taken); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if len(taken.Events) != n {
			t.Fatalf("took %d events, want %d", len(taken.Events), n)
		}
		for i, body := range taken.Events {
			var got struct{ I int }
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decode body %d: %v", i, err)
			}
			if got.I != i {
				t.Fatalf("event %d out of order: got %d", i, got.I)
			}
		}

		rec = env.do("POST", "/api/v1/events/deep_link/take", env.runtime, nil)
		var again envelope
		_ = json.Unmarshal(rec.Body.Bytes(), &again)
		if string(again.Data) != `{"events":[]}` {
			t.Fatalf("second take not empty: %s", again.Data)
		}
	})
}
