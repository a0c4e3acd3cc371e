package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, errCode string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{"success": errCode == "", "timestamp": time.Now().UTC()}
	if errCode != "" {
		resp["error"] = map[string]string{"code": errCode, "message": "failed"}
	} else {
		resp["data"] = data
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestHTTPNative_TakePendingEvents(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, map[string]any{
			"events": []json.RawMessage{json.RawMessage(`{"n":1}`), json.RawMessage(`{"n":2}`)},
		}, "")
	}))
	defer srv.Close()

	n := NewHTTPNative(srv.URL+"/", "runtime-token", nil, nil)
	bodies, err := n.TakePendingEvents(context.Background(), "push_received", true)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/events/push_received/take", gotPath)
	assert.Equal(t, "background=true", gotQuery)
	assert.Equal(t, "Bearer runtime-token", gotAuth)
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"n":1}`, string(bodies[0]))
	assert.JSONEq(t, `{"n":2}`, string(bodies[1]))
}

func TestHTTPNative_EmptyTakeIsNonNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{}, "")
	}))
	defer srv.Close()

	bodies, err := NewHTTPNative(srv.URL, "t", nil, nil).TakePendingEvents(context.Background(), "deep_link", false)
	require.NoError(t, err)
	assert.NotNil(t, bodies)
	assert.Empty(t, bodies)
}

func TestHTTPNative_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, nil, "UNKNOWN_EVENT")
	}))
	defer srv.Close()

	_, err := NewHTTPNative(srv.URL, "t", nil, nil).TakePendingEvents(context.Background(), "nope", false)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "UNKNOWN_EVENT")
}

func TestHTTPNative_OnListenerAdded(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		writeEnvelope(w, http.StatusOK, map[string]string{"name": "deep_link"}, "")
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPNative(srv.URL, "t", nil, nil).OnListenerAdded(context.Background(), "deep_link"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/listeners/deep_link", gotPath)
}

func TestReadFrames(t *testing.T) {
	stream := strings.Join([]string{
		"event: connected",
		`data: {"runtime_id":"r1"}`,
		"",
		": comment line",
		"",
		"event: pending_events",
		"data:",
		"",
		"event: heartbeat",
		"data: {}",
		"",
		"event: pending_background_events",
		"data:",
		"",
		"event: truncated",
	}, "\n")

	var frames []string
	err := readFrames(strings.NewReader(stream), func(frame string) {
		frames = append(frames, frame)
	})

	assert.Error(t, err)
	assert.Equal(t, []string{"connected", "pending_events", "heartbeat", "pending_background_events"}, frames)
}

// Listen turns stream frames into drains against the same HTTP bridge.
func TestHTTPNative_ListenDrivesDrains(t *testing.T) {
	var mu sync.Mutex
	pending := map[string][]json.RawMessage{
		"deep_link?background=false":     {json.RawMessage(`{"deepLink":"a"}`)},
		"push_received?background=true": {json.RawMessage(`{"pushPayload":{"extras":{}}}`)},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/listeners/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"name": r.PathValue("name")}, "")
	})
	mux.HandleFunc("POST /api/v1/events/{name}/take", func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("%s?background=%s", r.PathValue("name"), r.URL.Query().Get("background"))
		mu.Lock()
		out := pending[key]
		delete(pending, key)
		mu.Unlock()
		if out == nil {
			out = []json.RawMessage{}
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"events": out}, "")
	})
	mux.HandleFunc("GET /api/v1/runtime/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: pending_events\ndata:\n\n")
		fmt.Fprint(w, "event: pending_background_events\ndata:\n\n")
		w.(http.Flusher).Flush()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	native := NewHTTPNative(srv.URL, "t", nil, nil)
	e := New(native, Options{})
	defer e.Close()

	fg, bg := &recorder{}, &recorder{}
	e.AddListener(context.Background(), "deep_link", fg.listener())
	e.AddListener(context.Background(), "push_received", bg.listener())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = native.Listen(ctx, e)
	settle(t, e)

	assert.Equal(t, []string{`{"deepLink":"a"}`}, fg.got())
	assert.Equal(t, []string{`{"pushPayload":{"extras":{}}}`}, bg.got())
}
