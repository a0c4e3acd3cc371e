package emitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

// ErrRemote is wrapped around error responses from the bridge API.
var ErrRemote = errors.New("emitter: bridge API error")

// HTTPNative talks to a bridge served over the HTTP API. It authenticates
// with a runtime token.
type HTTPNative struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPNative creates a client for the bridge at baseURL. A nil client uses
// one with a 30 second timeout; the stream in Listen is not subject to it.
func NewHTTPNative(baseURL, token string, client *http.Client, logger *slog.Logger) *HTTPNative {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPNative{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		logger:  logger,
	}
}

// apiResponse mirrors the server's response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type takeResponse struct {
	Events []json.RawMessage `json:"events"`
}

// OnListenerAdded calls POST /api/v1/listeners/{name}.
func (n *HTTPNative) OnListenerAdded(ctx context.Context, name string) error {
	_, err := n.post(ctx, "/api/v1/listeners/"+url.PathEscape(name), nil)
	return err
}

// TakePendingEvents calls POST /api/v1/events/{name}/take.
func (n *HTTPNative) TakePendingEvents(ctx context.Context, name string, isBackground bool) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("background", strconv.FormatBool(isBackground))

	data, err := n.post(ctx, "/api/v1/events/"+url.PathEscape(name)+"/take", q)
	if err != nil {
		return nil, err
	}

	var resp takeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("emitter: decode take response: %w", err)
	}
	if resp.Events == nil {
		resp.Events = []json.RawMessage{}
	}
	return resp.Events, nil
}

func (n *HTTPNative) post(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u := n.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("emitter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Accept", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emitter: POST %s: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("emitter: read %s response: %w", path, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("emitter: decode %s response (status %d): %w", path, res.StatusCode, err)
	}
	if res.StatusCode >= 300 || !envelope.Success {
		if envelope.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrRemote, envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRemote, res.StatusCode)
	}
	return envelope.Data, nil
}

// Listen opens the runtime signal stream and turns its frames into drain
// requests on em until ctx is done or the stream ends. The connected frame
// also triggers a foreground drain to pick up anything queued while the
// runtime was away.
func (n *HTTPNative) Listen(ctx context.Context, em *Emitter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/api/v1/runtime/stream", http.NoBody)
	if err != nil {
		return fmt.Errorf("emitter: build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any client timeout.
	client := *n.client
	client.Timeout = 0

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("emitter: open stream: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: stream status %d", ErrRemote, res.StatusCode)
	}

	n.logger.Info("runtime stream connected", slog.String("url", n.baseURL))

	return readFrames(res.Body, func(frame string) {
		switch frame {
		case "connected", events.FramePendingEvents:
			_ = em.Signal(ctx)
		case events.FramePendingBackgroundEvents:
			_ = em.SignalBackground(ctx)
		}
	})
}

// readFrames calls fn with the event name of every complete SSE frame.
func readFrames(r io.Reader, fn func(frame string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var frame string
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if frame != "" {
				fn(frame)
			}
			frame = ""
		case bytes.HasPrefix(line, []byte("event:")):
			frame = strings.TrimSpace(string(line[len("event:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("emitter: read stream: %w", err)
	}
	return io.EOF
}
