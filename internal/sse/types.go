// Package sse streams payload-free "events are pending" frames to remote
// runtimes. A runtime reacts to a frame by pulling from the bridge API.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/welldanyogia/event-bridge/backend/internal/metrics"
)

// Control frame names. The pending frames are defined in package events.
const (
	FrameConnected       = "connected"
	FrameHeartbeat       = "heartbeat"
	FrameConnectionLimit = "connection_limit"
)

// Config holds SSE server configuration.
type Config struct {
	HeartbeatInterval        time.Duration // Default: 30 seconds
	ConnectionTimeout        time.Duration // Default: 1 hour
	MaxConnectionsPerRuntime int           // Default: 4
	// BackgroundPollInterval is how often the background task checks whether
	// the runtimes have emptied the background bucket. Default: 100ms.
	BackgroundPollInterval time.Duration
}

// DefaultConfig returns the default SSE configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:        30 * time.Second,
		ConnectionTimeout:        1 * time.Hour,
		MaxConnectionsPerRuntime: 4,
		BackgroundPollInterval:   100 * time.Millisecond,
	}
}

// Frame is one SSE message. Data is optional.
type Frame struct {
	ID   string
	Name string
	Data json.RawMessage
}

// Format renders the frame in text/event-stream format.
func (f Frame) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", f.Name)
	fmt.Fprintf(&b, "data: %s\n", string(f.Data))
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	b.WriteString("\n")
	return b.String()
}

// NewFrame builds a frame with a JSON-encoded payload.
func NewFrame(name string, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return Frame{ID: uuid.New().String(), Name: name, Data: data}
}

// Connection represents an active SSE connection.
type Connection struct {
	ID        string
	RuntimeID string
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
	CreatedAt time.Time

	mu       sync.Mutex // serializes writes with Close and guards lastPing
	lastPing time.Time
	once     sync.Once
}

// NewConnection creates a new SSE connection.
func NewConnection(id, runtimeID string, w http.ResponseWriter) (*Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported
	}

	now := time.Now()
	return &Connection{
		ID:        id,
		RuntimeID: runtimeID,
		Writer:    w,
		Flusher:   flusher,
		Done:      make(chan struct{}),
		CreatedAt: now,
		lastPing:  now,
	}, nil
}

// Send writes one frame and flushes it. It fails once Close has returned.
func (c *Connection) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return ErrConnectionClosed
	}
	if _, err := fmt.Fprint(c.Writer, frame.Format()); err != nil {
		return err
	}
	c.Flusher.Flush()
	metrics.SSEEventsPublished.WithLabelValues(frame.Name).Inc()
	return nil
}

// Touch records that the connection accepted a write.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// LastPing returns the time of the last successful heartbeat.
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// Close closes the connection. It waits for a write in progress, so no
// frame reaches the writer after it returns.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.once.Do(func() { close(c.Done) })
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}
