// Package events provides the event model and the pending-event store that
// buffers native SDK events until a JavaScript runtime takes them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Classification decides which bucket and delivery path an event takes.
type Classification int

const (
	// Foreground events are delivered to the interactive runtime after a signal.
	Foreground Classification = iota
	// Background events are delivered by the headless task after a wake.
	Background
)

// ErrInvalidClassification is returned when a classification string is not recognized.
var ErrInvalidClassification = errors.New("events: invalid classification")

// String returns the wire form of the classification.
func (c Classification) String() string {
	switch c {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// ParseClassification parses "foreground" or "background".
func ParseClassification(s string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foreground":
		return Foreground, nil
	case "background":
		return Background, nil
	default:
		return Foreground, fmt.Errorf("%w: %q", ErrInvalidClassification, s)
	}
}

// MarshalJSON encodes the classification as its string form.
func (c Classification) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "foreground" or "background".
func (c *Classification) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClassification(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Bucket returns the store bucket an event with this classification lives in.
func (c Classification) Bucket() Bucket {
	if c == Background {
		return BackgroundBucket
	}
	return ForegroundBucket
}

// Event is an immutable native SDK fact waiting to be delivered.
// Body is never modified after construction.
type Event struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Body           json.RawMessage `json:"body"`
	Classification Classification  `json:"classification"`
	Seq            uint64          `json:"-"` // assigned by the store
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent builds an Event from a typed body. The name and classification
// come from the body and are fixed from here on.
func NewEvent(body Body) (Event, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Event{}, fmt.Errorf("events: marshal %s body: %w", body.EventName(), err)
	}
	return Event{
		ID:             uuid.New().String(),
		Name:           body.EventName(),
		Body:           data,
		Classification: body.Classification(),
		Timestamp:      time.Now(),
	}, nil
}

// NewRawEvent builds an Event from an already encoded body. Used for
// producers outside this process that send the body over the wire.
func NewRawEvent(name string, body json.RawMessage, classification Classification) Event {
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	cp := make(json.RawMessage, len(body))
	copy(cp, body)
	return Event{
		ID:             uuid.New().String(),
		Name:           name,
		Body:           cp,
		Classification: classification,
		Timestamp:      time.Now(),
	}
}

// EnqueueResult describes what happened to an enqueued event.
type EnqueueResult struct {
	Bucket       Bucket
	Seq          uint64
	WasEmpty     bool // the bucket had nothing pending for the name before
	Dropped      int  // events evicted to stay under capacity
	PendingCount int  // events pending for the name in the bucket afterwards
}

// Stats is a point-in-time count of pending events.
type Stats struct {
	Foreground map[string]int `json:"foreground"`
	Background map[string]int `json:"background"`
	Dropped    uint64         `json:"dropped"`
}

// Total returns the number of pending events across both buckets.
func (s Stats) Total() int {
	total := 0
	for _, n := range s.Foreground {
		total += n
	}
	for _, n := range s.Background {
		total += n
	}
	return total
}
