package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject used when none is configured.
const DefaultNATSSubject = "bridge.pending_events"

// NATS publishes an empty message on a subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *slog.Logger

	closeOnce sync.Once
}

// ConnectNATS dials url and returns a notifier that owns the connection.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("event-bridge"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n := NewNATS(conn, subject, logger)
	n.owned = true
	n.logger.Info("NATS notifier initialized",
		slog.String("url", url),
		slog.String("subject", n.subject),
	)
	return n, nil
}

// NewNATS wraps an existing connection. The caller keeps ownership.
func NewNATS(conn *nats.Conn, subject string, logger *slog.Logger) *NATS {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{conn: conn, subject: subject, logger: logger}
}

// Signal publishes a message with no payload.
func (n *NATS) Signal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.conn.IsClosed() {
		return ErrClosed
	}
	if err := n.conn.Publish(n.subject, nil); err != nil {
		return fmt.Errorf("nats notifier: publish to %s: %w", n.subject, err)
	}
	n.logger.Debug("published pending signal",
		slog.String("transport", "nats"),
		slog.String("subject", n.subject),
	)
	return nil
}

// Subscribe calls fn for every signal on the subject until ctx is cancelled.
func (n *NATS) Subscribe(ctx context.Context, fn func(ctx context.Context)) error {
	ch := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(n.subject, ch)
	if err != nil {
		return fmt.Errorf("nats notifier: subscribe to %s: %w", n.subject, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			fn(ctx)
		}
	}
}

// Conn returns the underlying connection, for health checks.
func (n *NATS) Conn() *nats.Conn {
	return n.conn
}

// Close drains the connection if this notifier opened it.
func (n *NATS) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if n.owned {
			err = n.conn.Drain()
		}
	})
	return err
}
