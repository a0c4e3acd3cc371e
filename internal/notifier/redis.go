package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "bridge:pending_events"

// Redis publishes an empty message on a pub/sub channel. Runtimes in other
// processes subscribe to the channel and drain over the HTTP API.
type Redis struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedis creates a Redis notifier. The client is owned by the caller.
func NewRedis(client redis.UniversalClient, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, logger: logger}
}

// Signal publishes the empty signal message.
func (r *Redis) Signal(ctx context.Context) error {
	receivers, err := r.client.Publish(ctx, r.channel, "").Result()
	if err != nil {
		return fmt.Errorf("redis notifier: publish to %s: %w", r.channel, err)
	}
	r.logger.Debug("published pending signal",
		slog.String("transport", "redis"),
		slog.String("channel", r.channel),
		slog.Int64("receivers", receivers),
	)
	return nil
}

// Subscribe calls fn for every signal published on the channel until ctx is
// cancelled. It is the receiving half used by out-of-process runtimes.
func (r *Redis) Subscribe(ctx context.Context, fn func(ctx context.Context)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no signal is missed
	// between Subscribe returning and the first receive.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis notifier: subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			fn(ctx)
		}
	}
}
