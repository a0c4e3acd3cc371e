package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/welldanyogia/event-bridge/backend/internal/emitter"
	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/notifier"
)

// ListenCmd implements the 'listen' command.
type ListenCmd struct {
	URL   string   `help:"Bridge base URL" default:"http://localhost:8080"`
	Token string   `help:"Runtime token" env:"BRIDGE_TOKEN" required:""`
	Names []string `help:"Routing names to listen for; all known names when empty" sep:","`

	RedisAddr    string `name:"redis-addr" help:"Also follow pending signals published on Redis"`
	RedisChannel string `name:"redis-channel" help:"Redis signal channel" default:"bridge:pending_events"`
	NATSURL      string `name:"nats-url" help:"Also follow pending signals published on NATS"`
	NATSSubject  string `name:"nats-subject" help:"NATS signal subject" default:"bridge.pending_events"`

	MaxBackoff time.Duration `name:"max-backoff" help:"Longest wait between stream reconnects" default:"30s"`
}

// delivery is one line of output.
type delivery struct {
	Name string          `json:"name"`
	Body json.RawMessage `json:"body"`
	At   time.Time       `json:"at"`
}

// Run follows the bridge until SIGINT or SIGTERM, printing each delivered
// body as a JSON line on stdout.
func (c *ListenCmd) Run(g *Globals) error {
	log := g.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names := c.Names
	if len(names) == 0 {
		names = events.KnownNames()
	}

	native := emitter.NewHTTPNative(c.URL, c.Token, nil, log)
	em := emitter.New(native, emitter.Options{
		Logger: log,
		ErrorHandler: func(name string, err error) {
			log.Error("listener failed", slog.String("event_name", name), slog.String("error", err.Error()))
		},
	})
	defer em.Close()

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	for _, name := range names {
		em.AddListener(ctx, name, func(_ context.Context, body json.RawMessage) error {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(delivery{Name: name, Body: body, At: time.Now().UTC()})
		})
	}
	log.Info("listening", slog.String("url", c.URL), slog.Any("names", names))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.follow(gctx, native, em, log)
	})

	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		defer client.Close()
		sub := notifier.NewRedis(client, c.RedisChannel, log)
		group.Go(func() error {
			return sub.Subscribe(gctx, func(ctx context.Context) { _ = em.Signal(ctx) })
		})
	}
	if c.NATSURL != "" {
		sub, err := notifier.ConnectNATS(c.NATSURL, c.NATSSubject, log)
		if err != nil {
			return err
		}
		defer sub.Close()
		group.Go(func() error {
			return sub.Subscribe(gctx, func(ctx context.Context) { _ = em.Signal(ctx) })
		})
	}

	err := group.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = em.Wait(waitCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// follow keeps the runtime stream open, reconnecting with exponential backoff
// until ctx is done.
func (c *ListenCmd) follow(ctx context.Context, native *emitter.HTTPNative, em *emitter.Emitter, log *slog.Logger) error {
	backoff := time.Second
	for {
		started := time.Now()
		err := native.Listen(ctx, em)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A stream that stayed up for a while resets the backoff.
		if time.Since(started) > c.MaxBackoff {
			backoff = time.Second
		}
		attrs := []any{slog.Duration("retry_in", backoff)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		log.Warn("runtime stream closed", attrs...)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}
