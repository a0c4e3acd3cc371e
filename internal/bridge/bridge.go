// Package bridge is the native side of event delivery. It owns the pending
// store and decides, per event, whether to signal the interactive runtime or
// wake the headless task. Runtimes pull events with TakePendingEvents.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/headless"
	"github.com/welldanyogia/event-bridge/backend/internal/metrics"
	"github.com/welldanyogia/event-bridge/backend/internal/notifier"
)

// Bridge errors
var (
	ErrUnknownEvent    = errors.New("bridge: unknown event name")
	ErrInvalidPlatform = errors.New("bridge: invalid platform")
)

// Platform selects the delivery model.
type Platform string

const (
	// PlatformAndroid keeps two buckets: foreground events signal the
	// runtime, background events wake the headless task.
	PlatformAndroid Platform = "android"
	// PlatformIOS has a single runtime that drains both buckets; every
	// event signals and nothing is woken.
	PlatformIOS Platform = "ios"
)

// ParsePlatform parses a platform name, case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformAndroid:
		return PlatformAndroid, nil
	case PlatformIOS:
		return PlatformIOS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, s)
}

// Waker starts the headless drain. *headless.Service implements it.
type Waker interface {
	Wake() headless.WakeResult
}

// Options configures a Bridge.
type Options struct {
	Platform Platform
	// Waker is used for background events on PlatformAndroid. Nil means
	// background events wait until a listener is added or the host resumes.
	Waker Waker
	// Transports are always signalled, in addition to the attached runtime.
	Transports []notifier.Notifier
	// SignalTimeout bounds a single signal delivery. Default: 2 seconds.
	SignalTimeout time.Duration
	Logger        *slog.Logger
}

// Bridge connects the pending store to the runtimes that drain it.
type Bridge struct {
	store         *events.PendingStore
	platform      Platform
	waker         Waker
	transports    notifier.Notifier
	signalTimeout time.Duration
	logger        *slog.Logger

	mu       sync.RWMutex
	runtime  notifier.Notifier
	listened map[string]struct{}

	// signal is single-flight: one goroutine delivers, later requests
	// while it runs collapse into one more delivery.
	sigMu      sync.Mutex
	signalling bool
	resignal   bool
	sigWG      sync.WaitGroup
}

// New creates a bridge over store.
func New(store *events.PendingStore, opts Options) *Bridge {
	if opts.Platform == "" {
		opts.Platform = PlatformAndroid
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Bridge{
		store:         store,
		platform:      opts.Platform,
		signalTimeout: opts.SignalTimeout,
		logger:        opts.Logger,
		listened:      make(map[string]struct{}),
	}
	if len(opts.Transports) > 0 {
		b.transports = notifier.Combine(opts.Transports...)
	}
	if opts.Platform == PlatformAndroid {
		b.waker = opts.Waker
	}
	return b
}

// Platform returns the delivery model in use.
func (b *Bridge) Platform() Platform {
	return b.platform
}

// Enqueue stores the event and notifies the path matching its classification.
// It never fails and never waits on the runtime or a transport. A background
// event for a name no listener has registered wakes nothing; the wake happens
// when that listener is added.
func (b *Bridge) Enqueue(event events.Event) {
	res := b.store.Enqueue(event)

	metrics.EventsEnqueued.WithLabelValues(event.Name, res.Bucket.String()).Inc()
	if res.Dropped > 0 {
		metrics.EventsDropped.WithLabelValues(event.Name).Add(float64(res.Dropped))
	}

	b.logger.Debug("event enqueued",
		slog.String("event_name", event.Name),
		slog.String("event_id", event.ID),
		slog.String("bucket", res.Bucket.String()),
		slog.Int("pending", res.PendingCount),
	)

	if b.platform == PlatformIOS || res.Bucket == events.ForegroundBucket {
		b.signal()
		return
	}
	if b.isListened(event.Name) {
		b.wake()
	}
}

// AttachRuntime sets the interactive runtime to signal. If foreground events
// are already waiting it is signalled once right away.
func (b *Bridge) AttachRuntime(n notifier.Notifier) {
	b.mu.Lock()
	b.runtime = n
	b.mu.Unlock()

	if b.hasForegroundWork() {
		b.signal()
	}
}

// DetachRuntime clears the interactive runtime. Events keep accumulating.
func (b *Bridge) DetachRuntime() {
	b.mu.Lock()
	b.runtime = nil
	b.mu.Unlock()
}

// OnListenerAdded is called when a runtime registers a listener for name.
// The name joins the listened set, and anything already buffered for it
// triggers the matching delivery path.
func (b *Bridge) OnListenerAdded(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !events.IsKnownName(name) {
		b.logger.Debug("listener added for unknown event", slog.String("event_name", name))
		return nil
	}

	b.mu.Lock()
	b.listened[name] = struct{}{}
	b.mu.Unlock()

	if b.platform == PlatformIOS {
		if b.store.HasPending(name, events.ForegroundBucket) || b.store.HasPending(name, events.BackgroundBucket) {
			b.signal()
		}
		return nil
	}

	if b.store.HasPending(name, events.ForegroundBucket) {
		b.signal()
	}
	if b.store.HasPending(name, events.BackgroundBucket) {
		b.wake()
	}
	return nil
}

// TakePendingEvents returns and clears the bodies pending for name, in arrival
// order. isBackground selects the bucket; it is ignored on PlatformIOS, where
// both buckets are taken together.
func (b *Bridge) TakePendingEvents(ctx context.Context, name string, isBackground bool) ([]json.RawMessage, error) {
	if !events.IsKnownName(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var taken []events.Event
	if b.platform == PlatformIOS {
		taken = b.store.TakeAll(name)
	} else {
		taken = b.store.Take(name, events.BucketFor(isBackground))
	}

	bodies := make([]json.RawMessage, 0, len(taken))
	for _, e := range taken {
		bodies = append(bodies, e.Body)
		metrics.EventsTaken.WithLabelValues(e.Name, e.Classification.Bucket().String()).Inc()
	}

	if len(taken) > 0 {
		b.logger.Debug("events taken",
			slog.String("event_name", name),
			slog.Bool("background", isBackground),
			slog.Int("count", len(taken)),
		)
	}
	return bodies, nil
}

// OnHostResume is called when the host app returns to the foreground.
func (b *Bridge) OnHostResume() {
	if b.hasForegroundWork() {
		b.signal()
	}
	if b.HasBackgroundPending() {
		b.wake()
	}
}

// HasPending reports whether name has events waiting in either bucket.
func (b *Bridge) HasPending(name string) bool {
	return b.store.HasPending(name, events.ForegroundBucket) ||
		b.store.HasPending(name, events.BackgroundBucket)
}

// HasForegroundPending reports whether the interactive runtime has work.
func (b *Bridge) HasForegroundPending() bool {
	return b.hasForegroundWork()
}

// HasBackgroundPending reports whether the headless task has work: a
// background event for a name some listener has registered. It is the
// headless service's pending check. Events for unlistened names never count,
// since no drain would take them.
func (b *Bridge) HasBackgroundPending() bool {
	if b.platform != PlatformAndroid {
		return false
	}
	names := b.ListenedNames()
	if len(names) == 0 {
		return false
	}
	return b.store.HasAnyBackgroundPending(names)
}

// ListenedNames returns the routing names listeners have registered, sorted.
func (b *Bridge) ListenedNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.listened))
	for name := range b.listened {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until no signal delivery is in flight or ctx is done.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.sigWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the pending counts.
func (b *Bridge) Stats() events.Stats {
	return b.store.Snapshot()
}

// hasForegroundWork reports whether a signal would find anything to take.
func (b *Bridge) hasForegroundWork() bool {
	if b.platform == PlatformIOS {
		return b.store.HasAny(events.ForegroundBucket) || b.store.HasAny(events.BackgroundBucket)
	}
	return b.store.HasAny(events.ForegroundBucket)
}

func (b *Bridge) isListened(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.listened[name]
	return ok
}

// signal asks for a delivery to the attached runtime and the transports and
// returns at once. Requests made while a delivery is in flight collapse into
// a single follow-up delivery.
func (b *Bridge) signal() {
	b.sigMu.Lock()
	defer b.sigMu.Unlock()

	if b.signalling {
		b.resignal = true
		metrics.SignalsSent.WithLabelValues("coalesced").Inc()
		return
	}
	b.signalling = true
	b.sigWG.Add(1)
	go b.signalLoop()
}

// signalLoop delivers until no coalesced request remains.
func (b *Bridge) signalLoop() {
	defer b.sigWG.Done()

	for {
		b.deliverSignal()

		b.sigMu.Lock()
		if !b.resignal {
			b.signalling = false
			b.sigMu.Unlock()
			return
		}
		b.resignal = false
		b.sigMu.Unlock()
	}
}

// deliverSignal notifies the attached runtime and the transports. Failures
// are logged and absorbed: the events stay in the store for the next pull.
func (b *Bridge) deliverSignal() {
	b.mu.RLock()
	runtime := b.runtime
	b.mu.RUnlock()

	target := notifier.Combine(runtime, b.transports)
	if _, ok := target.(notifier.Nop); ok {
		metrics.SignalsSent.WithLabelValues("skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.signalTimeout)
	defer cancel()

	if err := target.Signal(ctx); err != nil {
		metrics.SignalsSent.WithLabelValues("failed").Inc()
		b.logger.Debug("pending signal failed", slog.String("error", err.Error()))
		return
	}
	metrics.SignalsSent.WithLabelValues("sent").Inc()
}

func (b *Bridge) wake() {
	if b.waker == nil {
		b.logger.Debug("background events pending, no headless waker configured")
		return
	}
	result := b.waker.Wake()
	if result == headless.WakeUnavailable {
		b.logger.Debug("headless wake unavailable, background events stay pending")
	}
}
