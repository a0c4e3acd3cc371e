// Package emitter is the runtime side of event delivery. It keeps the
// listener registry, reacts to pending signals by pulling from the native
// bridge, and fans pulled events out to listeners.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/welldanyogia/event-bridge/backend/internal/events"
	"github.com/welldanyogia/event-bridge/backend/internal/headless"
	"github.com/welldanyogia/event-bridge/backend/internal/metrics"
)

// tracerName is the instrumentation scope for drain spans.
const tracerName = "github.com/welldanyogia/event-bridge/backend/internal/emitter"

// ErrListenerPanic wraps a panic recovered from a listener.
var ErrListenerPanic = errors.New("emitter: listener panicked")

// Listener receives one event body. A returned error is reported to the
// ErrorHandler and does not stop delivery to other listeners.
type Listener func(ctx context.Context, body json.RawMessage) error

// Native is the bridge as seen from the runtime. *bridge.Bridge implements
// it in-process; HTTPNative implements it over the HTTP API.
type Native interface {
	OnListenerAdded(ctx context.Context, name string) error
	TakePendingEvents(ctx context.Context, name string, isBackground bool) ([]json.RawMessage, error)
}

// ErrorHandler receives listener failures.
type ErrorHandler func(name string, err error)

// Options configures an Emitter.
type Options struct {
	Logger       *slog.Logger
	ErrorHandler ErrorHandler
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	// MaxConcurrentNames bounds how many routing names drain at once.
	// Default: 8.
	MaxConcurrentNames int
}

type entry struct {
	id uint64
	fn Listener
}

// Emitter dispatches pulled events to registered listeners.
//
// Drain cycles never overlap: one slot is shared by foreground and
// background drains. A signal that arrives while a drain for the same bucket
// is scheduled makes that drain run once more instead of queueing another.
type Emitter struct {
	native      Native
	logger      *slog.Logger
	onError     ErrorHandler
	tracer      trace.Tracer
	concurrency int

	mu        sync.Mutex
	listeners map[string][]entry
	nextID    uint64
	active    [2]bool // indexed by events.Bucket
	rerun     [2]bool

	slot    chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an emitter pulling from native.
func New(native Native, opts Options) *Emitter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.MaxConcurrentNames <= 0 {
		opts.MaxConcurrentNames = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		native:      native,
		logger:      opts.Logger,
		onError:     opts.ErrorHandler,
		tracer:      opts.Tracer,
		concurrency: opts.MaxConcurrentNames,
		listeners:   make(map[string][]entry),
		slot:        make(chan struct{}, 1),
		baseCtx:     ctx,
		cancel:      cancel,
	}
	return e
}

// AddListener registers fn for name and tells the bridge. Events buffered for
// name before this call are delivered without any new native event.
func (e *Emitter) AddListener(ctx context.Context, name string, fn Listener) *Subscription {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[name] = append(e.listeners[name], entry{id: id, fn: fn})
	e.mu.Unlock()

	if err := e.native.OnListenerAdded(ctx, name); err != nil {
		e.logger.Warn("listener added notification failed",
			slog.String("event_name", name),
			slog.String("error", err.Error()),
		)
	}

	// The bridge signals when it holds events for name, but a runtime that
	// is not attached yet would miss that signal. Pull anyway.
	e.requestDrain(events.ForegroundBucket)

	return &Subscription{
		name:    name,
		id:      id,
		emitter: e,
	}
}

func (e *Emitter) removeListener(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[name]
	for i, l := range current {
		if l.id != id {
			continue
		}
		// Build a new slice: drains hold snapshots of the old one.
		next := make([]entry, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return
	}
}

// RemoveAllListeners removes every listener for name.
func (e *Emitter) RemoveAllListeners(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, name)
}

// ListenerCount returns the number of listeners for name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// Names returns the routing names that have at least one listener, sorted.
func (e *Emitter) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signal requests a foreground drain and returns without waiting for it.
// It makes the emitter usable as the bridge's runtime notifier.
func (e *Emitter) Signal(ctx context.Context) error {
	if err := e.baseCtx.Err(); err != nil {
		return err
	}
	e.requestDrain(events.ForegroundBucket)
	return nil
}

// SignalBackground requests a background drain without waiting for it. A
// remote runtime uses it when the server asks it to act as the headless task.
func (e *Emitter) SignalBackground(ctx context.Context) error {
	if err := e.baseCtx.Err(); err != nil {
		return err
	}
	e.requestDrain(events.BackgroundBucket)
	return nil
}

func (e *Emitter) requestDrain(bucket events.Bucket) {
	e.mu.Lock()
	if e.active[bucket] {
		e.rerun[bucket] = true
		e.mu.Unlock()
		return
	}
	e.active[bucket] = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.drainLoop(bucket)
}

func (e *Emitter) drainLoop(bucket events.Bucket) {
	defer e.wg.Done()

	for {
		if err := e.Drain(e.baseCtx, bucket == events.BackgroundBucket); err != nil {
			e.logger.Warn("drain incomplete",
				slog.String("bucket", bucket.String()),
				slog.String("error", err.Error()),
			)
		}

		e.mu.Lock()
		if !e.rerun[bucket] || e.baseCtx.Err() != nil {
			e.active[bucket] = false
			e.rerun[bucket] = false
			e.mu.Unlock()
			return
		}
		e.rerun[bucket] = false
		e.mu.Unlock()
	}
}

// Drain runs one drain cycle over every routing name with listeners.
// Names drain concurrently; within a name each listener receives the taken
// bodies in order. A failed pull abandons that name for this cycle and the
// events stay pending; the failures are joined into the returned error.
func (e *Emitter) Drain(ctx context.Context, isBackground bool) error {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.slot }()

	bucket := events.BucketFor(isBackground).String()
	ctx, span := e.tracer.Start(ctx, "emitter.drain",
		trace.WithAttributes(attribute.String("bridge.bucket", bucket)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	snapshot := e.snapshot()
	span.SetAttributes(attribute.Int("bridge.names", len(snapshot)))

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		pullErr []error
	)
	g.SetLimit(e.concurrency)

	for name, listeners := range snapshot {
		g.Go(func() error {
			if err := e.deliver(ctx, name, listeners, isBackground); err != nil {
				errMu.Lock()
				pullErr = append(pullErr, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(pullErr...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DrainCycles.WithLabelValues(bucket, "partial").Inc()
	} else {
		span.SetStatus(codes.Ok, "")
		metrics.DrainCycles.WithLabelValues(bucket, "complete").Inc()
	}
	return err
}

func (e *Emitter) snapshot() map[string][]entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]entry, len(e.listeners))
	for name, ls := range e.listeners {
		if len(ls) > 0 {
			out[name] = ls
		}
	}
	return out
}

// deliver takes the pending bodies for name once and hands them to each
// listener in registration order.
func (e *Emitter) deliver(ctx context.Context, name string, listeners []entry, isBackground bool) error {
	ctx, span := e.tracer.Start(ctx, "emitter.deliver",
		trace.WithAttributes(
			attribute.String("bridge.event_name", name),
			attribute.Bool("bridge.background", isBackground),
			attribute.Int("bridge.listeners", len(listeners)),
		),
	)
	defer span.End()

	bodies, err := e.native.TakePendingEvents(ctx, name, isBackground)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("take %s: %w", name, err)
	}
	span.SetAttributes(attribute.Int("bridge.events", len(bodies)))
	if len(bodies) == 0 {
		return nil
	}

	for _, l := range listeners {
		for _, body := range bodies {
			if err := callListener(ctx, l.fn, body); err != nil {
				e.reportListenerError(name, err)
			}
		}
	}
	return nil
}

func callListener(ctx context.Context, fn Listener, body json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	return fn(ctx, body)
}

func (e *Emitter) reportListenerError(name string, err error) {
	metrics.ListenerErrors.WithLabelValues(name).Inc()
	e.logger.Error("listener failed",
		slog.String("event_name", name),
		slog.String("error", err.Error()),
	)
	if e.onError != nil {
		e.onError(name, err)
	}
}

// HeadlessTask returns the background drain run by the headless service.
func (e *Emitter) HeadlessTask() headless.Task {
	return func(ctx context.Context) error {
		return e.Drain(ctx, true)
	}
}

// RegisterHeadlessTask registers the background drain under the default key.
func (e *Emitter) RegisterHeadlessTask(registry *headless.Registry) {
	registry.RegisterTask(headless.DefaultTaskKey, e.HeadlessTask)
}

// Wait blocks until no signalled drain is scheduled or ctx is done.
func (e *Emitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops scheduling drains and cancels any drain in flight.
func (e *Emitter) Close() {
	e.cancel()
}
