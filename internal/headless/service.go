package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/welldanyogia/event-bridge/backend/internal/metrics"
)

// WakeResult reports what a Wake call did.
type WakeResult int

const (
	// WakeStarted means a new task run was started.
	WakeStarted WakeResult = iota
	// WakeCoalesced means a run was already in flight; it will check for
	// pending work again when it finishes.
	WakeCoalesced
	// WakeUnavailable means no run can happen: the service is disabled,
	// closed, or has no task registered.
	WakeUnavailable
)

// String returns the result name used in logs and metric labels.
func (r WakeResult) String() string {
	switch r {
	case WakeStarted:
		return "started"
	case WakeCoalesced:
		return "coalesced"
	default:
		return "unavailable"
	}
}

// PendingFunc reports whether background work is still waiting. The service
// consults it before re-running a coalesced task.
type PendingFunc func() bool

// Config holds headless service configuration
type Config struct {
	Enabled     bool
	TaskKey     string
	TaskTimeout time.Duration
}

// DefaultConfig returns the default headless configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		TaskKey:     DefaultTaskKey,
		TaskTimeout: 60 * time.Second,
	}
}

// Service runs the registered background task in a single slot.
type Service struct {
	config   Config
	registry *Registry
	pending  PendingFunc
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	recheck bool
	closed  bool
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
	runs    atomic.Int64
}

// NewService creates a headless service. pending may be nil, in which case a
// coalesced wake always re-runs the task.
func NewService(registry *Registry, pending PendingFunc, config Config, logger *slog.Logger) *Service {
	if config.TaskKey == "" {
		config.TaskKey = DefaultTaskKey
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:   config,
		registry: registry,
		pending:  pending,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Wake requests a background run. It never blocks on the task.
func (s *Service) Wake() WakeResult {
	result := s.wake()
	metrics.Wakes.WithLabelValues(result.String()).Inc()
	return result
}

func (s *Service) wake() WakeResult {
	if !s.config.Enabled || s.registry == nil {
		return WakeUnavailable
	}
	if _, err := s.registry.Lookup(s.config.TaskKey); err != nil {
		s.logger.Debug("headless wake skipped",
			slog.String("task", s.config.TaskKey),
			slog.String("reason", err.Error()),
		)
		return WakeUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return WakeUnavailable
	}
	if s.running {
		s.recheck = true
		return WakeCoalesced
	}

	s.running = true
	s.wg.Add(1)
	go s.loop()
	return WakeStarted
}

// loop runs the task until no coalesced wake remains.
func (s *Service) loop() {
	defer s.wg.Done()

	for {
		provider, err := s.registry.Lookup(s.config.TaskKey)
		if err == nil {
			s.runOnce(provider)
		}

		s.mu.Lock()
		again := err == nil && s.recheck && !s.closed
		s.recheck = false
		if again && s.pending != nil && !s.pending() {
			again = false
		}
		if !again {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *Service) runOnce(provider TaskProvider) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.config.TaskTimeout)
	defer cancel()

	run := s.runs.Add(1)
	start := time.Now()
	err := runTask(ctx, provider)
	duration := time.Since(start)

	outcome := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.HeadlessTaskDuration.WithLabelValues(outcome).Observe(duration.Seconds())

	attrs := []any{
		slog.String("task", s.config.TaskKey),
		slog.Int64("run", run),
		slog.Duration("duration", duration),
		slog.String("outcome", outcome),
	}
	if err != nil {
		s.logger.Warn("headless task failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	s.logger.Debug("headless task finished", attrs...)
}

func runTask(ctx context.Context, provider TaskProvider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("headless: task panicked: %v", r)
		}
	}()

	task := provider()
	if task == nil {
		return ErrTaskNotRegistered
	}
	return task(ctx)
}

// Running reports whether a task run is in flight.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Runs returns how many task runs have started.
func (s *Service) Runs() int64 {
	return s.runs.Load()
}

// Wait blocks until no run is in flight or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting wakes and cancels the running task's context.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
