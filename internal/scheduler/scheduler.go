// Package scheduler runs the bridge's periodic housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ErrInvalidInterval is returned for a non-positive job interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// New creates a scheduler. Jobs are added with Every and run after Start.
func New(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(_ uuid.UUID, name string, recoverData any) {
					logger.Error("scheduled job panicked",
						slog.String("job", name),
						slog.Any("panic", recoverData),
					)
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Every schedules fn to run every interval under name and returns the job id.
// A zero interval disables the job and returns an empty id.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) (string, error) {
	if interval == 0 {
		s.logger.Debug("scheduled job disabled", slog.String("job", name))
		return "", nil
	}
	if interval < 0 {
		return "", fmt.Errorf("%w: %s=%s", ErrInvalidInterval, name, interval)
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create job %s: %w", name, err)
	}

	s.logger.Debug("scheduled job",
		slog.String("job", name),
		slog.Duration("interval", interval),
	)
	return job.ID().String(), nil
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.scheduler.Shutdown() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
