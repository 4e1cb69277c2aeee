package daemon

import (
	"context"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

// Scheduler runs calendar-based maintenance jobs such as journal pruning.
// Health tasks belong to the Supervisor; this covers work that is due at a
// wall-clock time rather than after a period.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.DaemonError("create maintenance scheduler").WithCause(err).Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(context.Context) {
	s.logger.Info("Starting maintenance scheduler", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop(context.Context) error {
	s.logger.Info("Stopping maintenance scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		return errors.DaemonError("stop maintenance scheduler").WithCause(err).Build()
	}
	return nil
}

// ScheduleCron runs fn on the five-field cron expression expr and returns the job id.
// Overlapping runs of the same job are skipped.
func (s *Scheduler) ScheduleCron(name, expr string, fn func(context.Context) error) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(s.execute, name, fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", errors.ValidationError("invalid maintenance schedule").
			WithCause(err).
			WithContext("job", name).
			WithContext("cron", expr).
			Build()
	}
	return job.ID().String(), nil
}

// execute is called by gocron to run a maintenance job.
func (s *Scheduler) execute(name string, fn func(context.Context) error) {
	s.logger.Info("Running maintenance job", logfields.Task(name))
	if err := fn(context.Background()); err != nil {
		s.logger.Error("Maintenance job failed", logfields.Task(name), logfields.Error(err))
	}
}
