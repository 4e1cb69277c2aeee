package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

// VersionRecord is the durable current-version value. The executor is its only writer.
type VersionRecord interface {
	Current(ctx context.Context) (emver.Version, error)
	Checkpoint(ctx context.Context, v emver.Version) error
}

// Observer receives per-step progress; implementations must not block.
type Observer interface {
	RunStarted(runID string, path Path)
	StepStarted(runID string, step Step)
	StepCompleted(runID string, step Step, d time.Duration)
	StepFailed(runID string, step Step, err error)
	RunFinished(runID string, reached emver.Version, err error)
}

type noopObserver struct{}

func (noopObserver) RunStarted(string, Path)                   {}
func (noopObserver) StepStarted(string, Step)                  {}
func (noopObserver) StepCompleted(string, Step, time.Duration) {}
func (noopObserver) StepFailed(string, Step, error)            {}
func (noopObserver) RunFinished(string, emver.Version, error)  {}

// StepFailedError reports the step that stopped a migration run. The version
// record stays at the last completed step's target.
type StepFailedError struct {
	Step  Step
	Cause error
	err   *errors.ClassifiedError
}

func newStepFailed(step Step, cause error) *StepFailedError {
	return &StepFailedError{
		Step:  step,
		Cause: cause,
		err: errors.MigrationError("migration step failed").
			WithContext("step", step.Name()).
			WithCause(cause).
			Build(),
	}
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("migration step %s failed: %v", e.Step.Name(), e.Cause)
}

// Unwrap exposes the classified error, which in turn wraps the cause.
func (e *StepFailedError) Unwrap() error {
	return e.err
}

// ErrPathMismatch means a path does not start at the recorded version.
var ErrPathMismatch = errors.MigrationError("migration path does not start at the current version").Build()

// ErrInterrupted means the run was cancelled between steps.
var ErrInterrupted = errors.MigrationError("migration interrupted").Build()

// Executor applies migration paths one step at a time.
type Executor struct {
	record   VersionRecord
	device   *Device
	observer Observer
	logger   *slog.Logger
	newRunID func() string
	dryRun   bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver attaches a progress observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger overrides the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRunIDFunc overrides run id generation.
func WithRunIDFunc(fn func() string) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.newRunID = fn
		}
	}
}

// WithDryRun makes Run log the steps it would apply and change nothing.
func WithDryRun() ExecutorOption {
	return func(e *Executor) { e.dryRun = true }
}

// NewExecutor creates an executor that checkpoints into record.
func NewExecutor(record VersionRecord, device *Device, opts ...ExecutorOption) *Executor {
	e := &Executor{
		record:   record,
		device:   device,
		observer: noopObserver{},
		logger:   slog.Default(),
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.device != nil && e.device.Logger == nil {
		e.device.Logger = e.logger
	}
	return e
}

// Run applies path strictly in order. After each step succeeds its target is
// checkpointed before the next step starts. On failure Run stops without
// rolling back and returns a *StepFailedError for the failing step.
func (e *Executor) Run(ctx context.Context, path Path) (emver.Version, error) {
	current, err := e.record.Current(ctx)
	if err != nil {
		return emver.Version{}, err
	}
	if len(path) == 0 {
		return current, nil
	}
	if !path[0].From.Equal(current) {
		return current, errors.MigrationError(ErrPathMismatch.Message()).
			WithContext("current", current.String()).
			WithContext("from", path[0].From.String()).
			Build()
	}
	if err := path.validate(); err != nil {
		return current, err
	}

	target := path[len(path)-1].To
	if e.dryRun {
		for i, step := range path {
			e.logger.Info("Would apply migration step", logfields.Step(step.Name()), slog.Int("index", i+1), slog.String("description", step.Description))
		}
		return current, nil
	}

	runID := e.newRunID()
	e.logger.Info("Starting migration",
		logfields.RunID(runID),
		logfields.FromVersion(current.String()),
		logfields.ToVersion(target.String()),
		slog.Int("steps", len(path)))
	e.observer.RunStarted(runID, path)

	reached, err := e.runSteps(ctx, runID, current, path)
	e.observer.RunFinished(runID, reached, err)
	if err == nil {
		e.logger.Info("Migration completed", logfields.RunID(runID), logfields.Version(reached.String()))
	}
	return reached, err
}

func (e *Executor) runSteps(ctx context.Context, runID string, current emver.Version, path Path) (emver.Version, error) {
	for _, step := range path {
		if ctx.Err() != nil {
			return current, errors.MigrationError(ErrInterrupted.Message()).
				WithContext("version", current.String()).
				WithCause(ctx.Err()).
				Build()
		}

		e.observer.StepStarted(runID, step)
		started := time.Now()
		e.logger.Info("Applying migration step", logfields.RunID(runID), logfields.Step(step.Name()))

		if err := e.apply(ctx, step); err != nil {
			failure := newStepFailed(step, err)
			e.observer.StepFailed(runID, step, err)
			e.logger.Error("Migration step failed",
				logfields.RunID(runID),
				logfields.Step(step.Name()),
				logfields.Version(current.String()),
				logfields.Error(err))
			return current, failure
		}
		// A completed step is recorded even if ctx was cancelled while it ran.
		if err := e.record.Checkpoint(context.WithoutCancel(ctx), step.To); err != nil {
			// The action ran but its completion was not recorded; it will be re-applied.
			failure := newStepFailed(step, fmt.Errorf("checkpoint %s: %w", step.To, err))
			e.observer.StepFailed(runID, step, failure.Cause)
			return current, failure
		}

		current = step.To
		elapsed := time.Since(started)
		e.observer.StepCompleted(runID, step, elapsed)
		e.logger.Info("Migration step completed",
			logfields.RunID(runID),
			logfields.Step(step.Name()),
			logfields.DurationMS(elapsed))
	}
	return current, nil
}

func (e *Executor) apply(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in migration action: %v", r)
		}
	}()
	return step.Apply(ctx, e.device)
}

// Observers fans progress out to several observers in order.
type Observers []Observer

func (o Observers) RunStarted(runID string, path Path) {
	for _, obs := range o {
		obs.RunStarted(runID, path)
	}
}

func (o Observers) StepStarted(runID string, step Step) {
	for _, obs := range o {
		obs.StepStarted(runID, step)
	}
}

func (o Observers) StepCompleted(runID string, step Step, d time.Duration) {
	for _, obs := range o {
		obs.StepCompleted(runID, step, d)
	}
}

func (o Observers) StepFailed(runID string, step Step, err error) {
	for _, obs := range o {
		obs.StepFailed(runID, step, err)
	}
}

func (o Observers) RunFinished(runID string, reached emver.Version, err error) {
	for _, obs := range o {
		obs.RunFinished(runID, reached, err)
	}
}
