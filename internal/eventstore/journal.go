package eventstore

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/migration"
	"git.home.luguber.info/inful/applianced/internal/notify"
)

const appendTimeout = 5 * time.Second

// Journal records migration progress and escalation alerts in a Store.
// It is a migration.Observer and a notify.Notifier. Observer callbacks cannot
// fail the run, so append errors there are only logged.
type Journal struct {
	store  Store
	logger *slog.Logger
}

// NewJournal wraps store.
func NewJournal(store Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: store, logger: logger}
}

// Store returns the underlying store.
func (j *Journal) Store() Store { return j.store }

// Record appends e.
func (j *Journal) Record(ctx context.Context, e Event) error {
	return j.store.Append(ctx, e)
}

func (j *Journal) recordDetached(runID, eventType string, payload any) {
	ev, err := NewEvent(runID, eventType, payload)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		err = j.Record(ctx, ev)
	}
	if err != nil {
		j.logger.Warn("Failed to journal event", logfields.RunID(runID), slog.String("type", eventType), logfields.Error(err))
	}
}

func (j *Journal) RunStarted(runID string, path migration.Path) {
	p := MigrationStartedPayload{}
	if len(path) > 0 {
		p.From = path[0].From.String()
		p.To = path[len(path)-1].To.String()
	}
	for _, s := range path {
		p.Steps = append(p.Steps, s.Name())
	}
	j.recordDetached(runID, TypeMigrationStarted, p)
}

func (j *Journal) StepStarted(runID string, step migration.Step) {
	j.recordDetached(runID, TypeMigrationStepStarted, StepPayload{Step: step.Name()})
}

func (j *Journal) StepCompleted(runID string, step migration.Step, d time.Duration) {
	j.recordDetached(runID, TypeMigrationStepCompleted, StepPayload{Step: step.Name(), DurationMS: d.Milliseconds()})
}

func (j *Journal) StepFailed(runID string, step migration.Step, err error) {
	j.recordDetached(runID, TypeMigrationStepFailed, StepPayload{Step: step.Name(), Error: err.Error()})
}

func (j *Journal) RunFinished(runID string, reached emver.Version, err error) {
	p := MigrationFinishedPayload{Version: reached.String()}
	if err != nil {
		p.Error = err.Error()
	}
	j.recordDetached(runID, TypeMigrationFinished, p)
}

// Notify journals an escalation alert under the alert id.
func (j *Journal) Notify(ctx context.Context, a notify.Alert) error {
	ev, err := NewEvent(a.ID, TypeTaskEscalated, TaskEscalatedPayload{
		AlertID:             a.ID,
		Task:                a.Task,
		Message:             a.Message,
		ConsecutiveFailures: a.ConsecutiveFailures,
		Error:               a.Error,
	})
	if err != nil {
		return err
	}
	return j.Record(ctx, ev)
}

// Prune removes events older than retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return j.store.Prune(ctx, time.Now().Add(-retention))
}
