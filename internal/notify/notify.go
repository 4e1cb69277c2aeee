// Package notify delivers escalation alerts raised by the supervisor.
package notify

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/applianced/internal/logfields"
)

// Alert reports a task that keeps failing.
type Alert struct {
	ID                  string    `json:"id"`
	Task                string    `json:"task"`
	Message             string    `json:"message"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Error               string    `json:"error,omitempty"`
	Time                time.Time `json:"time"`
}

// NewAlert stamps an alert with a fresh id and the current time.
func NewAlert(task, message string, failures int, cause error) Alert {
	a := Alert{
		ID:                  uuid.NewString(),
		Task:                task,
		Message:             message,
		ConsecutiveFailures: failures,
		Time:                time.Now().UTC(),
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	return a
}

// Notifier delivers alerts. Implementations must honour ctx.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, a Alert) error

func (f Func) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogNotifier writes alerts to the log at error level.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("Task escalated",
		logfields.Task(a.Task),
		logfields.Attempt(a.ConsecutiveFailures),
		slog.String("alert_id", a.ID),
		slog.String("message", a.Message),
		slog.String(logfields.KeyError, a.Error))
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
