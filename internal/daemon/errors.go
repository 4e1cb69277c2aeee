package daemon

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

var (
	// ErrDuplicateTask is returned when a task id is registered twice.
	ErrDuplicateTask = errors.ValidationError("task already registered").Build()

	// ErrInvalidTask is returned for tasks missing an id, body or period.
	ErrInvalidTask = errors.ValidationError("invalid task").Build()

	// ErrSupervisorStopped is returned when registering on a supervisor that is shutting down.
	ErrSupervisorStopped = errors.DaemonError("supervisor is shutting down").Build()

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.DaemonError("supervisor already started").Build()

	// ErrShutdownDeadline is matched by *ShutdownError.
	ErrShutdownDeadline = errors.DaemonError("shutdown deadline exceeded").Build()
)

// TaskFailedError is the failure of one task run.
type TaskFailedError struct {
	Task    string
	Attempt int // consecutive failures including this one
	Cause   error
	err     *errors.ClassifiedError
}

func newTaskFailed(task string, attempt int, cause error) *TaskFailedError {
	return &TaskFailedError{
		Task:    task,
		Attempt: attempt,
		Cause:   cause,
		err: errors.DaemonError("daemon task failed").
			WithContext("task", task).
			WithContext("attempt", attempt).
			WithCause(cause).
			Build(),
	}
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed (attempt %d): %v", e.Task, e.Attempt, e.Cause)
}

// Unwrap exposes the classified error, which in turn wraps the cause.
func (e *TaskFailedError) Unwrap() error { return e.err }

// ShutdownError names the tasks whose run had not finished at the deadline.
type ShutdownError struct {
	Abandoned []string
	err       *errors.ClassifiedError
}

func newShutdownError(abandoned []string) *ShutdownError {
	return &ShutdownError{
		Abandoned: abandoned,
		err: errors.DaemonError(ErrShutdownDeadline.Message()).
			WithContext("abandoned", strings.Join(abandoned, ",")).
			Build(),
	}
}

func (e *ShutdownError) Error() string {
	return "shutdown deadline exceeded; abandoned tasks: " + strings.Join(e.Abandoned, ", ")
}

func (e *ShutdownError) Unwrap() error { return e.err }
