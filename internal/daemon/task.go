package daemon

import (
	"context"
	"time"

	"git.home.luguber.info/inful/applianced/internal/retry"
)

// FailurePolicy decides what a failed run means for the next one.
type FailurePolicy string

const (
	// RetryWithBackoff reruns after a delay that grows with the failure streak.
	RetryWithBackoff FailurePolicy = "retry_with_backoff"
	// LogAndContinue logs the failure and keeps the regular period.
	LogAndContinue FailurePolicy = "log_and_continue"
	// Escalate retries with backoff and raises an alert once the streak is long enough.
	Escalate FailurePolicy = "escalate"
)

// Body is one run of a task. Its ctx is bounded only by the task timeout;
// shutdown never cancels a run in progress.
type Body func(ctx context.Context) error

// Task is a periodic supervised unit of work.
type Task struct {
	ID         string
	Period     time.Duration
	Timeout    time.Duration // zero: no timeout
	Policy     FailurePolicy
	RunOnStart bool // first run immediately instead of after one Period
	Body       Body

	// Backoff overrides the supervisor's retry policy for this task.
	Backoff *retry.Policy
	// EscalateAfter overrides the supervisor's alert threshold; zero keeps it.
	EscalateAfter int
}

// Outcome of the most recent run.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// BackoffState is the retry state of one task. It resets on success.
type BackoffState struct {
	ConsecutiveFailures int
	NextDelay           time.Duration
	Cap                 time.Duration
}

// TaskStatus is a snapshot of a task's supervision state.
type TaskStatus struct {
	ID                  string        `json:"id"`
	Policy              FailurePolicy `json:"policy"`
	Period              time.Duration `json:"period"`
	Running             bool          `json:"running"`
	Runs                int           `json:"runs"`
	LastRun             time.Time     `json:"last_run,omitzero"`
	LastDuration        time.Duration `json:"last_duration"`
	LastOutcome         Outcome       `json:"last_outcome,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NextRun             time.Time     `json:"next_run,omitzero"`
	Backoff             BackoffState  `json:"backoff"`
	Escalations         int           `json:"escalations"`
}
