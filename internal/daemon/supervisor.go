// Package daemon supervises the agent's periodic health tasks.
//
// Every task runs on its own goroutine and owns its own failure streak and
// backoff state, so a failing or slow task never delays another. Shutdown
// stops new runs but lets runs already in progress finish, up to the
// caller's deadline.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/applianced/internal/foundation"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/metrics"
	"git.home.luguber.info/inful/applianced/internal/notify"
	"git.home.luguber.info/inful/applianced/internal/retry"
)

const (
	// DefaultEscalateAfter is the failure streak that raises an alert.
	DefaultEscalateAfter = 5
	// DefaultAlertInterval is the minimum spacing of alerts for one task.
	DefaultAlertInterval = 10 * time.Minute

	notifyTimeout = 10 * time.Second
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRetryPolicy sets the backoff used by RetryWithBackoff and Escalate tasks.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithNotifier sets where escalation alerts go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Supervisor) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithEscalateAfter sets the failure streak length that raises an alert.
func WithEscalateAfter(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.escalateAfter = n
		}
	}
}

// WithAlertInterval throttles alerts per task. Zero disables throttling.
func WithAlertInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.alertInterval = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// Supervisor runs registered tasks periodically and applies their failure policy.
type Supervisor struct {
	mu       sync.Mutex
	tasks    map[string]*entry
	baseCtx  context.Context
	started  bool
	stopping bool
	stop     chan struct{}

	policy        retry.Policy
	notifier      notify.Notifier
	escalateAfter int
	alertInterval time.Duration
	recorder      metrics.Recorder
	logger        *slog.Logger
}

type entry struct {
	task          Task
	policy        retry.Policy
	escalateAfter int
	wake          chan struct{}
	done          chan struct{}
	limiter       *rate.Limiter
	status        TaskStatus
}

// NewSupervisor creates a supervisor. Tasks may be registered before or after Start.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		tasks:         make(map[string]*entry),
		stop:          make(chan struct{}),
		policy:        retry.DefaultPolicy(),
		notifier:      notify.LogNotifier{},
		escalateAfter: DefaultEscalateAfter,
		alertInterval: DefaultAlertInterval,
		recorder:      metrics.NoopRecorder{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task. On a started supervisor the task starts immediately.
func (s *Supervisor) Register(t Task) error {
	if t.ID == "" || t.Body == nil || t.Period <= 0 {
		return errors.ValidationError(ErrInvalidTask.Message()).
			WithContext("task", t.ID).
			WithContext("period", t.Period.String()).
			Build()
	}
	if t.Policy == "" {
		t.Policy = RetryWithBackoff
	}
	if t.EscalateAfter < 0 {
		return errors.ValidationError(ErrInvalidTask.Message()).
			WithContext("task", t.ID).
			WithContext("escalate_after", t.EscalateAfter).
			Build()
	}
	if t.Backoff != nil {
		if err := t.Backoff.Validate(); err != nil {
			return errors.ValidationError(ErrInvalidTask.Message()).WithCause(err).WithContext("task", t.ID).Build()
		}
	}
	switch t.Policy {
	case RetryWithBackoff, LogAndContinue, Escalate:
	default:
		return errors.ValidationError(ErrInvalidTask.Message()).
			WithContext("task", t.ID).
			WithContext("policy", string(t.Policy)).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrSupervisorStopped
	}
	if _, exists := s.tasks[t.ID]; exists {
		return errors.ValidationError(ErrDuplicateTask.Message()).WithContext("task", t.ID).Build()
	}

	var limiter *rate.Limiter
	if s.alertInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.alertInterval), 1)
	}
	e := &entry{
		task:          t,
		policy:        s.policy,
		escalateAfter: s.escalateAfter,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		limiter:       limiter,
	}
	if t.Backoff != nil {
		e.policy = *t.Backoff
	}
	if t.EscalateAfter > 0 {
		e.escalateAfter = t.EscalateAfter
	}
	e.status = TaskStatus{
		ID:      t.ID,
		Policy:  t.Policy,
		Period:  t.Period,
		Backoff: BackoffState{Cap: e.policy.Max},
	}
	s.tasks[t.ID] = e
	if s.started {
		go s.loop(e)
	}
	s.logger.Debug("Task registered", logfields.Task(t.ID), logfields.Policy(string(t.Policy)))
	return nil
}

// Start launches every registered task. Run contexts derive from ctx
// without its cancellation; use Shutdown to stop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.stopping {
		return ErrSupervisorStopped
	}
	s.started = true
	s.baseCtx = context.WithoutCancel(ctx)
	for _, id := range s.sortedIDs() {
		go s.loop(s.tasks[id])
	}
	s.logger.Info("Supervisor started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Shutdown stops scheduling new runs and waits for runs in progress.
// If ctx ends first it returns a *ShutdownError naming the abandoned tasks.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	started := s.started
	close(s.stop)
	entries := make([]*entry, 0, len(s.tasks))
	for _, id := range s.sortedIDs() {
		entries = append(entries, s.tasks[id])
	}
	s.mu.Unlock()

	if !started {
		return nil
	}

	var abandoned []string
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			// Deadline passed: collect everything still running without waiting further.
			for _, rest := range entries {
				select {
				case <-rest.done:
				default:
					abandoned = append(abandoned, rest.task.ID)
				}
			}
			s.logger.Warn("Shutdown deadline exceeded", slog.Any("abandoned", abandoned))
			return newShutdownError(abandoned)
		}
	}
	s.logger.Info("Supervisor stopped")
	return nil
}

// Wake asks a task to run now instead of at its next scheduled time.
// It reports whether the task is registered.
func (s *Supervisor) Wake(id string) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Status returns a snapshot of one task.
func (s *Supervisor) Status(id string) foundation.Option[TaskStatus] {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return foundation.None[TaskStatus]()
	}
	return foundation.Some(e.status)
}

// Statuses returns snapshots of all tasks ordered by id.
func (s *Supervisor) Statuses() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, id := range s.sortedIDs() {
		out = append(out, s.tasks[id].status)
	}
	return out
}

// sortedIDs must be called with s.mu held.
func (s *Supervisor) sortedIDs() []string {
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Supervisor) loop(e *entry) {
	defer close(e.done)

	delay := e.task.Period
	if e.task.RunOnStart {
		delay = 0
	}
	s.mu.Lock()
	e.status.NextRun = time.Now().Add(delay)
	s.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
		case <-e.wake:
			timer.Stop()
		}
		// A stop that raced with the timer wins.
		select {
		case <-s.stop:
			return
		default:
		}

		timer.Reset(s.runOnce(e))
	}
}

// runOnce executes the body once and returns the delay before the next run.
func (s *Supervisor) runOnce(e *entry) time.Duration {
	s.mu.Lock()
	e.status.Running = true
	ctx := s.baseCtx
	s.mu.Unlock()

	if e.task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.task.Timeout)
		defer cancel()
	}

	start := time.Now()
	panicked, err := invoke(ctx, e.task)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeSuccess
	switch {
	case panicked:
		outcome = metrics.OutcomePanic
	case err != nil:
		outcome = metrics.OutcomeFailure
	}
	s.recorder.ObserveTaskRun(e.task.ID, outcome, elapsed)

	if err == nil {
		return s.succeeded(e, start, elapsed)
	}
	return s.failed(e, start, elapsed, err)
}

func invoke(ctx context.Context, t Task) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = errors.RuntimeError("task panicked").
				WithContext("task", t.ID).
				WithContext("panic", fmt.Sprint(r)).
				WithContext("stack", string(debug.Stack())).
				Build()
		}
	}()
	return false, t.Body(ctx)
}

func (s *Supervisor) succeeded(e *entry, start time.Time, elapsed time.Duration) time.Duration {
	next := e.task.Period

	s.mu.Lock()
	recovered := e.status.ConsecutiveFailures
	st := &e.status
	st.Running = false
	st.Runs++
	st.LastRun = start
	st.LastDuration = elapsed
	st.LastOutcome = OutcomeSuccess
	st.LastError = ""
	st.ConsecutiveFailures = 0
	st.Backoff = BackoffState{Cap: e.policy.Max}
	st.NextRun = time.Now().Add(next)
	s.mu.Unlock()

	s.recorder.SetTaskFailures(e.task.ID, 0)
	s.recorder.SetTaskBackoff(e.task.ID, 0)
	if recovered > 0 {
		s.logger.Info("Task recovered", logfields.Task(e.task.ID), logfields.Attempt(recovered))
	} else {
		s.logger.Debug("Task run succeeded", logfields.Task(e.task.ID), logfields.DurationMS(elapsed))
	}
	return next
}

func (s *Supervisor) failed(e *entry, start time.Time, elapsed time.Duration, cause error) time.Duration {
	s.mu.Lock()
	st := &e.status
	st.ConsecutiveFailures++
	streak := st.ConsecutiveFailures

	next := e.task.Period
	var backoff time.Duration
	if e.task.Policy != LogAndContinue {
		backoff = e.policy.Delay(streak)
		next = backoff
	}

	failure := newTaskFailed(e.task.ID, streak, cause)
	st.Running = false
	st.Runs++
	st.LastRun = start
	st.LastDuration = elapsed
	st.LastOutcome = OutcomeFailure
	st.LastError = cause.Error()
	st.Backoff = BackoffState{ConsecutiveFailures: streak, NextDelay: backoff, Cap: e.policy.Max}
	st.NextRun = time.Now().Add(next)

	escalate := e.task.Policy == Escalate && streak%e.escalateAfter == 0
	if escalate {
		st.Escalations++
	}
	s.mu.Unlock()

	s.recorder.SetTaskFailures(e.task.ID, streak)
	s.recorder.SetTaskBackoff(e.task.ID, backoff)
	s.logger.Warn("Task run failed",
		logfields.Task(e.task.ID),
		logfields.Policy(string(e.task.Policy)),
		logfields.Attempt(streak),
		logfields.Delay(next),
		logfields.Error(failure))

	if escalate {
		s.recorder.IncEscalation(e.task.ID)
		s.escalate(e, streak, cause)
	}
	return next
}

func (s *Supervisor) escalate(e *entry, streak int, cause error) {
	if e.limiter != nil && !e.limiter.Allow() {
		s.logger.Info("Escalation alert throttled", logfields.Task(e.task.ID), logfields.Attempt(streak))
		return
	}
	alert := notify.NewAlert(e.task.ID,
		fmt.Sprintf("task %s failed %d consecutive times", e.task.ID, streak),
		streak, cause)

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.Error("Failed to deliver escalation alert", logfields.Task(e.task.ID), logfields.Error(err))
	}
}
