// Package eventstore is the agent journal: an append-only SQLite log of
// migration runs and escalation alerts, and read models built from it.
package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunSummary is a read model of one migration run.
type RunSummary struct {
	RunID        string     `json:"run_id"`
	Status       string     `json:"status"`
	From         string     `json:"from"`
	To           string     `json:"to"`
	Reached      string     `json:"reached,omitempty"`
	StepsPlanned int        `json:"steps_planned"`
	StepsApplied int        `json:"steps_applied"`
	FailedStep   string     `json:"failed_step,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RunHistoryProjection maintains an in-memory view of migration runs,
// reconstructed from the journal.
type RunHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	runs    map[string]*RunSummary
	maxSize int
}

// NewRunHistoryProjection creates a new projection backed by the given store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 50
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = make(map[string]*RunSummary)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.trimLocked()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *RunHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
	p.trimLocked()
}

func (p *RunHistoryProjection) applyEventLocked(event Event) {
	if event.Type == TypeTaskEscalated || event.RunID == "" {
		return
	}

	summary, exists := p.runs[event.RunID]
	if !exists {
		summary = &RunSummary{RunID: event.RunID, Status: RunRunning, StartedAt: event.At}
		p.runs[event.RunID] = summary
	}

	switch event.Type {
	case TypeMigrationStarted:
		var payload MigrationStartedPayload
		if DecodePayload(event, &payload) == nil {
			summary.From = payload.From
			summary.To = payload.To
			summary.StepsPlanned = len(payload.Steps)
		}
		summary.StartedAt = event.At

	case TypeMigrationStepCompleted:
		summary.StepsApplied++

	case TypeMigrationStepFailed:
		var payload StepPayload
		if DecodePayload(event, &payload) == nil {
			summary.FailedStep = payload.Step
			summary.Error = payload.Error
		}
		summary.Status = RunFailed

	case TypeMigrationFinished:
		var payload MigrationFinishedPayload
		if DecodePayload(event, &payload) == nil {
			summary.Reached = payload.Version
			if payload.Error != "" {
				summary.Status = RunFailed
				if summary.Error == "" {
					summary.Error = payload.Error
				}
			} else {
				summary.Status = RunCompleted
			}
		}
		done := event.At
		summary.CompletedAt = &done
	}
}

// trimLocked keeps the newest maxSize runs.
func (p *RunHistoryProjection) trimLocked() {
	if len(p.runs) <= p.maxSize {
		return
	}
	for _, s := range p.sortedLocked()[p.maxSize:] {
		delete(p.runs, s.RunID)
	}
}

func (p *RunHistoryProjection) sortedLocked() []*RunSummary {
	out := make([]*RunSummary, 0, len(p.runs))
	for _, s := range p.runs {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Runs returns copies of the known runs, newest first.
func (p *RunHistoryProjection) Runs() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sorted := p.sortedLocked()
	out := make([]RunSummary, len(sorted))
	for i, s := range sorted {
		out[i] = *s
	}
	return out
}

// Get returns the summary of one run.
func (p *RunHistoryProjection) Get(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return *s, true
}
