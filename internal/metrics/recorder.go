package metrics

import "time"

// Outcome labels a supervised task run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePanic   Outcome = "panic"
)

// Recorder defines the observability hooks of the agent. Implementations
// may forward to Prometheus or to a test double.
type Recorder interface {
	ObserveTaskRun(task string, outcome Outcome, d time.Duration)
	SetTaskFailures(task string, consecutive int)
	SetTaskBackoff(task string, delay time.Duration)
	IncEscalation(task string)
	ObserveMigrationStep(step string, success bool, d time.Duration)
	SetStateVersion(version string)
	SetCertDaysRemaining(days float64)
	SetHardware(h Hardware)
}

// Hardware is the subset of a hardware sample exported as gauges.
type Hardware struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Load1         float64
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTaskRun(string, Outcome, time.Duration)    {}
func (NoopRecorder) SetTaskFailures(string, int)                      {}
func (NoopRecorder) SetTaskBackoff(string, time.Duration)             {}
func (NoopRecorder) IncEscalation(string)                             {}
func (NoopRecorder) ObserveMigrationStep(string, bool, time.Duration) {}
func (NoopRecorder) SetStateVersion(string)                           {}
func (NoopRecorder) SetCertDaysRemaining(float64)                     {}
func (NoopRecorder) SetHardware(Hardware)                             {}
