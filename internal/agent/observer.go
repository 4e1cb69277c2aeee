package agent

import (
	"time"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/metrics"
	"git.home.luguber.info/inful/applianced/internal/migration"
)

// metricsObserver turns migration progress into step timings and the
// state version gauge.
type metricsObserver struct {
	recorder metrics.Recorder
}

func (o *metricsObserver) RunStarted(string, migration.Path) {}

func (o *metricsObserver) StepStarted(string, migration.Step) {}

func (o *metricsObserver) StepCompleted(_ string, step migration.Step, d time.Duration) {
	o.recorder.ObserveMigrationStep(step.Name(), true, d)
	o.recorder.SetStateVersion(step.To.String())
}

func (o *metricsObserver) StepFailed(_ string, step migration.Step, _ error) {
	o.recorder.ObserveMigrationStep(step.Name(), false, 0)
}

func (o *metricsObserver) RunFinished(_ string, reached emver.Version, _ error) {
	o.recorder.SetStateVersion(reached.String())
}
