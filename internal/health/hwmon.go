package health

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/foundation"
	"git.home.luguber.info/inful/applianced/internal/hwmon"
	"git.home.luguber.info/inful/applianced/internal/metrics"
)

// MetricsRefresh samples the hardware and exports the reading.
type MetricsRefresh struct {
	reader   hwmon.Reader
	recorder metrics.Recorder

	mu     sync.Mutex
	latest foundation.Option[hwmon.Sample]
}

// NewMetricsRefresh returns the hardware metrics daemon.
func NewMetricsRefresh(reader hwmon.Reader, recorder metrics.Recorder) *MetricsRefresh {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &MetricsRefresh{reader: reader, recorder: recorder, latest: foundation.None[hwmon.Sample]()}
}

// Run takes one sample.
func (m *MetricsRefresh) Run(ctx context.Context) error {
	s, err := m.reader.Read(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.latest = foundation.Some(s)
	m.mu.Unlock()
	m.recorder.SetHardware(s.Gauges())
	return nil
}

// Latest returns the most recent sample, if any.
func (m *MetricsRefresh) Latest() foundation.Option[hwmon.Sample] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Task returns the supervised task.
func (m *MetricsRefresh) Task(tc config.TaskConfig) daemon.Task {
	return task(TaskHwmon, daemon.LogAndContinue, tc, m.Run)
}
