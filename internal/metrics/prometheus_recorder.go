package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "applianced"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	taskDuration   *prom.HistogramVec
	taskRuns       *prom.CounterVec
	taskFailures   *prom.GaugeVec
	taskBackoff    *prom.GaugeVec
	escalations    *prom.CounterVec
	migrationSteps *prom.CounterVec
	migrationTime  *prom.HistogramVec
	stateVersion   *prom.GaugeVec
	certDays       prom.Gauge
	cpuPercent     prom.Gauge
	memoryPercent  prom.Gauge
	diskPercent    prom.Gauge
	load1          prom.Gauge
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_run_duration_seconds",
			Help:      "Duration of supervised task runs",
			Buckets:   prom.DefBuckets,
		}, []string{"task", "outcome"}),
		taskRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Supervised task runs by outcome",
		}, []string{"task", "outcome"}),
		taskFailures: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "task_consecutive_failures",
			Help:      "Current failure streak per task",
		}, []string{"task"}),
		taskBackoff: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "task_backoff_seconds",
			Help:      "Delay before the next run of each task",
		}, []string{"task"}),
		escalations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_escalations_total",
			Help:      "Alerts raised for persistently failing tasks",
		}, []string{"task"}),
		migrationSteps: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "migration_steps_total",
			Help:      "Migration steps applied by result",
		}, []string{"step", "result"}),
		migrationTime: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_step_duration_seconds",
			Help:      "Duration of migration steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step"}),
		stateVersion: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "state_version_info",
			Help:      "Persisted state version (value is always 1)",
		}, []string{"version"}),
		certDays: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "certificate_days_remaining",
			Help:      "Days until the installed certificate expires",
		}),
		cpuPercent:    newHardwareGauge("cpu_percent", "CPU utilisation"),
		memoryPercent: newHardwareGauge("memory_percent", "Memory utilisation"),
		diskPercent:   newHardwareGauge("disk_percent", "Data disk utilisation"),
		load1:         newHardwareGauge("load1", "One minute load average"),
	}
	reg.MustRegister(pr.taskDuration, pr.taskRuns, pr.taskFailures, pr.taskBackoff, pr.escalations,
		pr.migrationSteps, pr.migrationTime, pr.stateVersion, pr.certDays,
		pr.cpuPercent, pr.memoryPercent, pr.diskPercent, pr.load1)
	return pr
}

func newHardwareGauge(name, help string) prom.Gauge {
	return prom.NewGauge(prom.GaugeOpts{Namespace: namespace, Subsystem: "hardware", Name: name, Help: help})
}

func (p *PrometheusRecorder) ObserveTaskRun(task string, outcome Outcome, d time.Duration) {
	if p == nil {
		return
	}
	p.taskRuns.WithLabelValues(task, string(outcome)).Inc()
	p.taskDuration.WithLabelValues(task, string(outcome)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetTaskFailures(task string, consecutive int) {
	if p == nil {
		return
	}
	p.taskFailures.WithLabelValues(task).Set(float64(consecutive))
}

func (p *PrometheusRecorder) SetTaskBackoff(task string, delay time.Duration) {
	if p == nil {
		return
	}
	p.taskBackoff.WithLabelValues(task).Set(delay.Seconds())
}

func (p *PrometheusRecorder) IncEscalation(task string) {
	if p == nil {
		return
	}
	p.escalations.WithLabelValues(task).Inc()
}

func (p *PrometheusRecorder) ObserveMigrationStep(step string, success bool, d time.Duration) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
		p.migrationTime.WithLabelValues(step).Observe(d.Seconds())
	}
	p.migrationSteps.WithLabelValues(step, res).Inc()
}

func (p *PrometheusRecorder) SetStateVersion(version string) {
	if p == nil {
		return
	}
	p.stateVersion.Reset()
	p.stateVersion.WithLabelValues(version).Set(1)
}

func (p *PrometheusRecorder) SetCertDaysRemaining(days float64) {
	if p == nil {
		return
	}
	p.certDays.Set(days)
}

func (p *PrometheusRecorder) SetHardware(h Hardware) {
	if p == nil {
		return
	}
	p.cpuPercent.Set(h.CPUPercent)
	p.memoryPercent.Set(h.MemoryPercent)
	p.diskPercent.Set(h.DiskPercent)
	p.load1.Set(h.Load1)
}
