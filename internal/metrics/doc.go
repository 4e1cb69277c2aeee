// Package metrics exposes agent health as Prometheus metrics.
//
// Components receive a Recorder and default to NoopRecorder, so metrics
// collection needs no nil checks at call sites:
//
//	sup := daemon.NewSupervisor(daemon.WithRecorder(metrics.NoopRecorder{}))
//
// The run command swaps in a PrometheusRecorder registered on its own
// registry and serves it with HTTPHandler.
package metrics
