// Package health contains the appliance's supervised health daemons. Each
// daemon owns its collaborator and exposes a daemon.Task; the supervisor
// decides when it runs and what a failure means.
package health

import (
	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
)

// Task ids.
const (
	TaskTor       = "tor"
	TaskCerts     = "certs"
	TaskDiscovery = "discovery"
	TaskHwmon     = "hwmon"
)

func task(id string, policy daemon.FailurePolicy, tc config.TaskConfig, body daemon.Body) daemon.Task {
	return daemon.Task{
		ID:         id,
		Period:     tc.Period.Std(),
		Timeout:    tc.Timeout.Std(),
		Policy:     policy,
		RunOnStart: tc.RunOnStart,
		Body:       body,
	}
}
