package health

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/tor"
)

// TorHealth probes tor and restarts it after RestartAfter failed probes in a row.
type TorHealth struct {
	ctl          tor.Controller
	restartAfter int
	logger       *slog.Logger

	mu       sync.Mutex
	failures int
	restarts int
}

// NewTorHealth returns the tor health daemon.
func NewTorHealth(ctl tor.Controller, restartAfter int, logger *slog.Logger) *TorHealth {
	if restartAfter <= 0 {
		restartAfter = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TorHealth{ctl: ctl, restartAfter: restartAfter, logger: logger}
}

// Run probes once. A failed probe is returned even when a restart follows,
// so the supervisor's streak keeps counting until tor carries traffic again.
func (h *TorHealth) Run(ctx context.Context) error {
	probeErr := h.ctl.Probe(ctx)

	h.mu.Lock()
	if probeErr == nil {
		h.failures = 0
		h.mu.Unlock()
		return nil
	}
	h.failures++
	restart := h.failures >= h.restartAfter
	if restart {
		h.failures = 0
		h.restarts++
	}
	h.mu.Unlock()

	if !restart {
		return probeErr
	}
	h.logger.Warn("Tor unreachable, restarting", logfields.Task(TaskTor), logfields.Error(probeErr))
	if err := h.ctl.Restart(ctx); err != nil {
		return stderrors.Join(probeErr, err)
	}
	return probeErr
}

// Restarts reports how many restarts were issued.
func (h *TorHealth) Restarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restarts
}

// Task returns the supervised task.
func (h *TorHealth) Task(tc config.TaskConfig) daemon.Task {
	return task(TaskTor, daemon.Escalate, tc, h.Run)
}
