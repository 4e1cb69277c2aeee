package health

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/discovery"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

// Announcer publishes the discovery record whenever the network identity changes.
type Announcer struct {
	identityFile string
	publisher    discovery.Publisher
	template     discovery.Record
	logger       *slog.Logger

	mu        sync.Mutex
	published string
}

// NewAnnouncer returns the discovery daemon. template supplies everything
// but the record name, which derives from the identity.
func NewAnnouncer(identityFile string, publisher discovery.Publisher, template discovery.Record, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{identityFile: identityFile, publisher: publisher, template: template, logger: logger}
}

// Run publishes when the identity differs from the last published one.
func (a *Announcer) Run(ctx context.Context) error {
	host, err := discovery.ReadIdentity(a.identityFile)
	if err != nil {
		return err
	}

	a.mu.Lock()
	unchanged := host == a.published
	a.mu.Unlock()
	if unchanged {
		return nil
	}

	rec := a.template
	rec.Name = host + ".local"
	rec.TXT = maps.Clone(a.template.TXT)
	if err := a.publisher.Publish(ctx, rec); err != nil {
		return err
	}

	a.mu.Lock()
	previous := a.published
	a.published = host
	a.mu.Unlock()
	a.logger.Info("Published discovery record",
		logfields.Task(TaskDiscovery),
		slog.String("name", rec.Name),
		slog.String("previous", previous))
	return nil
}

// Published returns the hostname last announced.
func (a *Announcer) Published() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published
}

// Task returns the supervised task.
func (a *Announcer) Task(tc config.TaskConfig) daemon.Task {
	return task(TaskDiscovery, daemon.LogAndContinue, tc, a.Run)
}
