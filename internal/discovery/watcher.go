package discovery

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

const defaultDebounce = 250 * time.Millisecond

// IdentityWatcher calls onChange after the identity file is written,
// created or renamed into place. Bursts of events within the debounce
// window produce one call.
type IdentityWatcher struct {
	path     string
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewIdentityWatcher creates a watcher for path.
func NewIdentityWatcher(path string, debounce time.Duration, onChange func(), logger *slog.Logger) (*IdentityWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.FileSystemError("resolve identity path").WithCause(err).WithContext("path", path).Build()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityWatcher{path: absPath, onChange: onChange, debounce: debounce, logger: logger}, nil
}

// Start begins watching. The parent directory is created if missing since
// the file may not exist before the first migration.
func (w *IdentityWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.FileSystemError("create identity directory").WithCause(err).WithContext("path", dir).Build()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.FileSystemError("create file watcher").WithCause(err).Build()
	}
	// Watch the directory: atomic replacement swaps the file's inode.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return errors.FileSystemError("watch identity directory").WithCause(err).WithContext("path", dir).Build()
	}

	w.watcher = watcher
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.logger.Info("Watching network identity", logfields.Path(w.path))
	go w.watchLoop(ctx, watcher, w.stopChan, w.done)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *IdentityWatcher) Stop(context.Context) error {
	w.mu.Lock()
	watcher, stop, done := w.watcher, w.stopChan, w.done
	w.watcher = nil
	w.mu.Unlock()
	if watcher == nil {
		return nil
	}
	close(stop)
	err := watcher.Close()
	<-done
	if err != nil {
		return errors.FileSystemError("close file watcher").WithCause(err).Build()
	}
	return nil
}

func (w *IdentityWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	name := filepath.Base(w.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Network identity changed", logfields.Path(event.Name), slog.String("op", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Identity watcher error", logfields.Error(err))
		}
	}
}
