// Package lockfile guards shared on-disk resources (certificate files, the
// tor configuration drop-in, the discovery service file) with an advisory
// flock(2) lock on "<resource>.lock". Locks are held only for a local
// read-modify-write.
package lockfile

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// Suffix is appended to a resource path to name its lock file.
const Suffix = ".lock"

// DefaultMaxWait bounds how long Acquire keeps retrying a contended lock.
const DefaultMaxWait = 5 * time.Second

// ErrLockContention means the lock stayed held elsewhere for the whole wait.
var ErrLockContention = errors.LockError("resource lock is held elsewhere").Build()

var errHeld = stderrors.New("lock held by another holder")

// Lock is an acquired advisory lock.
type Lock struct {
	resource string
	file     *os.File
}

// Path returns the resource the lock guards.
func (l *Lock) Path() string {
	return l.resource
}

// TryAcquire attempts to take the lock for resource once, without waiting.
func TryAcquire(resource string) (*Lock, error) {
	lockPath := resource + Suffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o750); err != nil {
		return nil, errors.FileSystemError("create lock directory").WithCause(err).WithContext("path", lockPath).Build()
	}
	// #nosec G304 -- lock path derives from configured resource paths
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.FileSystemError("open lock file").WithCause(err).WithContext("path", lockPath).Build()
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if stderrors.Is(err, errHeld) {
			return nil, contention(resource, err)
		}
		return nil, errors.LockError("flock failed").WithCause(err).WithContext("path", lockPath).Build()
	}
	return &Lock{resource: resource, file: f}, nil
}

// Acquire takes the lock for resource, retrying with exponential backoff
// until maxWait elapses or ctx is done. A non-positive maxWait uses DefaultMaxWait.
func Acquire(ctx context.Context, resource string, maxWait time.Duration) (*Lock, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = maxWait

	var lock *Lock
	err := backoff.Retry(func() error {
		l, err := TryAcquire(resource)
		if err == nil {
			lock = l
			return nil
		}
		if errors.HasCategory(err, errors.CategoryLock) && stderrors.Is(err, ErrLockContention) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := flockUnlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}

// WithLock runs fn while holding the lock for resource.
func WithLock(ctx context.Context, resource string, maxWait time.Duration, fn func() error) error {
	lock, err := Acquire(ctx, resource, maxWait)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	return fn()
}

func contention(resource string, cause error) error {
	return errors.LockError(ErrLockContention.Message()).
		WithCause(cause).
		WithContext("path", resource).
		Build()
}
