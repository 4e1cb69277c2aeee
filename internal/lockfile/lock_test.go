//go:build unix

package lockfile

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

func TestTryAcquireContention(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "ssl", "server.crt")

	first, err := TryAcquire(resource)
	require.NoError(t, err)
	require.FileExists(t, resource+Suffix)

	_, err = TryAcquire(resource)
	require.ErrorIs(t, err, ErrLockContention)
	require.True(t, errors.HasCategory(err, errors.CategoryLock))
	require.Equal(t, errors.RetryBackoff, errors.GetRetryStrategy(err))

	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "release is idempotent")

	second, err := TryAcquire(resource)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestAcquireGivesUpAfterMaxWait(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "torrc.d")
	held, err := TryAcquire(resource)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	start := time.Now()
	_, err = Acquire(context.Background(), resource, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrLockContention)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "service")
	held, err := TryAcquire(resource)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release()
	}()

	lock, err := Acquire(context.Background(), resource, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, resource, lock.Path())
	require.NoError(t, lock.Release())
}

func TestWithLockSerializes(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "shared")
	var inside, overlap atomic.Int32

	done := make(chan struct{})
	for range 4 {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = WithLock(context.Background(), resource, 2*time.Second, func() error {
				if inside.Add(1) > 1 {
					overlap.Add(1)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	for range 4 {
		<-done
	}
	require.Zero(t, overlap.Load())
}
