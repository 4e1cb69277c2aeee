package certs

import (
	"context"
	"os"
	"time"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/fsutil"
	"git.home.luguber.info/inful/applianced/internal/lockfile"
)

// Installer places a bundle at the configured paths.
type Installer struct {
	CertFile string
	KeyFile  string
	LockWait time.Duration
}

// Install validates b and swaps it in under the certificate lock. Both files
// are staged next to their targets before either is replaced, and if the
// certificate cannot be swapped the previous key is put back, so the pair in
// place always matches.
func (in *Installer) Install(ctx context.Context, b Bundle) (Info, error) {
	info, err := b.Validate()
	if err != nil {
		return Info{}, err
	}
	err = lockfile.WithLock(ctx, in.CertFile, in.LockWait, func() error {
		return in.swap(b)
	})
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

func (in *Installer) swap(b Bundle) error {
	keyStage, certStage := in.KeyFile+".new", in.CertFile+".new"
	defer func() {
		_ = os.Remove(keyStage)
		_ = os.Remove(certStage)
	}()
	if err := fsutil.WriteFileAtomic(keyStage, b.KeyPEM, 0o600); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(certStage, b.CertPEM, 0o644); err != nil {
		return err
	}

	// #nosec G304 -- configured key path
	oldKey, readErr := os.ReadFile(in.KeyFile)
	hadKey := readErr == nil
	if readErr != nil && !os.IsNotExist(readErr) {
		return errors.FileSystemError("read installed key").WithCause(readErr).WithContext("path", in.KeyFile).Build()
	}

	if err := os.Rename(keyStage, in.KeyFile); err != nil {
		return errors.FileSystemError("replace key").WithCause(err).WithContext("path", in.KeyFile).Build()
	}
	if err := os.Rename(certStage, in.CertFile); err != nil {
		swapErr := errors.FileSystemError("replace certificate").WithCause(err).WithContext("path", in.CertFile)
		var restoreErr error
		if hadKey {
			restoreErr = fsutil.WriteFileAtomic(in.KeyFile, oldKey, 0o600)
		} else {
			restoreErr = os.Remove(in.KeyFile)
		}
		if restoreErr != nil {
			swapErr = swapErr.WithContext("restore_error", restoreErr.Error()).Fatal()
		}
		return swapErr.Build()
	}
	return nil
}

// Installed inspects the certificate currently in place.
func (in *Installer) Installed() (Info, error) {
	return Inspect(in.CertFile)
}
