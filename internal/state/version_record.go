package state

import (
	"context"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// VersionRecord exposes the store's version row to the migration executor.
type VersionRecord struct {
	store *Store
}

// VersionRecord returns the store's version record.
func (s *Store) VersionRecord() *VersionRecord {
	return &VersionRecord{store: s}
}

// Current returns the recorded version. It fails with ErrNotSeeded before first boot.
func (r *VersionRecord) Current(ctx context.Context) (emver.Version, error) {
	v, err := r.store.ReadVersion(ctx)
	if err != nil {
		return emver.Version{}, err
	}
	current, ok := v.Get()
	if !ok {
		return emver.Version{}, errors.StateError(ErrNotSeeded.Message()).Build()
	}
	return current, nil
}

// Checkpoint records v once a migration step has completed.
func (r *VersionRecord) Checkpoint(ctx context.Context, v emver.Version) error {
	return r.store.writeVersion(ctx, v)
}
