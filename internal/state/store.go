// Package state is the durable appliance state: the persisted state version
// and a flat key/value settings table, both in one SQLite database.
package state

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// DatabaseFile is the name of the state database inside the data directory.
const DatabaseFile = "state.db"

var (
	// ErrOpenFailed indicates the state database could not be opened.
	ErrOpenFailed = errors.StateError("could not open state database").Build()

	// ErrNotSeeded indicates no state version has been recorded yet.
	ErrNotSeeded = errors.StateError("state version not recorded").Build()
)

// Store implements the version record and the settings table on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the state database at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.FileSystemError("create state directory").
				WithCause(err).
				WithContext("path", path).
				Build()
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.StateError(ErrOpenFailed.Message()).WithCause(err).WithContext("path", path).Build()
	}
	// One connection: an in-memory database is per-connection, and writes are serialized anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.StateError("initialize state schema").WithCause(err).WithContext("path", path).Build()
	}
	return s, nil
}

// OpenDir opens the state database inside dataDir.
func OpenDir(dataDir string) (*Store, error) {
	return Open(filepath.Join(dataDir, DatabaseFile))
}

func (s *Store) initialize() error {
	schema := `
	PRAGMA busy_timeout = 5000;
	PRAGMA synchronous = FULL;
	CREATE TABLE IF NOT EXISTS state_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	);
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ReadVersion returns the recorded state version, or None before first boot.
func (s *Store) ReadVersion(ctx context.Context) (foundation.Option[emver.Version], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var text string
	err := s.db.QueryRowContext(ctx, "SELECT version FROM state_version WHERE id = 1").Scan(&text)
	if stderrors.Is(err, sql.ErrNoRows) {
		return foundation.None[emver.Version](), nil
	}
	if err != nil {
		return foundation.None[emver.Version](), errors.StateError("read state version").WithCause(err).Build()
	}
	v, err := emver.Parse(text)
	if err != nil {
		return foundation.None[emver.Version](), errors.StateError("recorded state version is corrupt").
			WithCause(err).
			WithContext("version", text).
			Build()
	}
	return foundation.Some(v), nil
}

// writeVersion durably records v as the current state version. Outside this
// package the only writer is VersionRecord.Checkpoint, driven by the
// migration executor.
func (s *Store) writeVersion(ctx context.Context, v emver.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_version (id, version, updated_at) VALUES (1, ?, strftime('%s','now'))
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		v.String(),
	)
	if err != nil {
		return errors.StateError("write state version").WithCause(err).WithContext("version", v.String()).Build()
	}
	return nil
}

// Seed records initial as the state version if none is recorded yet and
// returns the version now in effect. seeded reports whether this call wrote it.
func (s *Store) Seed(ctx context.Context, initial emver.Version) (current emver.Version, seeded bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO state_version (id, version) VALUES (1, ?)", initial.String())
	if err != nil {
		return emver.Version{}, false, errors.StateError("seed state version").WithCause(err).Build()
	}
	n, _ := res.RowsAffected()

	var text string
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM state_version WHERE id = 1").Scan(&text); err != nil {
		return emver.Version{}, false, errors.StateError("read state version").WithCause(err).Build()
	}
	current, err = emver.Parse(text)
	if err != nil {
		return emver.Version{}, false, errors.StateError("recorded state version is corrupt").WithCause(err).Build()
	}
	return current, n == 1, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.StateError("read setting").WithCause(err).WithContext("key", key).Build()
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return errors.StateError("write setting").WithCause(err).WithContext("key", key).Build()
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return errors.StateError("delete setting").WithCause(err).WithContext("key", key).Build()
	}
	return nil
}

// List returns every setting whose key starts with prefix.
func (s *Store) List(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv ORDER BY key")
	if err != nil {
		return nil, errors.StateError("list settings").WithCause(err).Build()
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.StateError("scan setting").WithCause(err).Build()
		}
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StateError("iterate settings").WithCause(err).Build()
	}
	return out, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
