package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.conf")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "server.crt")
	dst := filepath.Join(dir, "server", "cert.pem")

	err := MoveFile(src, dst)
	require.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	require.NoError(t, os.WriteFile(src, []byte("pem"), 0o600))
	require.NoError(t, MoveFile(src, dst))
	require.False(t, Exists(src))
	require.True(t, Exists(dst))

	require.NoError(t, MoveFile(src, dst), "already moved")

	require.NoError(t, os.WriteFile(src, []byte("stale"), 0o600))
	require.NoError(t, MoveFile(src, dst))
	require.False(t, Exists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "pem", string(data))
}
