// Package fsutil holds file helpers shared by migration steps and health daemons.
package fsutil

import (
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// WriteFileAtomic replaces path with data. Readers see either the old or the
// new content, never a partial write: data goes to a temporary file in the
// same directory which is synced and then renamed over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.FileSystemError("create directory").WithCause(err).WithContext("path", dir).Build()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.FileSystemError("create temporary file").WithCause(err).WithContext("path", path).Build()
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.FileSystemError("write temporary file").WithCause(err).WithContext("path", path).Build()
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return errors.FileSystemError("chmod temporary file").WithCause(err).WithContext("path", path).Build()
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.FileSystemError("sync temporary file").WithCause(err).WithContext("path", path).Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.FileSystemError("close temporary file").WithCause(err).WithContext("path", path).Build()
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.FileSystemError("replace file").WithCause(err).WithContext("path", path).Build()
	}
	committed = true
	syncDir(dir)
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MoveFile renames src to dst, creating dst's directory. A missing src with an
// existing dst counts as already moved. When both exist dst wins and src is removed.
func MoveFile(src, dst string) error {
	srcExists, dstExists := Exists(src), Exists(dst)
	switch {
	case !srcExists && dstExists:
		return nil
	case !srcExists:
		return errors.NotFoundError("file to move does not exist").WithContext("path", src).Build()
	case dstExists:
		if err := os.Remove(src); err != nil {
			return errors.FileSystemError("remove superseded file").WithCause(err).WithContext("path", src).Build()
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return errors.FileSystemError("create directory").WithCause(err).WithContext("path", dst).Build()
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.FileSystemError("move file").WithCause(err).WithContext("from", src).WithContext("to", dst).Build()
	}
	syncDir(filepath.Dir(dst))
	return nil
}

func syncDir(dir string) {
	// #nosec G304 -- directory of a path we just wrote
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
