//go:build !unix

package lockfile

import (
	stderrors "errors"
	"os"
)

var errUnsupported = stderrors.New("advisory file locks are not supported on this platform")

func flockExclusive(*os.File) error { return errUnsupported }

func flockUnlock(*os.File) error { return nil }
