package fs

import (
	"errors"
	"os"
	"syscall"

	. "github.com/warpfork/go-errcat"
)

type ErrorCategory string

const (
	ErrIOUnknown     = ErrorCategory("fs-unknown")        // Catchall.
	ErrNotExists     = ErrorCategory("fs-not-exists")     // Path does not exist.
	ErrAlreadyExists = ErrorCategory("fs-already-exists") // Path already exists.
	ErrNotDir        = ErrorCategory("fs-not-dir")        // Some part of the path is not a directory.
	ErrPermission    = ErrorCategory("fs-permission")     // Lacking permission for the operation.
	ErrRecursion     = ErrorCategory("fs-recursion")      // Cyclic symlinks.

	/*
		Returned when operating in a confined filesystem slice, but doing the
		operation would require traversing a symlink or ".." out of it.

		Not all functions which do symlink checks will verify if the symlink target
		is within the operational area; they may return ErrBreakout upon encountering
		any symlink, even if following it would still be within bounds.

		Any function returning ErrBreakout is, by nature, doing so in a
		best-effort sense: if there are concurrent modifications to the operational
		area of the filesystem by any other processes, it is *impossible* to
		avoid a TOCTOU violation.
	*/
	ErrBreakout = ErrorCategory("fs-breakout")
)

/*
	Attach a category to errors coming out of the os and syscall packages.
	Errors that already have a category are returned untouched.
*/
func NormalizeIOError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(interface{ Category() interface{} }); ok {
		return err
	}
	switch {
	case os.IsNotExist(err):
		return Errorf(ErrNotExists, "%s", err)
	case os.IsExist(err):
		return Errorf(ErrAlreadyExists, "%s", err)
	case os.IsPermission(err):
		return Errorf(ErrPermission, "%s", err)
	case errors.Is(err, syscall.ENOTDIR):
		return Errorf(ErrNotDir, "%s", err)
	case errors.Is(err, syscall.ELOOP):
		return Errorf(ErrRecursion, "%s", err)
	default:
		return Errorf(ErrIOUnknown, "%s", err)
	}
}
