//go:build linux || darwin

// The standard library only provides 'chtimes', which follows symlinks;
// utimensat with AT_SYMLINK_NOFOLLOW gets us 'lchtimes' with nano precision.

package osfs

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/polydawn/addongit/fs"
)

func (afs *osFS) SetTimesLNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(utimensat(rpath, mtime, atime, unix.AT_SYMLINK_NOFOLLOW))
}

func (afs *osFS) SetTimesNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path, true)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(utimensat(rpath, mtime, atime, 0))
}

func utimensat(path string, mtime time.Time, atime time.Time, flags int) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, flags)
}
