package fs

import (
	"io"
	"time"
)

/*
	Interface for all primitive functions we expect to be able to perform
	on a filesystem.

	All paths accepted are RelPath types; typically the FS instance
	is constructed with an AbsolutePath, and all further operations are
	joined with that base path.
*/
type FS interface {
	// The basepath this filesystem was constructed with; all RelPaths are joined to it.
	BasePath() AbsolutePath

	OpenFile(path RelPath, flag int, perms Perms) (File, error)
	Mkdir(path RelPath, perms Perms) error
	Mklink(path RelPath, target string) error
	Chmod(path RelPath, perms Perms) error
	SetTimesLNano(path RelPath, mtime time.Time, atime time.Time) error
	SetTimesNano(path RelPath, mtime time.Time, atime time.Time) error

	// Rename moves a path within the filesystem.  Neither path may traverse symlinks.
	Rename(from RelPath, to RelPath) error
	// RemoveAll removes a path and anything beneath it.  Missing paths are not an error.
	RemoveAll(path RelPath) error
	// Sync flushes the path's content (or directory entries) to stable storage.
	Sync(path RelPath) error

	Stat(path RelPath) (*Metadata, error)
	LStat(path RelPath) (*Metadata, error)
	ReadDirNames(path RelPath) ([]string, error)
	Readlink(path RelPath) (target string, isSymlink bool, err error)

	// ResolveLink returns the path a symlink target string resolves to,
	// interpreting it as found at `startingAt` and staying within the basepath.
	ResolveLink(symlink string, startingAt RelPath) (RelPath, error)
}

type File interface {
	io.Reader
	io.Writer
	io.Closer
	Sync() error
}
