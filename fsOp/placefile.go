package fsOp

import (
	"io"
	"os"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/fs"
)

/*
	Places a file on the filesystem.
	Replicates the type, content, permissions, and mtime described in the metadata.
	Ownership is not replicated.

	The path within the filesystem is `fmeta.Name`.

	No changes are allowed to occur outside of the filesystem's base path.
	Symlinks may *point* at paths outside of the base path, and dangling
	symlinks are acceptable -- however symlinks may *not* be traversed during
	any part of `fmeta.Name`; this is considered malformed input and will
	result in ErrBreakout.

	Like all filesystem operations within a lightyear of symlinks, all
	validations are best-effort, and only correct in the absense of
	concurrent modifications inside the base path.

	Only files, dirs, and symlinks can be placed; other types are rejected
	with ErrIOUnknown and the caller decides whether to carry on.
*/
func PlaceFile(afs fs.FS, fmeta fs.Metadata, body io.Reader) error {
	// First, no part of the path may be a symlink.
	for _, path := range fmeta.Name.SplitParent() {
		target, isSymlink, err := afs.Readlink(path)
		switch {
		case isSymlink:
			return ErrorDetailed(fs.ErrBreakout,
				"refusing to traverse symlink while placing file",
				map[string]string{
					"opPath":     fmeta.Name.String(),
					"opArea":     afs.BasePath().String(),
					"linkPath":   path.String(),
					"linkTarget": target,
				})
		case err == nil:
			continue // regular paths are fine.
		case Category(err) == fs.ErrNotExists:
			continue // not existing is fine; the write itself will fail.
		default:
			return err // any other unknown error means we lack perms or something: reject.
		}
	}

	// Fill in the content.  (Attribs come later.)
	switch fmeta.Type {
	case fs.Type_File:
		file, err := afs.OpenFile(fmeta.Name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fmeta.Perms|0200)
		if err != nil {
			return err
		}
		if body != nil {
			if _, err := io.Copy(file, body); err != nil {
				file.Close()
				return fs.NormalizeIOError(err)
			}
		}
		if err := file.Close(); err != nil {
			return fs.NormalizeIOError(err)
		}
	case fs.Type_Dir:
		if fmeta.Name == (fs.RelPath{}) {
			// the base dir may already exist; we'll just chmod+chtime it.
			if existing, err := afs.LStat(fmeta.Name); err == nil && existing.Type == fs.Type_Dir {
				break
			}
		}
		if err := afs.Mkdir(fmeta.Name, fmeta.Perms|0700); err != nil {
			return err
		}
	case fs.Type_Symlink:
		// linkname can be anything you want.  It continues to be a string parameter rather than
		// any of our normalized `fs.*Path` types because it is perfectly valid (if odd)
		// to store the string ".///" as a symlink target.
		if err := afs.Mklink(fmeta.Name, fmeta.Linkname); err != nil {
			return err
		}
	default:
		return Errorf(fs.ErrIOUnknown, "placefile: cannot place %q: unsupported type %q", fmeta.Name, fmeta.Type)
	}

	// Attribs.  Symlinks have no perms of their own (there's no `lchmod` on linux).
	if fmeta.Type != fs.Type_Symlink {
		if err := afs.Chmod(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	}
	if !fmeta.Mtime.IsZero() {
		if err := afs.SetTimesLNano(fmeta.Name, fmeta.Mtime, fs.DefaultAtime); err != nil {
			return err
		}
	}
	return nil
}
