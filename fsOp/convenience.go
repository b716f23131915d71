package fsOp

import (
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/fs"
)

/*
	Makes dirs recursively so the requested path exists.

	Existing dirs are not mutated.

	Symlinks will be traversed without comment (i.e. this will never emit ErrBreakout),
	so this is for use on paths we control, never on paths named by archive content.
*/
func MkdirAll(afs fs.FS, path fs.RelPath, perms fs.Perms) error {
	// Check if the path already exists.
	stat, err := afs.Stat(path)
	// Switch on status of the (derefenced) file.
	//  Recurse and mkdir if necessary.
	switch Category(err) {
	case nil:
		if stat.Type == fs.Type_Dir {
			return nil
		}
		return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), stat.Type, fs.Type_Dir)
	case fs.ErrNotExists:
		if path == (fs.RelPath{}) {
			return Errorf(fs.ErrNotExists, "base path %s does not exist!", afs.BasePath())
		}
		if err := MkdirAll(afs, path.Dir(), perms); err != nil {
			return err
		}
		if err := afs.Mkdir(path, perms); err != nil {
			switch Category(err) {
			case fs.ErrAlreadyExists:
				// Either someone else made it between our stat and mkdir (fine),
				// or stat said it didn't exist because it's a dangling symlink.
				if stat, err := afs.Stat(path); err == nil && stat.Type == fs.Type_Dir {
					return nil
				}
				return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), fs.Type_Symlink, fs.Type_Dir)
			default:
				return err
			}
		}
		return nil
	case fs.ErrNotDir:
		// Reformat the error a tad to not say "lstat", which is distracting.
		return Errorf(fs.ErrNotDir, "%s has parents which are not a directory", afs.BasePath().Join(path))
	default:
		return err
	}
}

/*
	Removes every entry directly inside `dir`, except those named in `keep`.
	The dir itself remains.
*/
func ClearDir(afs fs.FS, dir fs.RelPath, keep ...string) error {
	names, err := afs.ReadDirNames(dir)
	if err != nil {
		return err
	}
outer:
	for _, name := range names {
		for _, k := range keep {
			if name == k {
				continue outer
			}
		}
		if err := afs.RemoveAll(dir.Join(fs.MustRelPath(name))); err != nil {
			return err
		}
	}
	return nil
}
