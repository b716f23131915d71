package gitstore

import (
	"os"
	"sort"
	"strings"
	"time"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/format/index"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/lib/guid"
	"github.com/polydawn/addongit/lib/treewalk"
	"github.com/polydawn/addongit/log"
)

// The name git reserves for its own metadata; never committed verbatim.
const reservedName = ".git"

/*
	Sanitize renames every path in the working copy whose last segment is
	".git" by appending "." and 8 random hex chars.  The working copy's own
	link file is the one exception.

	The walk renames on the way back up, so a ".git" nested inside another
	".git" is renamed before its parent moves.

	Returns the number of paths renamed.
*/
func (sb *sandbox) Sanitize() (int, error) {
	renamed := 0
	err := fs.Walk(sb.afs,
		skipLinkFile,
		func(node *fs.FilewalkNode) error {
			name := node.Info.Name
			if name == dotGit || name.Last() != reservedName {
				return nil
			}
			to := name.Dir().Join(fs.MustRelPath(reservedName + "." + guid.Short()))
			if err := sb.afs.Rename(name, to); err != nil {
				return err
			}
			log.PathRenamed(sb.repo.mon, name, to)
			renamed++
			return nil
		},
	)
	if err != nil {
		return renamed, Errorf(api.ErrStaging, "cannot rename reserved paths: %s", err)
	}
	return renamed, nil
}

/*
	Stage hashes every file and symlink in the working copy into the object
	store, and writes the sandbox's index to match.

	Regular files get mode 100755 if any execute bit is set, else 100644;
	symlinks are stored as blobs of their target.  Dirs have no entries of
	their own, so empty dirs vanish.  Anything else is skipped with a warning.
*/
func (sb *sandbox) Stage() (*index.Index, error) {
	store := sb.repo.store
	idx := &index.Index{Version: 2}
	err := fs.Walk(sb.afs,
		func(node *fs.FilewalkNode) error {
			if err := skipLinkFile(node); err != nil {
				return err
			}
			fmeta := node.Info
			var (
				hash plumbing.Hash
				mode filemode.FileMode
				err  error
			)
			switch fmeta.Type {
			case fs.Type_Dir:
				return nil
			case fs.Type_File:
				mode = filemode.Regular
				if fmeta.Perms&0111 != 0 {
					mode = filemode.Executable
				}
				hash, err = stageFile(sb.afs, store, fmeta)
			case fs.Type_Symlink:
				mode = filemode.Symlink
				hash, err = storeBlob(store, strings.NewReader(fmeta.Linkname), int64(len(fmeta.Linkname)))
			default:
				log.FileSkipped(sb.repo.mon, fmeta.Name, string(fmeta.Type))
				return nil
			}
			if err != nil {
				return err
			}
			idx.Entries = append(idx.Entries, &index.Entry{
				Hash:       hash,
				Name:       fmeta.Name.Bare(),
				Mode:       mode,
				Size:       uint32(fmeta.Size),
				ModifiedAt: indexTime(fmeta.Mtime),
			})
			return nil
		},
		nil,
	)
	if err != nil {
		return nil, Errorf(api.ErrStaging, "cannot stage sandbox content: %s", err)
	}
	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].Name < idx.Entries[j].Name
	})
	if err := sb.writeIndex(idx); err != nil {
		return nil, Errorf(api.ErrStaging, "cannot write sandbox index: %s", err)
	}
	return idx, nil
}

/*
	WriteTree stores the nested trees described by the index,
	and returns the hash of the root tree.
*/
func (sb *sandbox) WriteTree(idx *index.Index) (plumbing.Hash, error) {
	root := &treeBuilder{}
	for _, e := range idx.Entries {
		parts := strings.Split(e.Name, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			node = node.dir(dir)
		}
		node.entries = append(node.entries, object.TreeEntry{
			Name: parts[len(parts)-1],
			Mode: e.Mode,
			Hash: e.Hash,
		})
	}
	hash, err := root.store(sb.repo.store)
	if err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrStaging, "cannot write tree: %s", err)
	}
	return hash, nil
}

func (sb *sandbox) writeIndex(idx *index.Index) error {
	f, err := sb.repoFS.OpenFile(sb.indexPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := index.NewEncoder(f).Encode(idx); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func skipLinkFile(node *fs.FilewalkNode) error {
	if node.Info.Name == dotGit {
		return treewalk.SkipNode
	}
	return nil
}

func stageFile(afs fs.FS, store storer.EncodedObjectStorer, fmeta *fs.Metadata) (plumbing.Hash, error) {
	f, err := afs.OpenFile(fmeta.Name, os.O_RDONLY, 0)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer f.Close()
	return storeBlob(store, f, fmeta.Size)
}

// The index format can't hold times before the epoch; those are recorded as unknown.
func indexTime(t time.Time) time.Time {
	if t.Unix() < 0 {
		return time.Time{}
	}
	return t
}

// Accumulates one dir's entries while building trees from a flat index.
type treeBuilder struct {
	entries []object.TreeEntry
	dirs    map[string]*treeBuilder
}

func (tb *treeBuilder) dir(name string) *treeBuilder {
	if tb.dirs == nil {
		tb.dirs = map[string]*treeBuilder{}
	}
	child, ok := tb.dirs[name]
	if !ok {
		child = &treeBuilder{}
		tb.dirs[name] = child
	}
	return child
}

func (tb *treeBuilder) store(s storer.EncodedObjectStorer) (plumbing.Hash, error) {
	entries := append([]object.TreeEntry(nil), tb.entries...)
	for name, child := range tb.dirs {
		hash, err := child.store(s)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	return storeTree(s, entries)
}
