package extract

import (
	"io"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/fsOp"
	"github.com/polydawn/addongit/log"
)

// Entry placement state shared by the zip and tar readers.
type unpacker struct {
	afs  fs.FS
	mon  api.Monitor
	dirs map[fs.RelPath]struct{} // dirs we've created, declared or inferred.
	seen map[fs.RelPath]struct{} // every non-dir entry placed.
}

func newUnpacker(afs fs.FS, mon api.Monitor) *unpacker {
	return &unpacker{
		afs:  afs,
		mon:  mon,
		dirs: map[fs.RelPath]struct{}{},
		seen: map[fs.RelPath]struct{}{},
	}
}

func (u *unpacker) placeEntry(fmeta fs.Metadata, body io.Reader) error {
	// Infer parents, if necessary.  Archives are not obliged to list every dir.
	for _, parent := range fmeta.Name.SplitParent() {
		if parent == (fs.RelPath{}) {
			continue
		}
		if _, exists := u.dirs[parent]; exists {
			continue
		}
		log.DirectoryInferred(u.mon, parent, fmeta.Name)
		if err := place(u.afs, fs.Metadata{Name: parent, Type: fs.Type_Dir, Perms: fs.DefaultDirPerms}, nil); err != nil {
			return err
		}
		u.dirs[parent] = struct{}{}
	}

	switch fmeta.Type {
	case fs.Type_Dir:
		// We need to be able to write children into every dir, and clean it up later.
		fmeta.Perms |= 0700
		if _, exists := u.dirs[fmeta.Name]; exists {
			// Already conjured for an earlier child; just take on the declared perms.
			if err := u.afs.Chmod(fmeta.Name, fmeta.Perms); err != nil {
				return Errorf(api.ErrExtraction, "error while unpacking: %s", err)
			}
			return nil
		}
		u.dirs[fmeta.Name] = struct{}{}
	case fs.Type_File:
		// Staging has to be able to read everything back.
		fmeta.Perms |= 0600
	}
	if _, dup := u.seen[fmeta.Name]; dup {
		return Errorf(api.ErrExtraction, "corrupt archive: duplicate entry %q", fmeta.Name)
	}
	u.seen[fmeta.Name] = struct{}{}
	return place(u.afs, fmeta, body)
}

// Hardlinks are materialized as copies of an earlier regular file of the same archive.
func (u *unpacker) placeHardlink(fmeta fs.Metadata, target fs.RelPath) error {
	if _, ok := u.seen[target]; !ok {
		return Errorf(api.ErrExtraction, "corrupt archive: hardlink %q refers to %q, which is not an earlier entry", fmeta.Name, target)
	}
	tmeta, body, err := fsOp.ScanFile(u.afs, target)
	if err != nil {
		return Errorf(api.ErrExtraction, "error while unpacking: %s", err)
	}
	if body == nil {
		return Errorf(api.ErrExtraction, "corrupt archive: hardlink %q refers to %q, which is a %s", fmeta.Name, target, tmeta.Type)
	}
	defer body.Close()
	fmeta.Type = fs.Type_File
	fmeta.Perms = tmeta.Perms
	return u.placeEntry(fmeta, body)
}

func place(afs fs.FS, fmeta fs.Metadata, body io.Reader) error {
	if err := fsOp.PlaceFile(afs, fmeta, body); err != nil {
		return Errorf(api.ErrExtraction, "error while unpacking %q: %s", fmeta.Name, err)
	}
	return nil
}

func syncTree(afs fs.FS) error {
	return fs.Walk(afs, nil, func(node *fs.FilewalkNode) error {
		switch node.Info.Type {
		case fs.Type_File, fs.Type_Dir:
			return afs.Sync(node.Info.Name)
		default:
			return nil
		}
	})
}
