package gitstore

import (
	"io"

	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"
)

// TreeEntry is one record of a tree walk.
type TreeEntry struct {
	Path  string           // slash-separated, relative to the walk's root tree.
	Entry object.TreeEntry // as stored in the parent tree.
	Blob  *object.Blob     // nil for dirs.
}

/*
	TreeWalker flattens a tree depth-first: each dir is yielded just before
	its contents, and siblings come in the tree's canonical order.

	Trees are immutable, so walking the same tree again yields the same records.
*/
type TreeWalker struct {
	store storer.EncodedObjectStorer
	walk  *object.TreeWalker
}

func WalkTree(store storer.EncodedObjectStorer, tree *object.Tree) *TreeWalker {
	return &TreeWalker{
		store: store,
		walk:  object.NewTreeWalker(tree, true, nil),
	}
}

// Next returns the next record, or io.EOF when the walk is done.
func (tw *TreeWalker) Next() (TreeEntry, error) {
	name, entry, err := tw.walk.Next()
	if err != nil {
		tw.walk.Close()
		return TreeEntry{}, err
	}
	record := TreeEntry{Path: name, Entry: entry}
	switch entry.Mode {
	case filemode.Dir, filemode.Submodule:
		return record, nil
	default:
		record.Blob, err = object.GetBlob(tw.store, entry.Hash)
		if err != nil {
			tw.walk.Close()
			return TreeEntry{}, err
		}
		return record, nil
	}
}

// ForEach calls fn for every remaining record, stopping at the first error.
func (tw *TreeWalker) ForEach(fn func(TreeEntry) error) error {
	defer tw.walk.Close()
	for {
		record, err := tw.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}
