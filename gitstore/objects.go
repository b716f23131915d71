package gitstore

import (
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"

	"github.com/polydawn/addongit/api"
)

// Top-level dir of every commit's tree; readers strip it to get the artifact's file tree.
const ExtractedPrefix = "extracted"

// Message of the zero-parent commit every repository starts with.
const rootCommitMessage = "Initializing repository"

func signature(who api.Identity, when time.Time) object.Signature {
	return object.Signature{Name: who.Name, Email: who.Email, When: when}
}

// storeBlob hashes `size` bytes from `r` into the object store.
func storeBlob(s storer.EncodedObjectStorer, r io.Reader, size int64) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(size)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// storeTree sorts the entries into canonical order, then encodes and stores the tree.
func storeTree(s storer.EncodedObjectStorer, entries []object.TreeEntry) (plumbing.Hash, error) {
	sortTreeEntries(entries)
	tree := object.Tree{Entries: entries}
	obj := s.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

func storeCommit(s storer.EncodedObjectStorer, commit *object.Commit) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

/*
	Sorts tree entries the way git requires: bytewise by name, except that
	dirs compare as if their name had a trailing "/".
	So "foo.txt" sorts before the dir "foo", which sorts before "foo0".
*/
func sortTreeEntries(entries []object.TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.Compare(entrySortKey(entries[i]), entrySortKey(entries[j])) < 0
	})
}

func entrySortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
