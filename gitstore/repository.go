package gitstore

import (
	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage/filesystem"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/log"
)

/*
	Repository is an open handle to one artifact's repository.

	Handles are cheap; each worker should open its own rather than share one.
*/
type Repository struct {
	path       fs.AbsolutePath
	kind       api.PackageKind
	store      *filesystem.Storage
	defaultRef plumbing.ReferenceName
	mon        api.Monitor
}

func (r *Repository) Path() fs.AbsolutePath { return r.path }
func (r *Repository) Kind() api.PackageKind { return r.kind }

// Branch returns the tip of the channel's branch, or ErrNotFound if no revision was ever committed to it.
func (r *Repository) Branch(channel api.Channel) (api.CommitID, error) {
	ref, err := r.store.Reference(plumbing.NewBranchReferenceName(channel.BranchName()))
	switch err {
	case nil:
		return api.CommitID(ref.Hash().String()), nil
	case plumbing.ErrReferenceNotFound:
		return "", Errorf(api.ErrNotFound, "no branch %q", channel.BranchName())
	default:
		return "", Errorf(api.ErrRepositoryIO, "cannot read branch %q: %s", channel.BranchName(), err)
	}
}

// RootCommit returns the zero-parent commit every branch descends from.
func (r *Repository) RootCommit() (api.CommitID, error) {
	tip, err := r.defaultTip()
	if err != nil {
		return "", err
	}
	commit, err := r.commit(tip)
	if err != nil {
		return "", err
	}
	for len(commit.ParentHashes) > 0 {
		if commit, err = r.commit(commit.ParentHashes[0]); err != nil {
			return "", err
		}
	}
	return api.CommitID(commit.Hash.String()), nil
}

// History lists the channel's first-parent chain, newest first, ending with the root commit.
func (r *Repository) History(channel api.Channel) ([]api.CommitInfo, error) {
	tip, err := r.Branch(channel)
	if err != nil {
		return nil, err
	}
	var history []api.CommitInfo
	commit, err := r.commit(plumbing.NewHash(string(tip)))
	for {
		if err != nil {
			return nil, err
		}
		history = append(history, commitInfo(commit))
		if len(commit.ParentHashes) == 0 {
			return history, nil
		}
		commit, err = r.commit(commit.ParentHashes[0])
	}
}

// Commit describes a single commit.
func (r *Repository) Commit(id api.CommitID) (api.CommitInfo, error) {
	commit, err := r.commit(plumbing.NewHash(string(id)))
	if err != nil {
		return api.CommitInfo{}, err
	}
	return commitInfo(commit), nil
}

/*
	ExtractedTree returns the artifact's file tree as of the given commit:
	the tree under the commit's `extracted/` entry.

	The root commit has no such entry; asking for it gives ErrNotFound.
*/
func (r *Repository) ExtractedTree(id api.CommitID) (*object.Tree, error) {
	commit, err := r.commit(plumbing.NewHash(string(id)))
	if err != nil {
		return nil, err
	}
	root, err := object.GetTree(r.store, commit.TreeHash)
	if err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "commit %s is missing its tree: %s", id, err)
	}
	for _, entry := range root.Entries {
		if entry.Name == ExtractedPrefix && entry.Mode == filemode.Dir {
			tree, err := object.GetTree(r.store, entry.Hash)
			if err != nil {
				return nil, Errorf(api.ErrRepositoryIO, "commit %s is missing its %s tree: %s", id, ExtractedPrefix, err)
			}
			return tree, nil
		}
	}
	return nil, Errorf(api.ErrNotFound, "commit %s has no %s tree", id, ExtractedPrefix)
}

// Files lists every dir and file of the artifact as of the given commit, in tree walk order.
func (r *Repository) Files(id api.CommitID) ([]api.FileInfo, error) {
	tree, err := r.ExtractedTree(id)
	if err != nil {
		return nil, err
	}
	var files []api.FileInfo
	err = WalkTree(r.store, tree).ForEach(func(entry TreeEntry) error {
		files = append(files, api.FileInfo{
			Path: entry.Path,
			Mode: entry.Entry.Mode.String(),
			Hash: entry.Entry.Hash.String(),
		})
		return nil
	})
	if err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot walk tree of %s: %s", id, err)
	}
	return files, nil
}

/*
	findOrCreateBranch returns the tip of the channel's branch, creating the
	branch at the default ref's tip (the root commit) if it doesn't exist.

	An existing branch is never moved.  Two callers creating the same branch
	at once both write the same value, so the race is harmless.
*/
func (r *Repository) findOrCreateBranch(channel api.Channel) (plumbing.Hash, error) {
	name := plumbing.NewBranchReferenceName(channel.BranchName())
	ref, err := r.store.Reference(name)
	switch err {
	case nil:
		return ref.Hash(), nil
	case plumbing.ErrReferenceNotFound:
		// carry on and create it.
	default:
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot read branch %q: %s", channel.BranchName(), err)
	}
	tip, err := r.defaultTip()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if err := r.store.SetReference(plumbing.NewHashReference(name, tip)); err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot create branch %q: %s", channel.BranchName(), err)
	}
	log.BranchCreated(r.mon, r.path, channel.BranchName(), tip.String())
	return tip, nil
}

func (r *Repository) defaultTip() (plumbing.Hash, error) {
	ref, err := r.store.Reference(r.defaultRef)
	if err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot read %s: %s", r.defaultRef, err)
	}
	return ref.Hash(), nil
}

func (r *Repository) commit(h plumbing.Hash) (*object.Commit, error) {
	commit, err := object.GetCommit(r.store, h)
	switch err {
	case nil:
		return commit, nil
	case plumbing.ErrObjectNotFound:
		return nil, Errorf(api.ErrNotFound, "commit %s not found", h)
	default:
		return nil, Errorf(api.ErrRepositoryIO, "cannot read commit %s: %s", h, err)
	}
}

func commitInfo(commit *object.Commit) api.CommitInfo {
	return api.CommitInfo{
		CommitID:  api.CommitID(commit.Hash.String()),
		Author:    api.Identity{Name: commit.Author.Name, Email: commit.Author.Email},
		Committer: api.Identity{Name: commit.Committer.Name, Email: commit.Committer.Email},
		Message:   commit.Message,
	}
}
