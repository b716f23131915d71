package gitstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/log"
)

/*
	MaterializeRevision records the contents of the archive at `archivePath`
	as a new commit on the channel's branch, and returns the commit's id.

	The commit's only parent is the branch tip as it was when the call
	started.  Its author is `author`, or the service identity if nil;
	its committer is always the service identity.

	Unless compare-and-swap is configured, concurrent calls for the same
	channel are last-writer-wins: both commits are made, and whichever
	branch update lands last decides the tip.  The other commit stays in
	the object store, unreferenced.

	The sandbox is released on every path out of this function.
	The branch is only touched in the final step, so a failure or
	cancellation before then leaves it exactly as it was.

	May return errors of category:

	  - `api.ErrRepositoryIO` -- if the branch or sandbox can't be set up
	  - `api.ErrExtraction` -- if the archive can't be extracted
	  - `api.ErrStaging` -- if sandbox content can't be hashed or the tree can't be written
	  - `api.ErrCommitCreation` -- if the commit can't be written
	  - `api.ErrBranchConflict` -- if the branch can't be updated, or moved under a compare-and-swap
	  - `api.ErrCancelled` -- if the context ends before the branch is updated
*/
func (m *Manager) MaterializeRevision(
	ctx context.Context, // Long-running call.  Cancellable until the branch update.
	repo *Repository, // Repository to commit into; see OpenOrInit.
	archivePath string, // The uploaded archive.
	channel api.Channel, // Selects the branch.
	message string, // Commit message, verbatim.
	author *api.Identity, // Optionally: the uploader.  Defaults to the service identity.
) (_ api.CommitID, err error) {
	started := time.Now()
	defer func() { m.metrics.observe(repo.kind, channel, err, started) }()
	defer RequireErrorHasCategory(&err, api.ErrorCategory(""))

	if _, err := api.ParseChannel(string(channel)); err != nil {
		return "", err
	}
	if author == nil {
		author = &m.robot
	}
	if ctx.Err() != nil {
		return "", Errorf(api.ErrCancelled, "cancelled")
	}

	// The parent is captured once, here.  Anything that moves the branch
	// after this point is either overwritten or reported as a conflict.
	parent, err := repo.findOrCreateBranch(channel)
	if err != nil {
		return "", err
	}

	sb, err := repo.acquireSandbox(m.tmpRoot)
	if err != nil {
		return "", err
	}
	defer sb.release()

	if err := m.extract(ctx, archivePath, sb.extractionTarget(), m.mon); err != nil {
		switch Category(err) {
		case api.ErrCancelled, api.ErrExtraction:
			return "", err
		default:
			return "", Errorf(api.ErrExtraction, "cannot extract %s: %s", filepath.Base(archivePath), err)
		}
	}

	renamed, err := sb.Sanitize()
	m.metrics.sanitizedPaths(renamed)
	if err != nil {
		return "", err
	}
	idx, err := sb.Stage()
	if err != nil {
		return "", err
	}
	tree, err := sb.WriteTree(idx)
	if err != nil {
		return "", err
	}

	now := m.now()
	commit, err := storeCommit(repo.store, &object.Commit{
		Author:       signature(*author, now),
		Committer:    signature(m.robot, now),
		Message:      message,
		TreeHash:     tree,
		ParentHashes: []plumbing.Hash{parent},
	})
	if err != nil {
		return "", Errorf(api.ErrCommitCreation, "cannot write commit: %s", err)
	}

	if ctx.Err() != nil {
		return "", Errorf(api.ErrCancelled, "cancelled before updating branch %q; commit %s left unreferenced", channel.BranchName(), commit)
	}
	if err := m.advanceBranch(repo, channel, parent, commit); err != nil {
		return "", err
	}
	log.Committed(m.mon, repo.path, channel.BranchName(), commit.String(), parent.String())
	return api.CommitID(commit.String()), nil
}

func (m *Manager) advanceBranch(repo *Repository, channel api.Channel, parent, commit plumbing.Hash) error {
	name := plumbing.NewBranchReferenceName(channel.BranchName())
	next := plumbing.NewHashReference(name, commit)
	var err error
	if m.compareAndSwap {
		err = repo.store.CheckAndSetReference(next, plumbing.NewHashReference(name, parent))
	} else {
		err = repo.store.SetReference(next)
	}
	switch err {
	case nil:
		return nil
	case storage.ErrReferenceHasChanged:
		return ErrorDetailed(api.ErrBranchConflict,
			fmt.Sprintf("branch %q moved while committing", channel.BranchName()),
			map[string]string{
				"branch": channel.BranchName(),
				"parent": parent.String(),
				"commit": commit.String(),
			})
	default:
		return Errorf(api.ErrBranchConflict, "cannot update branch %q to %s: %s", channel.BranchName(), commit, err)
	}
}

/*
	CommitVersion records a version's packaged file in its addon's
	"addon" repository, creating the repository if needed.
*/
func (m *Manager) CommitVersion(ctx context.Context, version api.VersionInfo, author *api.Identity) (api.CommitID, error) {
	message := fmt.Sprintf("Create new version %s (%d) for %s from %s",
		version.Version, version.VersionID, version.AddonName, filepath.Base(version.File))
	return m.commitVersion(ctx, version, api.PackageKind_Addon, version.File, message, author)
}

/*
	CommitVersionSource records a version's source bundle in its addon's
	"source" repository, creating the repository if needed.
*/
func (m *Manager) CommitVersionSource(ctx context.Context, version api.VersionInfo, author *api.Identity) (api.CommitID, error) {
	if version.Source == "" {
		return "", Errorf(api.ErrUsage, "version %d has no source file", version.VersionID)
	}
	message := fmt.Sprintf("Create new version %s (%d) for %s from source file",
		version.Version, version.VersionID, version.AddonName)
	return m.commitVersion(ctx, version, api.PackageKind_Source, version.Source, message, author)
}

func (m *Manager) commitVersion(ctx context.Context, version api.VersionInfo, kind api.PackageKind, archivePath, message string, author *api.Identity) (api.CommitID, error) {
	repo, err := m.OpenOrInit(version.Addon, kind)
	if err != nil {
		return "", err
	}
	return m.MaterializeRevision(ctx, repo, archivePath, version.Channel, message, author)
}
