package gitstore

import (
	"io/ioutil"
	"os"
	"strings"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/fs/osfs"
	"github.com/polydawn/addongit/fsOp"
	"github.com/polydawn/addongit/lib/guid"
	"github.com/polydawn/addongit/log"
)

// Dir within a repository holding the admin dirs of linked working copies.
var worktreesDir = fs.MustRelPath("worktrees")

// The link file at the top of a working copy; never staged.
var dotGit = fs.MustRelPath(".git")

/*
	A sandbox is a disposable working copy linked to a repository, laid out
	the way `git worktree add` would:

		<tmp>/<name>/.git                    -- "gitdir: <repo>/worktrees/<name>"
		<repo>/worktrees/<name>/gitdir       -- "<tmp>/<name>/.git"
		<repo>/worktrees/<name>/commondir    -- "../.."
		<repo>/worktrees/<name>/HEAD         -- "ref: refs/heads/<name>"
		<repo>/worktrees/<name>/index        -- the sandbox's own index

	Objects written while staging go straight to the shared object store.
*/
type sandbox struct {
	repo    *Repository
	name    string
	tmpRoot fs.AbsolutePath
	path    fs.AbsolutePath        // the working copy.
	admin   fs.RelPath             // worktrees/<name>, within the repository.
	branch  plumbing.ReferenceName // ephemeral; refs/heads/<name>.
	afs     fs.FS                  // rooted at the working copy.
	repoFS  fs.FS                  // rooted at the repository.

	// Set once we've created them; release leaves alone what isn't ours.
	madeDir, madeAdmin bool
}

/*
	acquireSandbox creates a fresh sandbox in `tmpRoot`.

	The working copy starts out mirroring the default ref's tip, like any
	new linked working copy; every top-level entry of that tip is then
	removed, leaving only the link file and an empty `extracted/` dir.

	On failure, whatever was created is released again.
*/
func (r *Repository) acquireSandbox(tmpRoot fs.AbsolutePath) (_ *sandbox, err error) {
	name := guid.New()
	sb := &sandbox{
		repo:    r,
		name:    name,
		tmpRoot: tmpRoot,
		path:    tmpRoot.Join(fs.MustRelPath(name)),
		admin:   worktreesDir.Join(fs.MustRelPath(name)),
		branch:  plumbing.NewBranchReferenceName(name),
		repoFS:  osfs.New(r.path),
	}
	sb.afs = osfs.New(sb.path)
	defer func() {
		if err != nil {
			sb.release()
		}
	}()

	// The working copy dir is created exclusively; a collision here is an error, not a reuse.
	if err := os.MkdirAll(tmpRoot.String(), 0755); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot create sandbox root: %s", err)
	}
	if err := osfs.New(tmpRoot).Mkdir(fs.MustRelPath(name), 0700); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot create sandbox: %s", err)
	}
	sb.madeDir = true

	tip, err := r.defaultTip()
	if err != nil {
		return nil, err
	}
	if err := r.store.SetReference(plumbing.NewHashReference(sb.branch, tip)); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot create sandbox branch: %s", err)
	}
	if err := sb.link(); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot link sandbox: %s", err)
	}
	if err := sb.populate(tip); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot populate sandbox: %s", err)
	}
	if err := fsOp.ClearDir(sb.afs, fs.RelPath{}, dotGit.Last()); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot clear sandbox: %s", err)
	}
	if err := sb.afs.Mkdir(fs.MustRelPath(ExtractedPrefix), 0755); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot create extraction dir: %s", err)
	}
	log.SandboxAcquired(r.mon, r.path, name, sb.path)
	return sb, nil
}

// extractionTarget is the dir archives are unpacked into.
func (sb *sandbox) extractionTarget() fs.AbsolutePath {
	return sb.path.Join(fs.MustRelPath(ExtractedPrefix))
}

func (sb *sandbox) indexPath() fs.RelPath {
	return sb.admin.Join(fs.MustRelPath("index"))
}

/*
	Writes both halves of the working copy linkage.

	The admin dir's gitdir file is written last, and atomically, so that a
	concurrent prune never sees a gitdir pointing at a link file which
	doesn't exist yet.
*/
func (sb *sandbox) link() error {
	if err := writeFile(sb.afs, dotGit, "gitdir: "+sb.repo.path.Join(sb.admin).String()+"\n"); err != nil {
		return err
	}
	if err := fsOp.MkdirAll(sb.repoFS, worktreesDir, 0755); err != nil {
		return err
	}
	if err := sb.repoFS.Mkdir(sb.admin, 0755); err != nil {
		return err
	}
	sb.madeAdmin = true
	if err := writeFile(sb.repoFS, sb.admin.Join(fs.MustRelPath("commondir")), "../..\n"); err != nil {
		return err
	}
	if err := writeFile(sb.repoFS, sb.admin.Join(fs.MustRelPath("HEAD")), "ref: "+sb.branch.String()+"\n"); err != nil {
		return err
	}
	tmp := sb.admin.Join(fs.MustRelPath("gitdir.tmp"))
	if err := writeFile(sb.repoFS, tmp, sb.path.Join(dotGit).String()+"\n"); err != nil {
		return err
	}
	return sb.repoFS.Rename(tmp, sb.admin.Join(fs.MustRelPath("gitdir")))
}

// populate checks out the tree of `commit` into the working copy.
func (sb *sandbox) populate(commit plumbing.Hash) error {
	c, err := object.GetCommit(sb.repo.store, commit)
	if err != nil {
		return err
	}
	tree, err := c.Tree()
	if err != nil {
		return err
	}
	return WalkTree(sb.repo.store, tree).ForEach(func(record TreeEntry) error {
		fmeta := fs.Metadata{Name: fs.MustRelPath(record.Path)}
		switch record.Entry.Mode {
		case filemode.Dir:
			fmeta.Type, fmeta.Perms = fs.Type_Dir, 0755
			return fsOp.PlaceFile(sb.afs, fmeta, nil)
		case filemode.Regular:
			fmeta.Type, fmeta.Perms = fs.Type_File, 0644
		case filemode.Executable:
			fmeta.Type, fmeta.Perms = fs.Type_File, 0755
		case filemode.Symlink:
			fmeta.Type = fs.Type_Symlink
		default:
			return nil // submodules and the like have no content to check out.
		}
		reader, err := record.Blob.Reader()
		if err != nil {
			return err
		}
		defer reader.Close()
		if fmeta.Type == fs.Type_Symlink {
			target, err := ioutil.ReadAll(reader)
			if err != nil {
				return err
			}
			fmeta.Linkname = string(target)
			return fsOp.PlaceFile(sb.afs, fmeta, nil)
		}
		return fsOp.PlaceFile(sb.afs, fmeta, reader)
	})
}

/*
	release removes the working copy, its admin dir, and its ephemeral branch,
	then prunes admin dirs left behind by any other sandbox that is gone.

	Failures are logged as ErrSandboxCleanup and otherwise ignored:
	by the time we get here, the outcome of the operation is already decided.
*/
func (sb *sandbox) release() {
	mon := sb.repo.mon
	if sb.madeDir {
		if err := osfs.New(sb.tmpRoot).RemoveAll(fs.MustRelPath(sb.name)); err != nil {
			log.CleanupFailed(mon, Errorf(api.ErrSandboxCleanup, "%s", err), "sandbox dir "+sb.path.String())
		}
	}
	if sb.madeAdmin {
		if err := sb.repoFS.RemoveAll(sb.admin); err != nil {
			log.CleanupFailed(mon, Errorf(api.ErrSandboxCleanup, "%s", err), "sandbox admin dir "+sb.name)
		}
	}
	if err := sb.repo.store.RemoveReference(sb.branch); err != nil {
		log.CleanupFailed(mon, Errorf(api.ErrSandboxCleanup, "%s", err), "sandbox branch "+sb.name)
	}
	pruneWorktrees(sb.repo, sb.repoFS)
	log.SandboxReleased(mon, sb.repo.path, sb.name)
}

/*
	Removes the admin dir of every linked working copy whose link file no
	longer exists, along with the ephemeral branch of those made by sandboxes.

	Admin dirs without a readable gitdir file are still being set up,
	and are left alone.
*/
func pruneWorktrees(r *Repository, repoFS fs.FS) {
	names, err := repoFS.ReadDirNames(worktreesDir)
	if err != nil {
		if Category(err) != fs.ErrNotExists {
			log.CleanupFailed(r.mon, Errorf(api.ErrSandboxCleanup, "%s", err), "worktrees")
		}
		return
	}
	for _, name := range names {
		admin := worktreesDir.Join(fs.MustRelPath(name))
		gitdir, err := readFile(repoFS, admin.Join(fs.MustRelPath("gitdir")))
		if err != nil {
			continue
		}
		target := strings.TrimSpace(gitdir)
		if target == "" {
			continue
		}
		if _, err := os.Lstat(target); !os.IsNotExist(err) {
			continue
		}
		if err := repoFS.RemoveAll(admin); err != nil {
			log.CleanupFailed(r.mon, Errorf(api.ErrSandboxCleanup, "%s", err), "stale sandbox admin dir "+name)
			continue
		}
		if !guid.Valid(name) {
			continue // not one of ours; leave its branch be.
		}
		if err := r.store.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
			log.CleanupFailed(r.mon, Errorf(api.ErrSandboxCleanup, "%s", err), "stale sandbox branch "+name)
		}
	}
}

func writeFile(afs fs.FS, path fs.RelPath, content string) error {
	return fsOp.PlaceFile(afs, fs.Metadata{
		Name:  path,
		Type:  fs.Type_File,
		Perms: 0644,
	}, strings.NewReader(content))
}

func readFile(afs fs.FS, path fs.RelPath) (string, error) {
	f, err := afs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()
	bs, err := ioutil.ReadAll(f)
	return string(bs), err
}
