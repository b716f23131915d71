/*
	Package gitstore keeps one git repository per (artifact, package kind),
	and records every uploaded revision of the artifact as a commit on the
	branch of its release channel.

	Each revision is built in its own sandbox: a linked working copy in a
	temp dir with its own index and its own ephemeral branch, sharing the
	repository's object store.  Concurrent revisions therefore never see
	each other's files; the branch pointer update is the only contended
	step, and is the last one.
*/
package gitstore

import (
	"context"
	"io/ioutil"
	"os"
	"strings"
	"time"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-billy.v4/osfs"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/cache"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage/filesystem"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/config"
	"github.com/polydawn/addongit/extract"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/log"
)

/*
	ExtractFunc populates the existing dir `dest` with the logical contents
	of the archive at `archivePath`.

	Errors should be categorized; anything other than api.ErrCancelled is
	reported as api.ErrExtraction.
*/
const (
	initPrefix   = ".init-"
	staleInitAge = time.Hour
)

type ExtractFunc func(ctx context.Context, archivePath string, dest fs.AbsolutePath, mon api.Monitor) error

type Manager struct {
	storageRoot    fs.AbsolutePath
	tmpRoot        fs.AbsolutePath
	defaultRef     plumbing.ReferenceName
	robot          api.Identity
	compareAndSwap bool

	extract ExtractFunc
	now     func() time.Time
	mon     api.Monitor
	metrics *Metrics
}

type Option func(*Manager)

// WithExtractor replaces the archive extraction step.
func WithExtractor(fn ExtractFunc) Option {
	return func(m *Manager) { m.extract = fn }
}

// WithClock replaces the source of commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMonitor(mon api.Monitor) Option {
	return func(m *Manager) { m.mon = mon }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func NewManager(cfg config.Config, opts ...Option) *Manager {
	m := &Manager{
		storageRoot:    cfg.GetStorageRoot(),
		tmpRoot:        cfg.GetTmpRoot(),
		defaultRef:     plumbing.ReferenceName(cfg.DefaultRef),
		robot:          cfg.Robot(),
		compareAndSwap: cfg.CompareAndSwap,
		extract:        extract.Extract,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns where the repository for this artifact and kind lives (or would live).
func (m *Manager) Path(artifact api.ArtifactID, kind api.PackageKind) (fs.AbsolutePath, error) {
	shard, err := ShardPath(artifact)
	if err != nil {
		return fs.AbsolutePath{}, err
	}
	if _, err := api.ParsePackageKind(string(kind)); err != nil {
		return fs.AbsolutePath{}, err
	}
	return m.storageRoot.Join(shard).Join(fs.MustRelPath(string(kind))), nil
}

// Exists reports whether the repository has been created on disk.
func (m *Manager) Exists(artifact api.ArtifactID, kind api.PackageKind) bool {
	pth, err := m.Path(artifact, kind)
	if err != nil {
		return false
	}
	_, err = os.Stat(pth.String())
	return err == nil
}

/*
	OpenOrInit opens the repository for this artifact and kind,
	creating it first if it does not exist yet.

	A new repository is a bare object store whose HEAD refers to the
	configured default ref, which holds a single root commit with an empty
	tree, authored and committed by the service identity.

	Creation happens in a temp dir beside the final path which is then
	renamed into place, so concurrent callers never see a half-made
	repository.  When two callers race to create the same repository, one
	rename wins and the other caller opens the winner's repository.

	May return errors of category:

	  - `api.ErrUsage` -- for invalid artifact ids or kinds
	  - `api.ErrRepositoryIO` -- if the repository cannot be created or opened
*/
func (m *Manager) OpenOrInit(artifact api.ArtifactID, kind api.PackageKind) (_ *Repository, err error) {
	defer RequireErrorHasCategory(&err, api.ErrorCategory(""))

	pth, err := m.Path(artifact, kind)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(pth.String()); err == nil {
		return m.open(pth, kind)
	} else if !os.IsNotExist(err) {
		return nil, Errorf(api.ErrRepositoryIO, "cannot stat repository path: %s", err)
	}
	return m.initialize(pth, kind)
}

func (m *Manager) open(pth fs.AbsolutePath, kind api.PackageKind) (*Repository, error) {
	store := filesystem.NewStorage(osfs.New(pth.String()), cache.NewObjectLRUDefault())
	if _, err := git.Open(store, nil); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot open repository at %s: %s", pth, err)
	}
	if _, err := store.Reference(m.defaultRef); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "repository at %s has no %s: %s", pth, m.defaultRef, err)
	}
	return &Repository{
		path:       pth,
		kind:       kind,
		store:      store,
		defaultRef: m.defaultRef,
		mon:        m.mon,
	}, nil
}

func (m *Manager) initialize(pth fs.AbsolutePath, kind api.PackageKind) (*Repository, error) {
	if err := os.MkdirAll(pth.Dir().String(), 0755); err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot create repository parent dirs: %s", err)
	}
	m.sweepStaleInits(pth.Dir())
	tmp, err := ioutil.TempDir(pth.Dir().String(), initPrefix+string(kind)+"-")
	if err != nil {
		return nil, Errorf(api.ErrRepositoryIO, "cannot create repository: %s", err)
	}
	if err := os.Chmod(tmp, 0755); err != nil {
		os.RemoveAll(tmp)
		return nil, Errorf(api.ErrRepositoryIO, "cannot create repository: %s", err)
	}
	root, err := m.initStore(tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, pth.String()); err != nil {
		os.RemoveAll(tmp)
		if _, statErr := os.Lstat(pth.String()); statErr == nil {
			log.InitRaceLost(m.mon, pth)
			return m.open(pth, kind)
		}
		return nil, Errorf(api.ErrRepositoryIO, "cannot move new repository into place: %s", err)
	}
	log.RepositoryInitialized(m.mon, pth, root.String())
	return m.open(pth, kind)
}

/*
	Removes temp dirs left in `dir` by initializations that died before
	their rename.  Only dirs older than staleInitAge are touched, so a
	concurrent initialization in progress is left alone.
*/
func (m *Manager) sweepStaleInits(dir fs.AbsolutePath) {
	entries, err := ioutil.ReadDir(dir.String())
	if err != nil {
		return
	}
	for _, fi := range entries {
		if !fi.IsDir() || !strings.HasPrefix(fi.Name(), initPrefix) {
			continue
		}
		if time.Since(fi.ModTime()) < staleInitAge {
			continue
		}
		stale := dir.Join(fs.MustRelPath(fi.Name()))
		if err := os.RemoveAll(stale.String()); err != nil {
			log.CleanupFailed(m.mon, Errorf(api.ErrSandboxCleanup, "%s", err), "abandoned init dir "+stale.String())
			continue
		}
		log.StaleInitRemoved(m.mon, stale)
	}
}

// initStore makes a bare repository at `dir` holding just the root commit, and returns that commit's hash.
func (m *Manager) initStore(dir string) (plumbing.Hash, error) {
	store := filesystem.NewStorage(osfs.New(dir), cache.NewObjectLRUDefault())
	if _, err := git.Init(store, nil); err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot initialize repository: %s", err)
	}
	if err := store.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, m.defaultRef)); err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot point HEAD at %s: %s", m.defaultRef, err)
	}
	emptyTree, err := storeTree(store, nil)
	if err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot write root tree: %s", err)
	}
	now := m.now()
	root, err := storeCommit(store, &object.Commit{
		Author:    signature(m.robot, now),
		Committer: signature(m.robot, now),
		Message:   rootCommitMessage,
		TreeHash:  emptyTree,
	})
	if err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot write root commit: %s", err)
	}
	if err := store.SetReference(plumbing.NewHashReference(m.defaultRef, root)); err != nil {
		return plumbing.ZeroHash, Errorf(api.ErrRepositoryIO, "cannot set %s: %s", m.defaultRef, err)
	}
	return root, nil
}
