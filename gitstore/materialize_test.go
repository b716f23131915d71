package gitstore

import (
	"context"
	"fmt"
	"io/ioutil"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	. "github.com/warpfork/go-errcat"
	"golang.org/x/sync/errgroup"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/extract"
	"github.com/polydawn/addongit/fs"
	. "github.com/polydawn/addongit/testutil"
)

func TestMaterializeRevision(t *testing.T) {
	ctx := context.Background()
	Convey("Materializing revisions:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			cfg := testConfig(tmpDir)
			mgr := NewManager(cfg, WithClock(tickingClock()))
			repo, err := mgr.OpenOrInit(42, api.PackageKind_Addon)
			So(err, ShouldBeNil)
			root, err := repo.RootCommit()
			So(err, ShouldBeNil)

			archive := fixtureZip(tmpDir, "rev1.xpi",
				FixtureEntry{Name: "manifest.json", Body: `{"name": "forty-two"}`},
				FixtureEntry{Name: "README.md", Body: "# hi"},
			)

			Convey("the first revision on a channel sits directly on the root commit", func() {
				commitID, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 1", nil)
				So(err, ShouldBeNil)
				tip, err := repo.Branch(api.Channel_Listed)
				So(err, ShouldBeNil)
				So(tip, ShouldEqual, commitID)

				history, err := repo.History(api.Channel_Listed)
				So(err, ShouldBeNil)
				So(messages(history), ShouldResemble, []string{"rev 1", "Initializing repository"})
				So(history[1].CommitID, ShouldEqual, root)

				files, err := repo.Files(commitID)
				So(err, ShouldBeNil)
				So(filePaths(files), ShouldResemble, []string{"README.md", "manifest.json"})

				Convey("the committed bytes are the archive's bytes", func() {
					tree, err := repo.ExtractedTree(commitID)
					So(err, ShouldBeNil)
					file, err := tree.File("manifest.json")
					So(err, ShouldBeNil)
					content, err := file.Contents()
					So(err, ShouldBeNil)
					So(content, ShouldEqual, `{"name": "forty-two"}`)
				})
				Convey("every path in the commit is under the extraction prefix", func() {
					commit := rawCommit(repo, commitID)
					tree, err := commit.Tree()
					So(err, ShouldBeNil)
					So(tree.Entries, ShouldHaveLength, 1)
					So(tree.Entries[0].Name, ShouldEqual, "extracted")
				})
				Convey("the root commit has no extracted tree", func() {
					_, err := repo.ExtractedTree(root)
					So(err, ErrorShouldHaveCategory, api.ErrNotFound)
				})
				Convey("no sandbox outlives the call", func() {
					shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master")
				})

				Convey("a revision on another channel starts from the root commit, not the other channel", func() {
					archive2 := fixtureZip(tmpDir, "rev2.xpi", FixtureEntry{Name: "manifest.json", Body: "{}"})
					commitID2, err := mgr.MaterializeRevision(ctx, repo, archive2, api.Channel_Unlisted, "rev 2", nil)
					So(err, ShouldBeNil)
					So(rawCommit(repo, commitID2).ParentHashes, ShouldResemble, []plumbing.Hash{plumbing.NewHash(string(root))})

					tip, err := repo.Branch(api.Channel_Listed)
					So(err, ShouldBeNil)
					So(tip, ShouldEqual, commitID)
					files, err := repo.Files(commitID2)
					So(err, ShouldBeNil)
					So(filePaths(files), ShouldResemble, []string{"manifest.json"})
					shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master", "unlisted")
				})
				Convey("a following revision on the same channel replaces the whole file set", func() {
					archive2 := fixtureZip(tmpDir, "rev2.xpi", FixtureEntry{Name: "other.js", Body: "1"})
					commitID2, err := mgr.MaterializeRevision(ctx, repo, archive2, api.Channel_Listed, "rev 2", nil)
					So(err, ShouldBeNil)
					So(rawCommit(repo, commitID2).ParentHashes, ShouldResemble, []plumbing.Hash{plumbing.NewHash(string(commitID))})
					files, err := repo.Files(commitID2)
					So(err, ShouldBeNil)
					So(filePaths(files), ShouldResemble, []string{"other.js"})
				})
			})
			Convey("the author is the uploader, and the committer is always the service", func() {
				commitID, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 1", &api.Identity{Name: "A", Email: "a@x.com"})
				So(err, ShouldBeNil)
				info, err := repo.Commit(commitID)
				So(err, ShouldBeNil)
				So(info.Author, ShouldResemble, api.Identity{Name: "A", Email: "a@x.com"})
				So(info.Committer, ShouldResemble, robot)
			})
			Convey("without an uploader, the service is the author too", func() {
				commitID, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 1", nil)
				So(err, ShouldBeNil)
				info, err := repo.Commit(commitID)
				So(err, ShouldBeNil)
				So(info.Author, ShouldResemble, robot)
			})
			Convey("serial revisions form a linear chain in call order", func() {
				const n = 5
				for i := 1; i <= n; i++ {
					archive := fixtureZip(tmpDir, fmt.Sprintf("rev%d.xpi", i), FixtureEntry{Name: "version.txt", Body: fmt.Sprint(i)})
					_, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, fmt.Sprintf("rev %d", i), nil)
					So(err, ShouldBeNil)
				}
				history, err := repo.History(api.Channel_Listed)
				So(err, ShouldBeNil)
				So(messages(history), ShouldResemble, []string{"rev 5", "rev 4", "rev 3", "rev 2", "rev 1", "Initializing repository"})
				for i, info := range history[:n] {
					So(rawCommit(repo, info.CommitID).ParentHashes, ShouldResemble, []plumbing.Hash{plumbing.NewHash(string(history[i+1].CommitID))})
				}
				shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master")
			})
			Convey("paths named .git are renamed at every depth", func() {
				archive := fixtureZip(tmpDir, "sneaky.xpi",
					FixtureEntry{Name: "manifest.json", Body: "{}"},
					FixtureEntry{Name: ".git/config", Body: "[core]"},
					FixtureEntry{Name: "lib/.git", Body: "gitdir: /etc"},
					FixtureEntry{Name: "deep/.git/hooks/.git/x", Body: "x"},
				)
				commitID, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "sneaky", nil)
				So(err, ShouldBeNil)
				files, err := repo.Files(commitID)
				So(err, ShouldBeNil)
				paths := filePaths(files)
				for _, p := range paths {
					for _, segment := range strings.Split(p, "/") {
						So(segment, ShouldNotEqual, ".git")
					}
				}
				renamed := `\.git\.[0-9a-f]{8}`
				So(paths, shouldContainMatch, `^`+renamed+`/config$`)
				So(paths, shouldContainMatch, `^lib/`+renamed+`$`)
				So(paths, shouldContainMatch, `^deep/`+renamed+`/hooks/`+renamed+`/x$`)
				So(paths, ShouldContain, "manifest.json")
			})
			Convey("file modes are recorded", func() {
				archive := fixtureZip(tmpDir, "modes.xpi",
					FixtureEntry{Name: "bin/run.sh", Body: "#!/bin/sh\n", Mode: 0755},
					FixtureEntry{Name: "bin/link", Linkname: "run.sh"},
					FixtureEntry{Name: "empty/"},
					FixtureEntry{Name: "plain.txt", Body: "plain", Mode: 0600},
				)
				commitID, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "modes", nil)
				So(err, ShouldBeNil)
				files, err := repo.Files(commitID)
				So(err, ShouldBeNil)
				modes := map[string]string{}
				for _, f := range files {
					modes[f.Path] = f.Mode
				}
				So(modes, ShouldResemble, map[string]string{
					"bin":        filemode.Dir.String(),
					"bin/link":   filemode.Symlink.String(),
					"bin/run.sh": filemode.Executable.String(),
					"plain.txt":  filemode.Regular.String(),
				})
				tree, err := repo.ExtractedTree(commitID)
				So(err, ShouldBeNil)
				link, err := tree.File("bin/link")
				So(err, ShouldBeNil)
				target, err := link.Contents()
				So(err, ShouldBeNil)
				So(target, ShouldEqual, "run.sh")
			})
			Convey("a corrupt archive fails extraction and leaves nothing behind", func() {
				broken := tmpDir.Join(fs.MustRelPath("broken.xpi")).String()
				So(ioutil.WriteFile(broken, []byte("not a zip"), 0644), ShouldBeNil)
				_, err := mgr.MaterializeRevision(ctx, repo, broken, api.Channel_Listed, "broken", nil)
				So(err, ErrorShouldHaveCategory, api.ErrExtraction)
				tip, err := repo.Branch(api.Channel_Listed)
				So(err, ShouldBeNil)
				So(tip, ShouldEqual, root)
				shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master")
			})
			Convey("an unknown channel is a usage error", func() {
				_, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel("beta"), "nope", nil)
				So(err, ErrorShouldHaveCategory, api.ErrUsage)
			})
			Convey("cancellation before the branch update leaves the branch alone", func() {
				cctx, cancel := context.WithCancel(ctx)
				mgr := NewManager(cfg, WithExtractor(func(ctx context.Context, archivePath string, dest fs.AbsolutePath, mon api.Monitor) error {
					err := extract.Extract(ctx, archivePath, dest, mon)
					cancel()
					return err
				}))
				_, err := mgr.MaterializeRevision(cctx, repo, archive, api.Channel_Listed, "rev 1", nil)
				So(err, ErrorShouldHaveCategory, api.ErrCancelled)
				tip, err := repo.Branch(api.Channel_Listed)
				So(err, ShouldBeNil)
				So(tip, ShouldEqual, root)
				shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master")
			})
			Convey("an already-cancelled context does nothing", func() {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := mgr.MaterializeRevision(cctx, repo, archive, api.Channel_Listed, "rev 1", nil)
				So(err, ErrorShouldHaveCategory, api.ErrCancelled)
				_, err = repo.Branch(api.Channel_Listed)
				So(err, ErrorShouldHaveCategory, api.ErrNotFound)
			})
			Convey("when the branch moves mid-commit", func() {
				first, err := mgr.MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 1", nil)
				So(err, ShouldBeNil)
				// An extractor that rewinds the branch to the root while we're working.
				meddling := WithExtractor(func(ctx context.Context, archivePath string, dest fs.AbsolutePath, mon api.Monitor) error {
					ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName("listed"), plumbing.NewHash(string(root)))
					if err := repo.store.SetReference(ref); err != nil {
						return err
					}
					return extract.Extract(ctx, archivePath, dest, mon)
				})

				Convey("last writer wins by default", func() {
					second, err := NewManager(cfg, meddling).MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 2", nil)
					So(err, ShouldBeNil)
					tip, err := repo.Branch(api.Channel_Listed)
					So(err, ShouldBeNil)
					So(tip, ShouldEqual, second)
					So(rawCommit(repo, second).ParentHashes, ShouldResemble, []plumbing.Hash{plumbing.NewHash(string(first))})
				})
				Convey("compare-and-swap reports a conflict and leaves the branch alone", func() {
					casCfg := cfg
					casCfg.CompareAndSwap = true
					_, err := NewManager(casCfg, meddling).MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 2", nil)
					So(err, ErrorShouldHaveCategory, api.ErrBranchConflict)
					tip, err := repo.Branch(api.Channel_Listed)
					So(err, ShouldBeNil)
					So(tip, ShouldEqual, root)
					shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master")
				})
				Convey("compare-and-swap succeeds when nothing moved", func() {
					casCfg := cfg
					casCfg.CompareAndSwap = true
					second, err := NewManager(casCfg).MaterializeRevision(ctx, repo, archive, api.Channel_Listed, "rev 2", nil)
					So(err, ShouldBeNil)
					tip, err := repo.Branch(api.Channel_Listed)
					So(err, ShouldBeNil)
					So(tip, ShouldEqual, second)
				})
			})
			Convey("concurrent revisions never see each other's sandboxes", Requires(RequiresLongRun, func() {
				const workers = 6
				commits := make([]api.CommitID, workers)
				var g errgroup.Group
				for i := 0; i < workers; i++ {
					i := i
					channel := api.Channel_Listed
					if i%2 == 1 {
						channel = api.Channel_Unlisted
					}
					archive := fixtureZip(tmpDir, fmt.Sprintf("w%d.xpi", i), FixtureEntry{Name: fmt.Sprintf("worker-%d.txt", i), Body: "hi"})
					g.Go(func() error {
						mgr := NewManager(cfg)
						repo, err := mgr.OpenOrInit(42, api.PackageKind_Addon)
						if err != nil {
							return err
						}
						commits[i], err = mgr.MaterializeRevision(ctx, repo, archive, channel, fmt.Sprintf("worker %d", i), nil)
						return err
					})
				}
				So(g.Wait(), ShouldBeNil)
				for i, commitID := range commits {
					files, err := repo.Files(commitID)
					So(err, ShouldBeNil)
					So(filePaths(files), ShouldResemble, []string{fmt.Sprintf("worker-%d.txt", i)})
				}
				shouldHaveNoSandboxes(repo, cfg.TmpRoot, "listed", "master", "unlisted")
			}))
			Convey("metrics count outcomes", func() {
				metrics := NewMetrics(prometheus.NewRegistry())
				mgr := NewManager(cfg, WithMetrics(metrics))
				sneaky := fixtureZip(tmpDir, "sneaky.xpi", FixtureEntry{Name: "a/.git/config", Body: "x"})
				_, err := mgr.MaterializeRevision(ctx, repo, sneaky, api.Channel_Listed, "ok", nil)
				So(err, ShouldBeNil)
				_, err = mgr.MaterializeRevision(ctx, repo, tmpDir.Join(fs.MustRelPath("missing.xpi")).String(), api.Channel_Listed, "bad", nil)
				So(err, ErrorShouldHaveCategory, api.ErrExtraction)

				So(promtest.ToFloat64(metrics.materialized.WithLabelValues("addon", "listed", "ok")), ShouldEqual, 1)
				So(promtest.ToFloat64(metrics.materialized.WithLabelValues("addon", "listed", string(api.ErrExtraction))), ShouldEqual, 1)
				So(promtest.ToFloat64(metrics.sanitized), ShouldEqual, 1)
			})
		})
	})
}

func TestCommitVersion(t *testing.T) {
	ctx := context.Background()
	Convey("Committing versions:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			mgr := NewManager(testConfig(tmpDir))
			version := api.VersionInfo{
				Addon:     1234,
				AddonName: "Tab Juggler",
				Version:   "1.0.2",
				VersionID: 987,
				Channel:   api.Channel_Unlisted,
				File:      fixtureZip(tmpDir, "tab_juggler-1.0.2.xpi", FixtureEntry{Name: "manifest.json", Body: "{}"}),
			}

			Convey("the packaged file goes to the addon repository", func() {
				commitID, err := mgr.CommitVersion(ctx, version, nil)
				So(err, ShouldBeNil)
				So(mgr.Exists(1234, api.PackageKind_Addon), ShouldBeTrue)
				So(mgr.Exists(1234, api.PackageKind_Source), ShouldBeFalse)
				repo, err := mgr.OpenOrInit(1234, api.PackageKind_Addon)
				So(err, ShouldBeNil)
				info, err := repo.Commit(commitID)
				So(err, ShouldBeNil)
				So(info.Message, ShouldEqual, "Create new version 1.0.2 (987) for Tab Juggler from tab_juggler-1.0.2.xpi")
				tip, err := repo.Branch(api.Channel_Unlisted)
				So(err, ShouldBeNil)
				So(tip, ShouldEqual, commitID)
			})
			Convey("the source bundle goes to the source repository", func() {
				WriteTar(tmpDir.Join(fs.MustRelPath("src.tar.gz")).String(), true, FixtureEntry{Name: "src/main.js", Body: "x"})
				version.Source = tmpDir.Join(fs.MustRelPath("src.tar.gz")).String()
				commitID, err := mgr.CommitVersionSource(ctx, version, &api.Identity{Name: "Dev", Email: "dev@example.org"})
				So(err, ShouldBeNil)
				repo, err := mgr.OpenOrInit(1234, api.PackageKind_Source)
				So(err, ShouldBeNil)
				info, err := repo.Commit(commitID)
				So(err, ShouldBeNil)
				So(info.Message, ShouldEqual, "Create new version 1.0.2 (987) for Tab Juggler from source file")
				So(info.Author.Name, ShouldEqual, "Dev")
				files, err := repo.Files(commitID)
				So(err, ShouldBeNil)
				So(filePaths(files), ShouldResemble, []string{"src", "src/main.js"})
			})
			Convey("a version without a source bundle can't commit one", func() {
				_, err := mgr.CommitVersionSource(ctx, version, nil)
				So(err, ErrorShouldHaveCategory, api.ErrUsage)
			})
		})
	})
}

// shouldContainMatch asserts that some string in the slice matches the regexp.
func shouldContainMatch(actual interface{}, expected ...interface{}) string {
	pattern := regexp.MustCompile(expected[0].(string))
	for _, s := range actual.([]string) {
		if pattern.MatchString(s) {
			return ""
		}
	}
	return fmt.Sprintf("Expected some element of %q to match %q", actual, expected[0])
}
