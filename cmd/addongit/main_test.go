package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/config"
	"github.com/polydawn/addongit/extract"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/gitstore"
	"github.com/polydawn/addongit/testutil"
)

type run struct {
	exitCode api.ExitCode
	stdout   string
	stderr   string
}

func invoke(t *testing.T, args ...string) run {
	return invokeWithContext(context.Background(), t, args...)
}

func invokeWithContext(ctx context.Context, t *testing.T, args ...string) run {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	stdin := &bytes.Buffer{}
	exitCode := Main(ctx, append([]string{"addongit"}, args...), stdin, stdout, stderr)
	t.Log(stdout.String())
	t.Log(stderr.String())
	return run{exitCode, stdout.String(), stderr.String()}
}

func parseResult(stdout string) api.Event_Result {
	var ev api.Event
	err := refmt.UnmarshalAtlased(json.DecodeOptions{}, []byte(strings.TrimSpace(stdout)), &ev, api.Atlas)
	So(err, ShouldBeNil)
	So(ev.Result, ShouldNotBeNil)
	return *ev.Result
}

func TestWithoutArgs(t *testing.T) {
	Convey("addongit: usage printed to stderr", t, func() {
		r := invoke(t)
		So(r.stdout, ShouldBeBlank)
		So(r.stderr, ShouldNotBeBlank)
		firstLine := strings.SplitN(r.stderr, "\n", 2)[0]
		So(firstLine, ShouldContainSubstring, "usage: addongit [<flags>] <command> [<args> ...]")
		So(r.exitCode, ShouldEqual, api.ExitUsage)
	})
}

func TestCommands(t *testing.T) {
	Convey("Given storage configured by environment", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			t.Setenv("ADDONGIT_STORAGE_ROOT", tmpDir.Join(fs.MustRelPath("repos")).String())
			t.Setenv("ADDONGIT_TMP_ROOT", tmpDir.Join(fs.MustRelPath("tmp")).String())
			archive := tmpDir.Join(fs.MustRelPath("upload.xpi")).String()
			testutil.WriteZip(archive,
				testutil.FixtureEntry{Name: "manifest.json", Body: `{"name":"fixture"}`},
				testutil.FixtureEntry{Name: "lib/", Mode: 0755},
				testutil.FixtureEntry{Name: "lib/main.js", Body: "main();"},
			)

			Convey("init prints the repository path", func() {
				r := invoke(t, "init", "42")
				So(r.exitCode, ShouldEqual, api.ExitSuccess)
				So(r.stdout, ShouldEqual, tmpDir.Join(fs.MustRelPath("repos/2/42/42/addon")).String()+"\n")

				Convey("and is idempotent", func() {
					r2 := invoke(t, "init", "42")
					So(r2.exitCode, ShouldEqual, api.ExitSuccess)
					So(r2.stdout, ShouldEqual, r.stdout)
				})
			})

			Convey("init of the source repository uses the kind as leaf", func() {
				r := invoke(t, "init", "42", "--kind=source")
				So(r.exitCode, ShouldEqual, api.ExitSuccess)
				So(r.stdout, ShouldEndWith, "/2/42/42/source\n")
			})

			Convey("init rejects artifact ids that aren't positive integers", func() {
				r := invoke(t, "--format=json", "init", "abc")
				So(r.exitCode, ShouldEqual, api.ExitUsage)
				result := parseResult(r.stdout)
				So(result.Error, ShouldNotBeNil)
				So(result.Error.Category, ShouldEqual, api.ErrUsage)
			})

			Convey("commit prints the new commit id", func() {
				r := invoke(t, "commit", "42", archive, "--channel=listed", "-m", "Create new version 1.0")
				So(r.exitCode, ShouldEqual, api.ExitSuccess)
				commitID := strings.TrimSpace(r.stdout)
				_, err := api.ParseCommitID(commitID)
				So(err, ShouldBeNil)

				Convey("log lists it above the root commit", func() {
					r := invoke(t, "--format=json", "log", "42", "--channel=listed")
					So(r.exitCode, ShouldEqual, api.ExitSuccess)
					result := parseResult(r.stdout)
					So(result.Error, ShouldBeNil)
					So(result.History, ShouldHaveLength, 2)
					So(string(result.History[0].CommitID), ShouldEqual, commitID)
					So(result.History[0].Message, ShouldEqual, "Create new version 1.0")
					So(result.History[0].Author.Name, ShouldEqual, "Mozilla Add-ons Robot")
					So(result.History[1].Message, ShouldEqual, "Initializing repository")
				})

				Convey("log in dumb mode prints one line per commit", func() {
					r := invoke(t, "log", "42", "--channel=listed")
					So(r.exitCode, ShouldEqual, api.ExitSuccess)
					lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
					So(lines, ShouldHaveLength, 2)
					So(lines[0], ShouldEqual, commitID+" Mozilla Add-ons Robot <addons-dev-automation+github@mozilla.com> Create new version 1.0")
				})

				Convey("ls-tree lists the files without the extraction prefix", func() {
					r := invoke(t, "--format=json", "ls-tree", "42", commitID)
					So(r.exitCode, ShouldEqual, api.ExitSuccess)
					result := parseResult(r.stdout)
					paths := make([]string, len(result.Files))
					for i, f := range result.Files {
						paths[i] = f.Path
					}
					So(paths, ShouldResemble, []string{"lib", "lib/main.js", "manifest.json"})
					So(result.Files[1].Mode, ShouldEqual, "0100644")
				})

				Convey("ls-tree of an unknown commit is not found", func() {
					r := invoke(t, "--format=json", "ls-tree", "42", strings.Repeat("0", 40))
					So(r.exitCode, ShouldEqual, api.ExitNotFound)
					So(parseResult(r.stdout).Error.Category, ShouldEqual, api.ErrNotFound)
				})

				Convey("the other channel has no branch yet", func() {
					r := invoke(t, "log", "42", "--channel=unlisted")
					So(r.exitCode, ShouldEqual, api.ExitNotFound)
					So(r.stdout, ShouldBeBlank)
					So(r.stderr, ShouldNotBeBlank)
				})
			})

			Convey("commit records an explicit author", func() {
				r := invoke(t, "--format=json", "commit", "42", archive,
					"--channel=unlisted", "-m", "by hand",
					"--author-name=Ada", "--author-email=ada@example.org",
				)
				So(r.exitCode, ShouldEqual, api.ExitSuccess)
				r = invoke(t, "--format=json", "log", "42", "--channel=unlisted")
				history := parseResult(r.stdout).History
				So(history[0].Author, ShouldResemble, api.Identity{Name: "Ada", Email: "ada@example.org"})
				So(history[0].Committer.Name, ShouldEqual, "Mozilla Add-ons Robot")
			})

			Convey("commit with half an author is a usage error", func() {
				r := invoke(t, "commit", "42", archive, "--channel=listed", "-m", "x", "--author-name=Ada")
				So(r.exitCode, ShouldEqual, api.ExitUsage)
			})

			Convey("commit with an unknown channel is a usage error", func() {
				r := invoke(t, "commit", "42", archive, "--channel=beta", "-m", "x")
				So(r.exitCode, ShouldEqual, api.ExitUsage)
			})

			Convey("commit of a corrupt archive is an extraction error", func() {
				r := invoke(t, "--format=json", "commit", "42", tmpDir.Join(fs.MustRelPath("missing.zip")).String(), "--channel=listed", "-m", "x")
				So(r.exitCode, ShouldEqual, api.ExitExtraction)
				So(parseResult(r.stdout).Error.Category, ShouldEqual, api.ErrExtraction)
			})

			Convey("verbose mode reports log events on stderr", func() {
				r := invoke(t, "--format=json", "--verbose", "commit", "42", archive, "--channel=listed", "-m", "x")
				So(r.exitCode, ShouldEqual, api.ExitSuccess)
				So(r.stderr, ShouldContainSubstring, `"msg":"committed"`)
				So(r.stderr, ShouldContainSubstring, `"msg":"initialized repository"`)
			})
		})
	})
}

// Cancels the run on its first wait, then waits far longer than any test.
type cancellingBackOff struct {
	cancel context.CancelFunc
}

func (b cancellingBackOff) NextBackOff() time.Duration {
	b.cancel()
	return time.Hour
}

func (b cancellingBackOff) Reset() {}

func TestCommitRetries(t *testing.T) {
	Convey("Given branch updates with compare-and-swap", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			t.Setenv("ADDONGIT_STORAGE_ROOT", tmpDir.Join(fs.MustRelPath("repos")).String())
			t.Setenv("ADDONGIT_TMP_ROOT", tmpDir.Join(fs.MustRelPath("tmp")).String())
			t.Setenv("ADDONGIT_COMPARE_AND_SWAP", "true")
			archive := tmpDir.Join(fs.MustRelPath("upload.xpi")).String()
			testutil.WriteZip(archive, testutil.FixtureEntry{Name: "manifest.json", Body: "{}"})

			// The first extraction races another writer, which lands a commit on the listed branch.
			var extractions int
			racingExtract := func(ctx context.Context, archivePath string, dest fs.AbsolutePath, mon api.Monitor) error {
				extractions++
				if extractions == 1 {
					cfg, err := config.Load(ctx)
					if err != nil {
						return err
					}
					other := gitstore.NewManager(cfg)
					repo, err := other.OpenOrInit(42, api.PackageKind_Addon)
					if err != nil {
						return err
					}
					if _, err := other.MaterializeRevision(ctx, repo, archivePath, api.Channel_Listed, "concurrent upload", nil); err != nil {
						return err
					}
				}
				return extract.Extract(ctx, archivePath, dest, mon)
			}
			newManager = func(cfg config.Config, opts ...gitstore.Option) *gitstore.Manager {
				return gitstore.NewManager(cfg, append(opts, gitstore.WithExtractor(racingExtract))...)
			}
			newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
			defer func() {
				newManager = gitstore.NewManager
				newBackOff = defaultBackOff
			}()

			Convey("a lost race is retried on top of the new tip", func() {
				r := invoke(t, "commit", "42", archive, "--channel=listed", "-m", "mine", "--retries=1")
				So(r.exitCode, ShouldEqual, api.ExitSuccess)
				So(extractions, ShouldEqual, 2)

				r = invoke(t, "--format=json", "log", "42", "--channel=listed")
				history := parseResult(r.stdout).History
				So(history, ShouldHaveLength, 3)
				So(history[0].Message, ShouldEqual, "mine")
				So(history[1].Message, ShouldEqual, "concurrent upload")
			})

			Convey("without retries the conflict is reported", func() {
				r := invoke(t, "--format=json", "commit", "42", archive, "--channel=listed", "-m", "mine")
				So(r.exitCode, ShouldEqual, api.ExitBranchConflict)
				So(parseResult(r.stdout).Error.Category, ShouldEqual, api.ErrBranchConflict)
				So(extractions, ShouldEqual, 1)
			})

			Convey("other errors are never retried", func() {
				missing := tmpDir.Join(fs.MustRelPath("missing.xpi")).String()
				r := invoke(t, "commit", "42", missing, "--channel=listed", "-m", "mine", "--retries=3")
				So(r.exitCode, ShouldEqual, api.ExitExtraction)
				So(extractions, ShouldEqual, 1)
			})

			Convey("cancellation while waiting to retry is reported as such", func() {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				newBackOff = func() backoff.BackOff { return cancellingBackOff{cancel} }
				r := invokeWithContext(ctx, t, "--format=json", "commit", "42", archive, "--channel=listed", "-m", "mine", "--retries=3")
				So(r.exitCode, ShouldEqual, api.ExitCancelled)
				So(parseResult(r.stdout).Error.Category, ShouldEqual, api.ErrCancelled)
				So(extractions, ShouldEqual, 1)
			})
		})
	})
}
