package gitstore

import (
	"io/ioutil"
	"os"
	"sort"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/config"
	"github.com/polydawn/addongit/fs"
	. "github.com/polydawn/addongit/testutil"
)

var robot = api.Identity{Name: "Mozilla Add-ons Robot", Email: "addons-dev-automation+github@mozilla.com"}

func testConfig(tmpDir fs.AbsolutePath) config.Config {
	return config.Config{
		StorageRoot: tmpDir.Join(fs.MustRelPath("repos")).String(),
		TmpRoot:     tmpDir.Join(fs.MustRelPath("tmp")).String(),
		DefaultRef:  "refs/heads/master",
		RobotName:   robot.Name,
		RobotEmail:  robot.Email,
	}
}

// A clock that ticks one second per reading, so every commit gets a distinct timestamp.
func tickingClock() func() time.Time {
	t := time.Date(2019, 3, 14, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// Writes a zip fixture into tmpDir and returns its path.
func fixtureZip(tmpDir fs.AbsolutePath, name string, entries ...FixtureEntry) string {
	pth := tmpDir.Join(fs.MustRelPath(name)).String()
	WriteZip(pth, entries...)
	return pth
}

func filePaths(files []api.FileInfo) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func messages(history []api.CommitInfo) []string {
	msgs := make([]string, len(history))
	for i, c := range history {
		msgs[i] = c.Message
	}
	return msgs
}

func rawCommit(repo *Repository, id api.CommitID) *object.Commit {
	commit, err := object.GetCommit(repo.store, plumbing.NewHash(string(id)))
	So(err, ShouldBeNil)
	return commit
}

// Lists a dir's entries, sorted; a missing dir lists as empty.
func lsDir(pth string) []string {
	fis, err := ioutil.ReadDir(pth)
	if os.IsNotExist(err) {
		return []string{}
	}
	So(err, ShouldBeNil)
	names := make([]string, len(fis))
	for i, fi := range fis {
		names[i] = fi.Name()
	}
	sort.Strings(names)
	return names
}

// Asserts nothing a sandbox makes outlived it.
func shouldHaveNoSandboxes(repo *Repository, tmpRoot string, branches ...string) {
	So(lsDir(tmpRoot), ShouldResemble, []string{})
	So(lsDir(repo.Path().Join(worktreesDir).String()), ShouldResemble, []string{})
	sort.Strings(branches)
	So(lsDir(repo.Path().Join(fs.MustRelPath("refs/heads")).String()), ShouldResemble, branches)
}
