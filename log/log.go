/*
	Helper functions for emitting structured logs to the api.Monitor.

	These cover the common lifecycle events of extraction and of the
	commit pipeline, and keep the common stuff formatted in a common way.
	Callers can of course also write their own log events raw; it is freetext.
*/
package log

import (
	"fmt"
	"time"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
)

func emit(mon api.Monitor, level api.LogLevel, msg string, detail ...[2]string) {
	if mon.Chan == nil {
		return
	}
	mon.Chan <- api.Event{
		Log: &api.Event_Log{
			Time:   time.Now(),
			Level:  level,
			Msg:    msg,
			Detail: detail,
		},
	}
}

func DirectoryInferred(mon api.Monitor, dir fs.RelPath, child fs.RelPath) {
	emit(mon, api.LogInfo, "inferring directory",
		[2]string{"path", dir.String()},
		[2]string{"child", child.String()},
	)
}

func EntrySkipped(mon api.Monitor, name string, typ string) {
	emit(mon, api.LogWarn, fmt.Sprintf("skipping archive entry of unsupported type %q", typ),
		[2]string{"path", name},
	)
}

func RepositoryInitialized(mon api.Monitor, path fs.AbsolutePath, root string) {
	emit(mon, api.LogInfo, "initialized repository",
		[2]string{"repository", path.String()},
		[2]string{"root", root},
	)
}

// Another process initialized the repository between our existence check and our rename.
func InitRaceLost(mon api.Monitor, path fs.AbsolutePath) {
	emit(mon, api.LogDebug, "repository was initialized concurrently; using the existing one",
		[2]string{"repository", path.String()},
	)
}

// A temp dir from an initialization that never finished was removed.
func StaleInitRemoved(mon api.Monitor, path fs.AbsolutePath) {
	emit(mon, api.LogInfo, "removed abandoned repository init dir",
		[2]string{"path", path.String()},
	)
}

func BranchCreated(mon api.Monitor, repo fs.AbsolutePath, branch string, at string) {
	emit(mon, api.LogInfo, "created branch",
		[2]string{"repository", repo.String()},
		[2]string{"branch", branch},
		[2]string{"at", at},
	)
}

func SandboxAcquired(mon api.Monitor, repo fs.AbsolutePath, name string, path fs.AbsolutePath) {
	emit(mon, api.LogDebug, "acquired sandbox",
		[2]string{"repository", repo.String()},
		[2]string{"sandbox", name},
		[2]string{"path", path.String()},
	)
}

func SandboxReleased(mon api.Monitor, repo fs.AbsolutePath, name string) {
	emit(mon, api.LogDebug, "released sandbox",
		[2]string{"repository", repo.String()},
		[2]string{"sandbox", name},
	)
}

func PathRenamed(mon api.Monitor, from fs.RelPath, to fs.RelPath) {
	emit(mon, api.LogInfo, "renamed reserved path",
		[2]string{"from", from.String()},
		[2]string{"to", to.String()},
	)
}

// Typically called with an api.ErrSandboxCleanup; these are never returned, only reported.
func CleanupFailed(mon api.Monitor, err error, what string) {
	emit(mon, api.LogWarn, fmt.Sprintf("%s while cleaning up %s: %s", api.ErrSandboxCleanup, what, err),
		[2]string{"error", err.Error()},
	)
}

func Committed(mon api.Monitor, repo fs.AbsolutePath, branch string, commit string, parent string) {
	emit(mon, api.LogInfo, "committed",
		[2]string{"repository", repo.String()},
		[2]string{"branch", branch},
		[2]string{"commit", commit},
		[2]string{"parent", parent},
	)
}

func FileSkipped(mon api.Monitor, path fs.RelPath, typ string) {
	emit(mon, api.LogWarn, fmt.Sprintf("not staging file of unsupported type %q", typ),
		[2]string{"path", path.String()},
	)
}
