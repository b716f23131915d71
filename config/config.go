/*
	Helpers for loading contextual config.

	Config for addongit means "things that are the host machine operator's concerns":
	where repositories live, where sandboxes are made, and which identity
	the service commits as.  These are read from the environment once, by the
	outermost caller, and then passed down; nothing below the CLI reads the
	environment itself.
*/
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-envconfig"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
)

type Config struct {
	// Root of the sharded repository tree.
	StorageRoot string `env:"ADDONGIT_STORAGE_ROOT,default=/var/lib/addongit/repos"`

	// Parent dir for sandboxes and in-progress repository inits.
	// Empty means the OS temp dir.
	TmpRoot string `env:"ADDONGIT_TMP_ROOT"`

	// The ref HEAD points at in every repository; it holds the root commit.
	DefaultRef string `env:"ADDONGIT_DEFAULT_REF,default=refs/heads/master"`

	RobotName  string `env:"ADDONGIT_ROBOT_NAME,default=Mozilla Add-ons Robot"`
	RobotEmail string `env:"ADDONGIT_ROBOT_EMAIL,default=addons-dev-automation+github@mozilla.com"`

	// When set, branch updates fail with ErrBranchConflict if the tip
	// moved while the commit was being built.
	CompareAndSwap bool `env:"ADDONGIT_COMPARE_AND_SWAP,default=false"`
}

// Load reads config from the process environment.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

/*
	LoadWith reads config from an arbitrary lookuper.

	Errors are categorized as api.ErrUsage: a bad environment is the
	operator's mistake.
*/
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, Errorf(api.ErrUsage, "invalid configuration: %s", err)
	}
	if !strings.HasPrefix(cfg.DefaultRef, "refs/heads/") {
		return Config{}, Errorf(api.ErrUsage, "invalid configuration: default ref %q must be a branch under refs/heads/", cfg.DefaultRef)
	}
	return cfg, nil
}

/*
	Return the path that is the root of all repositories.

	The default value is `"/var/lib/addongit/repos"`;
	this can be overriden by the `ADDONGIT_STORAGE_ROOT` environment variable.
	Relative values are taken relative to the working directory.
*/
func (cfg Config) GetStorageRoot() fs.AbsolutePath {
	return mustAbs(cfg.StorageRoot)
}

/*
	Return the path under which sandboxes are created.

	The default is the OS temp dir;
	this can be overriden by the `ADDONGIT_TMP_ROOT` environment variable.
*/
func (cfg Config) GetTmpRoot() fs.AbsolutePath {
	if cfg.TmpRoot == "" {
		return mustAbs(os.TempDir())
	}
	return mustAbs(cfg.TmpRoot)
}

func (cfg Config) Robot() api.Identity {
	return api.Identity{Name: cfg.RobotName, Email: cfg.RobotEmail}
}

func mustAbs(pth string) fs.AbsolutePath {
	pth, err := filepath.Abs(pth)
	if err != nil {
		panic(err)
	}
	return fs.MustAbsolutePath(pth)
}
