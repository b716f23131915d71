/*
	Archive extraction: given an uploaded archive and a destination directory,
	populate the directory with the archive's logical contents.

	Zip-family archives (addon packages), tarballs in several compressions
	(source bundles), and bare xml files (search plugins) are understood.
	Every error returned is categorized as api.ErrExtraction, or
	api.ErrCancelled if the context ended first.
*/
package extract

import (
	"context"
	"os"
	"path"
	"strings"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/fs/osfs"
)

type Format string

const (
	Format_Zip    Format = "zip"
	Format_Tar    Format = "tar"
	Format_TarGz  Format = "tar.gz"
	Format_TarBz2 Format = "tar.bz2"
	Format_TarXz  Format = "tar.xz"
	Format_Plain  Format = "plain" // a single file, copied as-is.
)

// Suffixes are checked in order; longer compound suffixes come first.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", Format_TarGz},
	{".tgz", Format_TarGz},
	{".tar.bz2", Format_TarBz2},
	{".tbz2", Format_TarBz2},
	{".tar.xz", Format_TarXz},
	{".txz", Format_TarXz},
	{".tar", Format_Tar},
	{".zip", Format_Zip},
	{".xpi", Format_Zip},
	{".jar", Format_Zip},
	{".crx", Format_Zip},
	{".xml", Format_Plain},
}

// DetectFormat picks the archive format from the file name.
func DetectFormat(filename string) (Format, error) {
	lower := strings.ToLower(path.Base(filename))
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, nil
		}
	}
	return "", Errorf(api.ErrExtraction, "unsupported archive type: %q", path.Base(filename))
}

/*
	Extract the archive at `archivePath` into `dest`, which must be an existing dir.

	Entries which would land outside of `dest` (by '..', absolute names, or
	by traversing symlinks placed earlier in the same archive) are rejected.
	Once everything is placed, all of it is fsync'd.
*/
func Extract(ctx context.Context, archivePath string, dest fs.AbsolutePath, mon api.Monitor) (err error) {
	defer RequireErrorHasCategory(&err, api.ErrorCategory(""))

	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}
	afs := osfs.New(dest)
	if stat, err := afs.LStat(fs.RelPath{}); err != nil || stat.Type != fs.Type_Dir {
		return Errorf(api.ErrExtraction, "extraction destination %s is not a usable dir", dest)
	}

	switch format {
	case Format_Zip:
		err = unpackZip(ctx, afs, archivePath, mon)
	case Format_Plain:
		err = copyPlain(afs, archivePath)
	default:
		err = unpackTar(ctx, afs, archivePath, format, mon)
	}
	if err != nil {
		return err
	}
	if err := syncTree(afs); err != nil {
		return Errorf(api.ErrExtraction, "error syncing extracted files: %s", err)
	}
	return nil
}

/*
	Normalizes an entry name from an archive header into a RelPath.

	Leading "./" and trailing "/" are tolerated; absolute names and any name
	that climbs out of the base with ".." are rejected.
	Names denoting the base dir itself come back as the zero RelPath,
	which callers skip.
*/
func entryPath(name string) (fs.RelPath, error) {
	if path.IsAbs(name) {
		return fs.RelPath{}, Errorf(api.ErrExtraction, "corrupt archive: absolute paths are invalid (%q)", name)
	}
	name = strings.TrimSuffix(name, "/")
	if name == "" {
		return fs.RelPath{}, nil
	}
	p := fs.MustRelPath(name)
	if p.GoesUp() {
		return fs.RelPath{}, Errorf(api.ErrExtraction, "corrupt archive: paths that use '../' to leave the base dir are invalid (%q)", name)
	}
	return p, nil
}

func cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return Errorf(api.ErrCancelled, "cancelled")
	}
	return nil
}

func copyPlain(afs fs.FS, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return Errorf(api.ErrExtraction, "cannot open archive: %s", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return Errorf(api.ErrExtraction, "cannot stat archive: %s", err)
	}
	return place(afs, fs.Metadata{
		Name:  fs.MustRelPath(path.Base(archivePath)),
		Type:  fs.Type_File,
		Perms: 0644,
		Mtime: fi.ModTime(),
	}, f)
}
