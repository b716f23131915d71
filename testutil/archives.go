package testutil

import (
	"archive/tar"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

/*
	One entry of an archive fixture.

	Names ending in "/" are dirs.  A Linkname makes a symlink;
	a Hardlink (tar only) makes a hardlink to an earlier entry.
	Zero Mode means 0644 for files and 0755 for dirs.
*/
type FixtureEntry struct {
	Name     string
	Body     string
	Mode     os.FileMode
	Linkname string
	Hardlink string
}

var fixtureTime = time.Date(2019, 3, 14, 15, 9, 26, 0, time.UTC)

func (e FixtureEntry) isDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

func (e FixtureEntry) perms() os.FileMode {
	if e.Mode != 0 {
		return e.Mode
	}
	if e.isDir() {
		return 0755
	}
	return 0644
}

// WriteZip writes a deflated zip fixture to `path`.  Panics on failure.
func WriteZip(path string, entries ...FixtureEntry) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: fixtureTime,
		}
		mode := e.perms()
		body := e.Body
		switch {
		case e.isDir():
			mode |= os.ModeDir
			hdr.Method = zip.Store
		case e.Linkname != "":
			mode |= os.ModeSymlink
			body = e.Linkname
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			panic(err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
}

// WriteTar writes a tar fixture to `path`, gzipped if `gzipped` is set.  Panics on failure.
func WriteTar(path string, gzipped bool, entries ...FixtureEntry) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	var w io.Writer = f
	if gzipped {
		gz := gzip.NewWriter(f)
		defer func() {
			if err := gz.Close(); err != nil {
				panic(err)
			}
		}()
		w = gz
	}
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    int64(e.perms().Perm()),
			ModTime: fixtureTime,
		}
		switch {
		case e.isDir():
			hdr.Typeflag = tar.TypeDir
		case e.Linkname != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Linkname
		case e.Hardlink != "":
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = e.Hardlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			panic(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, e.Body); err != nil {
				panic(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		panic(err)
	}
}
