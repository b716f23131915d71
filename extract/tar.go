package extract

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	. "github.com/warpfork/go-errcat"
	"github.com/xi2/xz"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/log"
)

func unpackTar(ctx context.Context, afs fs.FS, archivePath string, format Format, mon api.Monitor) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return Errorf(api.ErrExtraction, "cannot open archive: %s", err)
	}
	defer f.Close()
	reader, err := decompress(bufio.NewReader(f), format)
	if err != nil {
		return err
	}

	u := newUnpacker(afs, mon)
	tr := tar.NewReader(reader)
	for {
		if err := cancelled(ctx); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil // success!  end of archive.
		}
		if err != nil {
			return Errorf(api.ErrExtraction, "corrupt tar: %s", err)
		}

		name, err := entryPath(hdr.Name)
		if err != nil {
			return err
		}
		if name == (fs.RelPath{}) {
			continue
		}
		// Ownership is dropped, and so are setuid/setgid/sticky.
		fmeta := fs.Metadata{
			Name:  name,
			Perms: fs.Perms(hdr.Mode & 0777),
			Mtime: hdr.ModTime,
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			fmeta.Type = fs.Type_File
			err = u.placeEntry(fmeta, tr)
		case tar.TypeDir:
			fmeta.Type = fs.Type_Dir
			err = u.placeEntry(fmeta, nil)
		case tar.TypeSymlink:
			fmeta.Type = fs.Type_Symlink
			fmeta.Linkname = hdr.Linkname
			err = u.placeEntry(fmeta, nil)
		case tar.TypeLink:
			var target fs.RelPath
			target, err = entryPath(hdr.Linkname)
			if err == nil {
				err = u.placeHardlink(fmeta, target)
			}
		case tar.TypeXGlobalHeader:
			continue
		default:
			log.EntrySkipped(mon, hdr.Name, string(hdr.Typeflag))
		}
		if err != nil {
			return err
		}
	}
}

func decompress(r io.Reader, format Format) (io.Reader, error) {
	switch format {
	case Format_Tar:
		return r, nil
	case Format_TarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, Errorf(api.ErrExtraction, "corrupt gzip: %s", err)
		}
		return gz, nil
	case Format_TarBz2:
		return bzip2.NewReader(r), nil
	case Format_TarXz:
		xr, err := xz.NewReader(r, 0)
		if err != nil {
			return nil, Errorf(api.ErrExtraction, "corrupt xz: %s", err)
		}
		return xr, nil
	default:
		return nil, Errorf(api.ErrExtraction, "not a tar format: %q", format)
	}
}
