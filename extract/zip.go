package extract

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
	"github.com/polydawn/addongit/log"
)

// Symlink targets longer than this in a zip are considered corrupt.
const maxLinknameLen = 4096

func unpackZip(ctx context.Context, afs fs.FS, archivePath string, mon api.Monitor) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return Errorf(api.ErrExtraction, "corrupt zip: %s", err)
	}
	defer zr.Close()

	u := newUnpacker(afs, mon)
	for _, zf := range zr.File {
		if err := cancelled(ctx); err != nil {
			return err
		}

		// Reshuffle metainfo to our default format.
		fmeta, err := zipHdrToMetadata(&zf.FileHeader)
		if err != nil {
			return err
		}
		if fmeta.Name == (fs.RelPath{}) {
			continue
		}

		switch fmeta.Type {
		case fs.Type_File:
			body, err := zf.Open()
			if err != nil {
				return Errorf(api.ErrExtraction, "corrupt zip: %s", err)
			}
			err = u.placeEntry(fmeta, body)
			body.Close()
			if err != nil {
				return err
			}
		case fs.Type_Symlink:
			// Zip stores the link target as the entry body.
			body, err := zf.Open()
			if err != nil {
				return Errorf(api.ErrExtraction, "corrupt zip: %s", err)
			}
			target, err := ioutil.ReadAll(io.LimitReader(body, maxLinknameLen+1))
			body.Close()
			if err != nil {
				return Errorf(api.ErrExtraction, "corrupt zip: %s", err)
			}
			if len(target) > maxLinknameLen {
				return Errorf(api.ErrExtraction, "corrupt zip: symlink target for %q is too long", zf.Name)
			}
			fmeta.Linkname = string(target)
			if err := u.placeEntry(fmeta, nil); err != nil {
				return err
			}
		case fs.Type_Dir:
			if err := u.placeEntry(fmeta, nil); err != nil {
				return err
			}
		default:
			log.EntrySkipped(mon, zf.Name, string(fmeta.Type))
		}
	}
	return nil
}

// zipHdrToMetadata converts a zip header into our metadata form.
// Zips written without unix mode info get 0644 files and 0755 dirs.
func zipHdrToMetadata(hdr *zip.FileHeader) (fs.Metadata, error) {
	name, err := entryPath(hdr.Name)
	if err != nil {
		return fs.Metadata{}, err
	}
	fmeta := fs.Metadata{
		Name:  name,
		Mtime: hdr.Modified,
	}
	mode := hdr.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		fmeta.Type = fs.Type_Symlink
	case mode.IsDir() || strings.HasSuffix(hdr.Name, "/"):
		fmeta.Type = fs.Type_Dir
	case mode&os.ModeNamedPipe != 0:
		fmeta.Type = fs.Type_NamedPipe
	case mode&os.ModeSocket != 0:
		fmeta.Type = fs.Type_Socket
	case mode&os.ModeCharDevice != 0:
		fmeta.Type = fs.Type_CharDevice
	case mode&os.ModeDevice != 0:
		fmeta.Type = fs.Type_Device
	default:
		fmeta.Type = fs.Type_File
	}
	fmeta.Perms = fs.Perms(mode.Perm())
	if fmeta.Perms == 0 {
		fmeta.Perms = 0644
		if fmeta.Type == fs.Type_Dir {
			fmeta.Perms = fs.DefaultDirPerms
		}
	}
	return fmeta, nil
}
