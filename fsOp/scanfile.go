package fsOp

import (
	"io"
	"os"

	"github.com/polydawn/addongit/fs"
)

/*
	Scan file attributes into an `fs.Metadata` struct, and return an
	`io.ReadCloser` for the file content.

	The reader is nil if the path is any type other than a file.  If a
	reader is returned, the caller is expected to close it.
*/
func ScanFile(afs fs.FS, path fs.RelPath) (*fs.Metadata, io.ReadCloser, error) {
	// most of the heavy work is already done by fs.Lstat; this just adds the content.
	fmeta, err := afs.LStat(path)
	if err != nil {
		return nil, nil, err
	}
	if fmeta.Type != fs.Type_File {
		return fmeta, nil, nil
	}
	body, err := afs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmeta, nil, err
	}
	return fmeta, body, nil
}
