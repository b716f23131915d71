package testutil

import (
	"io/ioutil"
	"os"

	"github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/addongit/fs"
)

/*
	Creates a fresh temp dir, hands it to the function, and removes it again afterwards.
*/
func WithTmpdir(fn func(tmpDir fs.AbsolutePath)) {
	dir, err := ioutil.TempDir("", "addongit-test-")
	if err != nil {
		panic(err)
	}
	defer func() {
		// Tests may leave behind dirs without write bits; restore them so cleanup succeeds.
		makeWritable(dir)
		os.RemoveAll(dir)
	}()
	fn(fs.MustAbsolutePath(dir))
}

func makeWritable(dir string) {
	os.Chmod(dir, 0755)
	names, err := ioutil.ReadDir(dir)
	if err != nil {
		return
	}
	for _, fi := range names {
		if fi.IsDir() {
			makeWritable(dir + "/" + fi.Name())
		}
	}
}

func ShouldStat(afs fs.FS, path fs.RelPath) fs.Metadata {
	stat, err := afs.LStat(path)
	convey.So(err, convey.ShouldBeNil)
	stat.Mtime = stat.Mtime.UTC()
	return *stat
}
