/*
	Behaviors every fs.FS implementation must share, as goconvey blocks.
	Each check expects to be handed an empty filesystem.
*/
package tests

import (
	"os"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/fs"
)

func CheckBaseLstat(afs fs.FS) {
	Convey("FS: lstat of the base path should be a dir", func() {
		stat, err := afs.LStat(fs.RelPath{})
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Dir)
	})
}

func CheckMkdirLstatRoundtrip(afs fs.FS) {
	Convey("FS: mkdir and lstat should roundtrip", func() {
		d1 := fs.MustRelPath("d1")
		So(afs.Mkdir(d1, 0755), ShouldBeNil)
		stat, err := afs.LStat(d1)
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Dir)
		So(stat.Name, ShouldResemble, d1)
	})
}

func CheckDeepMkdirError(afs fs.FS) {
	Convey("FS: deep mkdir should error", func() {
		d1d2 := fs.MustRelPath("d1/d2")
		So(afs.Mkdir(d1d2, 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
		_, err := afs.LStat(d1d2)
		So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
	})
}

func CheckMklinkLstatRoundtrip(afs fs.FS) {
	Convey("FS: mklink and lstat should roundtrip", func() {
		l1 := fs.MustRelPath("l1")
		So(afs.Mklink(l1, "./target"), ShouldBeNil)
		stat, err := afs.LStat(l1)
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Symlink)
		So(stat.Linkname, ShouldEqual, "./target")
	})
}

func CheckSymlinks(afs fs.FS) {
	Convey("FS: symlink resolve", func() {
		Convey("symlinks to files resolve correctly", func() {
			l1 := fs.MustRelPath("l1")
			targetStr := "./target"
			target := fs.MustRelPath(targetStr)

			So(afs.Mklink(l1, targetStr), ShouldBeNil)
			So(makeFile(afs, target, "body"), ShouldBeNil)

			resolved, err := afs.ResolveLink(targetStr, l1)
			So(err, ShouldBeNil)
			So(resolved, ShouldResemble, target)
		})
		Convey("symlinks pointing upward stay clamped to the base", func() {
			l1 := fs.MustRelPath("l1")
			So(afs.Mklink(l1, "../../../etc"), ShouldBeNil)

			resolved, err := afs.ResolveLink("../../../etc", l1)
			So(err, ShouldBeNil)
			So(resolved, ShouldResemble, fs.MustRelPath("etc"))
		})
		Convey("cyclic symlinks are detected", func() {
			So(afs.Mklink(fs.MustRelPath("a"), "./b"), ShouldBeNil)
			So(afs.Mklink(fs.MustRelPath("b"), "./a"), ShouldBeNil)

			_, err := afs.Stat(fs.MustRelPath("a"))
			So(err, errcat.ErrorShouldHaveCategory, fs.ErrRecursion)
		})
		Convey("paths departing the base are rejected", func() {
			_, err := afs.LStat(fs.MustRelPath("../nope"))
			So(err, errcat.ErrorShouldHaveCategory, fs.ErrBreakout)
		})
	})
}

func CheckRenameAndRemove(afs fs.FS) {
	Convey("FS: rename and removeall", func() {
		So(afs.Mkdir(fs.MustRelPath("d"), 0755), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("d/f"), "body"), ShouldBeNil)

		So(afs.Rename(fs.MustRelPath("d"), fs.MustRelPath("e")), ShouldBeNil)
		_, err := afs.LStat(fs.MustRelPath("d"))
		So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
		stat, err := afs.LStat(fs.MustRelPath("e/f"))
		So(err, ShouldBeNil)
		So(stat.Size, ShouldEqual, 4)
		So(afs.Sync(fs.MustRelPath("e/f")), ShouldBeNil)

		So(afs.RemoveAll(fs.MustRelPath("e")), ShouldBeNil)
		_, err = afs.LStat(fs.MustRelPath("e"))
		So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
		So(afs.RemoveAll(fs.MustRelPath("e")), ShouldBeNil)
	})
}

func makeFile(afs fs.FS, path fs.RelPath, body string) error {
	f, err := afs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(body))
	return err
}
