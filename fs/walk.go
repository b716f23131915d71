package fs

import (
	"sort"

	"github.com/polydawn/addongit/lib/treewalk"
)

type WalkFunc func(filenode *FilewalkNode) error

/*
	Walks every node of `afs`, starting with its base path.

	Both visit funcs receive the node's Metadata in `node.Info`; the base
	itself is the zero RelPath (which prints as "."), and every other
	node's `Info.Name` is its path relative to the base, ready to hand
	back to `afs`.  When the base is a plain file, it is the only node.

	Symlinks are reported, never followed.  Siblings are visited in
	bytewise order of their names, so two walks of the same content
	always agree.  A pre-visit func may return treewalk.SkipNode to
	leave a dir's children unvisited; the post-visit func still runs
	for that dir.

	Calling `node.NextChild()` from a visit func is undefined.
*/
func Walk(afs FS, preVisit WalkFunc, postVisit WalkFunc) error {
	return treewalk.Walk(
		newFileWalkNode(afs, RelPath{}),
		func(node treewalk.Node) error {
			filenode := node.(*FilewalkNode)
			if filenode.Err != nil {
				return filenode.Err
			}
			if preVisit != nil {
				if err := preVisit(filenode); err != nil {
					return err
				}
			}
			return filenode.prepareChildren(afs)
		},
		func(node treewalk.Node) error {
			filenode := node.(*FilewalkNode)
			var err error
			if postVisit != nil {
				err = postVisit(filenode)
			}
			filenode.forgetChildren()
			return err
		},
	)
}

var _ treewalk.Node = &FilewalkNode{}

type FilewalkNode struct {
	Info *Metadata
	Err  error

	children []*FilewalkNode // sorted by name
	itrIndex int             // next child offset
}

func (t *FilewalkNode) NextChild() treewalk.Node {
	if t.itrIndex >= len(t.children) {
		return nil
	}
	t.itrIndex++
	return t.children[t.itrIndex-1]
}

func newFileWalkNode(afs FS, path RelPath) (filenode *FilewalkNode) {
	// Fill in attributes.
	//  We could leave it to the user's code to do this, but when expanding
	//  the children list in the previsit func, we need to know if we're dealing
	//  with a dir, so, might as well keep and expose that info.
	filenode = &FilewalkNode{}
	filenode.Info, filenode.Err = afs.LStat(path)
	// We don't expand the children until the previsit function,
	//  because we don't want them all crashing into memory at once.
	return
}

/*
	Expand next subtree.  Used in the pre-order visit step so we don't walk
	every dir up front.  `Walk()` wraps the user-defined pre-visit function
	to do this at the end.
*/
func (t *FilewalkNode) prepareChildren(afs FS) error {
	if t.Info.Type != Type_Dir {
		return nil
	}
	names, err := afs.ReadDirNames(t.Info.Name)
	if err != nil {
		return err
	}
	sort.Strings(names)
	t.children = make([]*FilewalkNode, len(names))
	for i, name := range names {
		t.children[i] = newFileWalkNode(afs, t.Info.Name.Join(RelPath{name, -1}))
	}
	return nil
}

/*
	Used in the post-order visit step so we don't continuously consume more
	memory as we walk.  `Walk()` wraps the user-defined post-visit function
	to do this at the end.
*/
func (t *FilewalkNode) forgetChildren() {
	t.children = nil
}
