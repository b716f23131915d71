package treewalk

import (
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type testNode struct {
	name     string
	children []*testNode
	i        int
}

func (n *testNode) NextChild() Node {
	if n.i >= len(n.children) {
		return nil
	}
	n.i++
	return n.children[n.i-1]
}

func tree() *testNode {
	return &testNode{name: "a", children: []*testNode{
		{name: "b", children: []*testNode{
			{name: "c"},
			{name: "d"},
		}},
		{name: "e"},
	}}
}

func TestWalk(t *testing.T) {
	Convey("Walking a small tree:", t, func() {
		var pre, post []string
		preFn := func(n Node) error { pre = append(pre, n.(*testNode).name); return nil }
		postFn := func(n Node) error { post = append(post, n.(*testNode).name); return nil }

		Convey("visits in pre- and post-order", func() {
			So(Walk(tree(), preFn, postFn), ShouldBeNil)
			So(pre, ShouldResemble, []string{"a", "b", "c", "d", "e"})
			So(post, ShouldResemble, []string{"c", "d", "b", "e", "a"})
		})
		Convey("nil visitors are fine", func() {
			So(Walk(tree(), nil, postFn), ShouldBeNil)
			So(post, ShouldResemble, []string{"c", "d", "b", "e", "a"})
		})
		Convey("SkipNode prunes children but still post-visits", func() {
			skipper := func(n Node) error {
				pre = append(pre, n.(*testNode).name)
				if n.(*testNode).name == "b" {
					return SkipNode
				}
				return nil
			}
			So(Walk(tree(), skipper, postFn), ShouldBeNil)
			So(pre, ShouldResemble, []string{"a", "b", "e"})
			So(post, ShouldResemble, []string{"b", "e", "a"})
		})
		Convey("errors halt the walk", func() {
			failer := func(n Node) error {
				if n.(*testNode).name == "d" {
					return fmt.Errorf("no d")
				}
				return preFn(n)
			}
			So(Walk(tree(), failer, postFn), ShouldResemble, fmt.Errorf("no d"))
			So(pre, ShouldResemble, []string{"a", "b", "c"})
			So(post, ShouldResemble, []string{"c"})
		})
	})
}
