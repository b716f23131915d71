/*
	Generic depth-first traversal with both pre- and post-order visits.

	Nodes hand out their children one at a time, so implementations may
	expand children lazily (e.g. in the pre-visit) and forget them again
	in the post-visit, keeping memory bounded by the depth of the tree
	rather than its size.
*/
package treewalk

import "errors"

type Node interface {
	// NextChild returns the next child of this node, or nil when exhausted.
	NextChild() Node
}

type VisitFunc func(node Node) error

// Return SkipNode from a pre-visit to skip the node's children.
// The post-visit is still called for the skipped node.
var SkipNode = errors.New("skip node")

/*
	Walks the tree rooted at `root`.

	`preVisit` is called on each node before any of its children are requested;
	`postVisit` after all of them have been visited.  Either may be nil.
	The first error returned by a visit func (other than SkipNode) halts the walk
	and is returned.
*/
func Walk(root Node, preVisit, postVisit VisitFunc) error {
	type frame struct {
		node Node
		skip bool
	}
	stack := []frame{{node: root}}
	if err := visit(preVisit, root, &stack[0].skip); err != nil {
		return err
	}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		var child Node
		if !top.skip {
			child = top.node.NextChild()
		}
		if child == nil {
			stack = stack[:len(stack)-1]
			if postVisit != nil {
				if err := postVisit(top.node); err != nil {
					return err
				}
			}
			continue
		}
		stack = append(stack, frame{node: child})
		if err := visit(preVisit, child, &stack[len(stack)-1].skip); err != nil {
			return err
		}
	}
	return nil
}

func visit(fn VisitFunc, node Node, skip *bool) error {
	if fn == nil {
		return nil
	}
	err := fn(node)
	if err == SkipNode {
		*skip = true
		return nil
	}
	return err
}
