package issue

import (
	"iter"
	"slices"
	"strings"
)

// Path is the chain of child indices leading from a root to a node.
type Path []int

// Walk yields every node of the tree rooted at root in pre-order together
// with its path. The yielded paths must not be retained across iterations.
func Walk(root *Issue) iter.Seq2[Path, *Issue] {
	return func(yield func(Path, *Issue) bool) {
		if root == nil {
			return
		}
		walk(root, make(Path, 0, 8), yield)
	}
}

func walk(node *Issue, p Path, yield func(Path, *Issue) bool) bool {
	if !yield(p, node) {
		return false
	}
	for i, c := range node.Children {
		if !walk(c, append(p, i), yield) {
			return false
		}
	}
	return true
}

// At returns the node at path p, or nil.
func At(root *Issue, p Path) *Issue {
	node := root
	for _, i := range p {
		if node == nil || i < 0 || i >= len(node.Children) {
			return nil
		}
		node = node.Children[i]
	}
	return node
}

// Equal reports whether a and b carry the same content, ignoring
// presentation: urls, fold state, ownership, comment authors and trailing
// whitespace.
func Equal(a, b *Issue) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !NodeEqual(a, b) {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// NodeEqual is Equal restricted to a single node: children are compared by
// identity only.
func NodeEqual(a, b *Issue) bool {
	if a.Number != b.Number || a.Title != b.Title || a.State != b.State {
		return false
	}
	if !slices.Equal(a.Labels, b.Labels) {
		return false
	}
	if TrimBody(a.Body) != TrimBody(b.Body) {
		return false
	}
	if !CommentsEqual(a.Comments, b.Comments) {
		return false
	}
	if !BlockersEqual(a.Blockers, b.Blockers) {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if a.Children[i].Number != b.Children[i].Number {
			return false
		}
	}
	return true
}

func CommentsEqual(a, b []*Comment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || TrimBody(a[i].Body) != TrimBody(b[i].Body) {
			return false
		}
	}
	return true
}

// BlockersEqual treats a missing section and an empty one alike.
func BlockersEqual(a, b *Blockers) bool {
	var al, bl []BlockerLine
	if a != nil {
		al = a.Lines
	}
	if b != nil {
		bl = b.Lines
	}
	return slices.Equal(al, bl)
}

// TrimBody strips trailing whitespace from every line and trailing blank
// lines from the text.
func TrimBody(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
