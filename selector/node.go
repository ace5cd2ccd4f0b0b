package selector

import (
	"strings"

	"golang.org/x/net/html"
)

// Node is the slice of a DOM the resolver needs. Implementations exist for
// golang.org/x/net/html trees (FromHTML) and CDP DOM trees (IndexDOM).
//
// Parent returns nil at the top of the tree. Children returns every child,
// element or not, in document order.
type Node interface {
	IsElement() bool
	IsDocument() bool
	Tag() string
	ID() string
	Parent() Node
	Children() []Node
}

// htmlNode adapts *html.Node.
type htmlNode struct {
	n *html.Node
}

// FromHTML wraps an x/net/html node. A nil node yields nil.
func FromHTML(n *html.Node) Node {
	if n == nil {
		return nil
	}
	return htmlNode{n: n}
}

// HTML unwraps a Node built by FromHTML. ok is false for other
// implementations.
func HTML(n Node) (node *html.Node, ok bool) {
	h, ok := n.(htmlNode)
	if !ok {
		return nil, false
	}
	return h.n, true
}

func (h htmlNode) IsElement() bool  { return h.n.Type == html.ElementNode }
func (h htmlNode) IsDocument() bool { return h.n.Type == html.DocumentNode }

func (h htmlNode) Tag() string {
	if h.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(h.n.Data)
}

func (h htmlNode) ID() string {
	for _, a := range h.n.Attr {
		if a.Namespace == "" && a.Key == "id" {
			return a.Val
		}
	}
	return ""
}

func (h htmlNode) Parent() Node {
	if h.n.Parent == nil {
		return nil
	}
	return htmlNode{n: h.n.Parent}
}

func (h htmlNode) Children() []Node {
	var out []Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, htmlNode{n: c})
	}
	return out
}

// elementChildren filters n's children down to elements.
func elementChildren(n Node) []Node {
	kids := n.Children()
	out := kids[:0:0]
	for _, c := range kids {
		if c.IsElement() {
			out = append(out, c)
		}
	}
	return out
}

// same reports whether a and b denote the same DOM node.
func same(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}
