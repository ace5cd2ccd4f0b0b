package selector

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// DOMIndex indexes a CDP document tree (DOM.getDocument with depth -1) so
// that nodes can be walked upward and looked up by backend node id, which
// is what DOM.getNodeForLocation reports for a hit test.
type DOMIndex struct {
	root    *proto.DOMNode
	parent  map[*proto.DOMNode]*proto.DOMNode
	backend map[proto.DOMBackendNodeID]*proto.DOMNode
}

// IndexDOM walks root once and records parent links. Shadow roots and
// frame documents are not entered: a CSS path from the top document
// cannot reach into them.
func IndexDOM(root *proto.DOMNode) *DOMIndex {
	ix := &DOMIndex{
		root:    root,
		parent:  make(map[*proto.DOMNode]*proto.DOMNode),
		backend: make(map[proto.DOMBackendNodeID]*proto.DOMNode),
	}
	ix.walk(root)
	return ix
}

func (ix *DOMIndex) walk(n *proto.DOMNode) {
	if n == nil {
		return
	}
	ix.backend[n.BackendNodeID] = n
	for _, c := range n.Children {
		ix.parent[c] = n
		ix.walk(c)
	}
}

// Root returns the document node.
func (ix *DOMIndex) Root() Node {
	if ix.root == nil {
		return nil
	}
	return cdpNode{n: ix.root, ix: ix}
}

// Lookup returns the node with the given backend id.
func (ix *DOMIndex) Lookup(id proto.DOMBackendNodeID) (Node, bool) {
	n, ok := ix.backend[id]
	if !ok {
		return nil, false
	}
	return cdpNode{n: n, ix: ix}, true
}

// Len is the number of indexed nodes.
func (ix *DOMIndex) Len() int { return len(ix.backend) }

type cdpNode struct {
	n  *proto.DOMNode
	ix *DOMIndex
}

// CDP node types.
const (
	cdpElement  = 1
	cdpDocument = 9
)

func (c cdpNode) IsElement() bool  { return c.n.NodeType == cdpElement }
func (c cdpNode) IsDocument() bool { return c.n.NodeType == cdpDocument }

func (c cdpNode) Tag() string {
	if !c.IsElement() {
		return ""
	}
	if c.n.LocalName != "" {
		return strings.ToLower(c.n.LocalName)
	}
	return strings.ToLower(c.n.NodeName)
}

// ID reads the id attribute from the flat name/value attribute list.
func (c cdpNode) ID() string {
	attrs := c.n.Attributes
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == "id" {
			return attrs[i+1]
		}
	}
	return ""
}

func (c cdpNode) Parent() Node {
	p, ok := c.ix.parent[c.n]
	if !ok {
		return nil
	}
	return cdpNode{n: p, ix: c.ix}
}

func (c cdpNode) Children() []Node {
	out := make([]Node, 0, len(c.n.Children))
	for _, k := range c.n.Children {
		out = append(out, cdpNode{n: k, ix: c.ix})
	}
	return out
}
