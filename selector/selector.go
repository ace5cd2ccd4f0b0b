// Package selector derives a structural CSS path for a DOM element that
// does not depend on authored class names, and resolves such paths back
// to elements.
//
// A path climbs from the target to the nearest ancestor carrying an id
// (or to body, or to the document element for nodes outside body). Each
// step is either "#id", "tag" when the tag is unique among its element
// siblings, or "tag:nth-of-type(n)".
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotElement is returned when the input node is not an element.
	ErrNotElement = errors.New("selector: not an element")
	// ErrDetached is returned when the node is not connected to a document.
	ErrDetached = errors.New("selector: node not attached to a document")
	// ErrSyntax is returned by Parse for strings it did not produce.
	ErrSyntax = errors.New("selector: unsupported syntax")
)

// Segment is one step of a Path. Exactly one of ID or Tag is set. Nth is
// the 1-based position among same-tag element siblings, or 0 when the tag
// is unique there.
type Segment struct {
	ID  string
	Tag string
	Nth int
}

// String renders the segment as a CSS compound selector.
func (s Segment) String() string {
	if s.ID != "" {
		if isIdent(s.ID) {
			return "#" + s.ID
		}
		return `[id="` + escapeAttr(s.ID) + `"]`
	}
	if s.Nth > 0 {
		return s.Tag + ":nth-of-type(" + strconv.Itoa(s.Nth) + ")"
	}
	return s.Tag
}

// Path is an anchor segment followed by descending steps to the target.
type Path []Segment

// String joins the segments with the child combinator.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, " > ")
}

// Resolve computes the path for n.
func Resolve(n Node) (Path, error) {
	if n == nil || !n.IsElement() {
		return nil, ErrNotElement
	}
	if !attached(n) {
		return nil, ErrDetached
	}

	var rev Path
	for cur := n; ; {
		if id := cur.ID(); id != "" {
			rev = append(rev, Segment{ID: id})
			break
		}
		parent := cur.Parent()
		tag := cur.Tag()
		if tag == "body" || parent.IsDocument() {
			rev = append(rev, Segment{Tag: tag})
			break
		}
		rev = append(rev, Segment{Tag: tag, Nth: nthOfType(parent, cur)})
		cur = parent
	}

	out := make(Path, len(rev))
	for i, s := range rev {
		out[len(rev)-1-i] = s
	}
	return out, nil
}

// attached reports whether n's ancestor chain ends in a document node
// through elements only.
func attached(n Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.IsDocument() {
			return true
		}
		if !p.IsElement() {
			return false
		}
	}
	return false
}

// nthOfType returns child's 1-based index among same-tag element children
// of parent, or 0 when it is the only one.
func nthOfType(parent, child Node) int {
	tag := child.Tag()
	idx, total := 0, 0
	for _, c := range elementChildren(parent) {
		if c.Tag() != tag {
			continue
		}
		total++
		if same(c, child) {
			idx = total
		}
	}
	if total <= 1 {
		return 0
	}
	return idx
}

// Find resolves p against the document containing root. root may be the
// document node or any node in it. The second result is false when the
// path no longer matches, which is the expected outcome after the DOM
// changed.
func Find(root Node, p Path) (Node, bool) {
	if root == nil || len(p) == 0 {
		return nil, false
	}
	doc := root
	for doc.Parent() != nil {
		doc = doc.Parent()
	}

	var cur Node
	anchor := p[0]
	switch {
	case anchor.ID != "":
		cur = findByID(doc, anchor.ID)
	case anchor.Tag == "body":
		cur = findByTag(doc, "body")
	default:
		for _, c := range elementChildren(doc) {
			if c.Tag() == anchor.Tag {
				cur = c
				break
			}
		}
	}
	if cur == nil {
		return nil, false
	}

	for _, s := range p[1:] {
		next := step(cur, s)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(parent Node, s Segment) Node {
	if s.ID != "" {
		for _, c := range elementChildren(parent) {
			if c.ID() == s.ID {
				return c
			}
		}
		return nil
	}
	var only Node
	count := 0
	for _, c := range elementChildren(parent) {
		if c.Tag() != s.Tag {
			continue
		}
		count++
		if count == s.Nth {
			return c
		}
		if count == 1 {
			only = c
		}
	}
	if s.Nth == 0 && count == 1 {
		return only
	}
	return nil
}

// findByID returns the first element in document order with the given id.
func findByID(n Node, id string) Node {
	if n.IsElement() && n.ID() == id {
		return n
	}
	for _, c := range n.Children() {
		if m := findByID(c, id); m != nil {
			return m
		}
	}
	return nil
}

func findByTag(n Node, tag string) Node {
	if n.IsElement() && n.Tag() == tag {
		return n
	}
	for _, c := range n.Children() {
		if m := findByTag(c, tag); m != nil {
			return m
		}
	}
	return nil
}

// Parse reads back a string produced by Path.String.
func Parse(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrSyntax)
	}
	var p Path
	for _, part := range strings.Split(s, " > ") {
		seg, err := parseSegment(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		p = append(p, seg)
	}
	return p, nil
}

func parseSegment(s string) (Segment, error) {
	switch {
	case strings.HasPrefix(s, "#"):
		id := s[1:]
		if !isIdent(id) {
			return Segment{}, fmt.Errorf("%w: %q", ErrSyntax, s)
		}
		return Segment{ID: id}, nil
	case strings.HasPrefix(s, `[id="`) && strings.HasSuffix(s, `"]`):
		return Segment{ID: unescapeAttr(s[5 : len(s)-2])}, nil
	}
	tag, rest, hasNth := strings.Cut(s, ":nth-of-type(")
	if tag == "" || !isIdent(tag) {
		return Segment{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	seg := Segment{Tag: strings.ToLower(tag)}
	if hasNth {
		num, ok := strings.CutSuffix(rest, ")")
		n, err := strconv.Atoi(num)
		if !ok || err != nil || n < 1 {
			return Segment{}, fmt.Errorf("%w: %q", ErrSyntax, s)
		}
		seg.Nth = n
	}
	return seg, nil
}

// isIdent reports whether s can be written bare after '#' or as a type
// selector: ASCII letters, digits, '-' and '_', not starting with a digit
// or "-digit" or "--".
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 || (i == 1 && s[0] == '-') {
				return false
			}
		case c == '-':
			if i == 1 && s[0] == '-' {
				return false
			}
		default:
			return false
		}
	}
	return s != "-"
}

func escapeAttr(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func unescapeAttr(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
