// Package domscan extracts group candidates from rendered page markup.
//
// Scanning is a pure function of the serialized document: it never touches
// the live page, so a scan can be repeated on every collector tick.
package domscan

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"groupcast/internal/candidate"
)

// DefaultReserved are path segments under the groups path that are
// navigation pages, not groups.
var DefaultReserved = []string{
	"joins", "feed", "discover", "create", "search", "notifications",
	"your_groups", "categories", "invites", "requests",
}

const defaultMaxClimb = 10

// Scanner holds the scan rules. The zero value uses the defaults.
type Scanner struct {
	Filter    candidate.NameFilter
	Reserved  []string
	GroupPath string
	// MaxClimb bounds how many ancestors are visited looking for a
	// list-item container when the anchor text is unusable.
	MaxClimb int
}

func (s Scanner) groupPath() string {
	if s.GroupPath == "" {
		return "/groups/"
	}
	return s.GroupPath
}

func (s Scanner) reserved(seg string) bool {
	list := s.Reserved
	if len(list) == 0 {
		list = DefaultReserved
	}
	seg = strings.ToLower(seg)
	for _, r := range list {
		if seg == strings.ToLower(r) {
			return true
		}
	}
	return false
}

// Scan parses doc and returns candidates from numeric group links followed by
// candidates from slug links, merged by id.
func (s Scanner) Scan(doc string) ([]candidate.Candidate, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	return s.ScanNode(root), nil
}

// ScanNode runs both link strategies over an already parsed tree.
func (s Scanner) ScanNode(root *html.Node) []candidate.Candidate {
	filter := s.Filter.OrDefault()
	numeric := newNamedSet()
	slugs := newNamedSet()

	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.A {
			return
		}
		seg, ok := s.segment(attr(n, "href"))
		if !ok {
			return
		}
		name := s.nameFor(n, filter)
		if candidate.IsNumericID(seg) {
			numeric.add(seg, name)
			return
		}
		if s.reserved(seg) {
			return
		}
		slugs.add(seg, name)
	})

	out := make([]candidate.Candidate, 0, len(numeric.order)+len(slugs.order))
	seen := map[string]bool{}
	for _, ns := range []*namedSet{numeric, slugs} {
		for _, id := range ns.order {
			if seen[id] {
				continue
			}
			seen[id] = true
			name := ns.names[id]
			if name == "" {
				name = candidate.PlaceholderName(id)
			}
			out = append(out, candidate.Candidate{ID: id, Name: name})
		}
	}
	return out
}

// segment returns the path segment right after the groups path.
func (s Scanner) segment(href string) (string, bool) {
	gp := s.groupPath()
	i := strings.Index(href, gp)
	if i < 0 {
		return "", false
	}
	rest := href[i+len(gp):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// nameFor prefers the anchor's own text and otherwise looks for the first
// acceptable span inside the nearest list-item container.
func (s Scanner) nameFor(a *html.Node, filter candidate.NameFilter) string {
	if txt := candidate.Clean(textOf(a)); filter.Accept(txt) {
		return txt
	}
	limit := s.MaxClimb
	if limit <= 0 {
		limit = defaultMaxClimb
	}
	c := a.Parent
	for i := 0; c != nil && i < limit; i++ {
		if isContainer(c) {
			return firstSpanText(c, filter)
		}
		c = c.Parent
	}
	return ""
}

func isContainer(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom == atom.Li {
		return true
	}
	switch attr(n, "role") {
	case "listitem", "article", "row":
		return true
	}
	return false
}

func firstSpanText(container *html.Node, filter candidate.NameFilter) string {
	var found string
	walk(container, func(n *html.Node) {
		if found != "" || n.Type != html.ElementNode || n.DataAtom != atom.Span {
			return
		}
		if txt := candidate.Clean(textOf(n)); filter.Accept(txt) {
			found = txt
		}
	})
	return found
}

// Scripts returns the text of every <script> element in doc.
func Scripts(doc string) []string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}
	var out []string
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Script {
			return
		}
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	})
	return out
}

type namedSet struct {
	order []string
	names map[string]string
}

func newNamedSet() *namedSet { return &namedSet{names: map[string]string{}} }

// add records id once; a later sighting only fills in a missing name.
func (ns *namedSet) add(id, name string) {
	cur, ok := ns.names[id]
	if !ok {
		ns.order = append(ns.order, id)
		ns.names[id] = name
		return
	}
	if cur == "" && name != "" {
		ns.names[id] = name
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}
