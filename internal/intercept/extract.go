// Package intercept extracts group candidates from network response bodies
// observed on the host page, without altering the page's own traffic.
package intercept

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"sort"

	"groupcast/internal/candidate"
)

// Anti-JSON-hijacking prefixes that precede otherwise valid payloads.
var sacrificialPrefixes = [][]byte{
	[]byte("for (;;);"),
	[]byte(")]}'"),
}

var (
	reIDName      = regexp.MustCompile(`"id":"(\d+)","name":"((?:[^"\\]|\\.)*)"`)
	reGroupIDName = regexp.MustCompile(`"group_id":"(\d+)"[^{}]{0,400}?"name":"((?:[^"\\]|\\.)*)"`)
)

const defaultMaxDepth = 12

// Extractor finds group-shaped data in raw response or script text.
// The zero value is usable.
type Extractor struct {
	// MaxDepth bounds the structural walk; deeper values are ignored.
	MaxDepth int
	// Filter is applied to heuristic and regex matches, whose names are noisy.
	Filter candidate.NameFilter
	// GroupPath is the URL path segment marking group links.
	GroupPath string
}

func (e Extractor) depth() int {
	if e.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return e.MaxDepth
}

func (e Extractor) groupPath() string {
	if e.GroupPath == "" {
		return "/groups/"
	}
	return e.GroupPath
}

// Extract treats body as newline-delimited JSON fragments and returns the
// candidates found, deduplicated and in discovery order. A fragment that does
// not parse is scanned with the regex fallback instead; it never affects the
// other fragments.
func (e Extractor) Extract(body []byte) []candidate.Candidate {
	body = stripPrefix(bytes.TrimSpace(body))
	set := candidate.NewSet()
	if vs, err := decodeStream(body); err == nil {
		for _, v := range vs {
			for _, sh := range e.Shapes(v) {
				set.Add(sh.Candidate)
			}
		}
		return set.Slice()
	}
	for _, frag := range bytes.Split(body, []byte("\n")) {
		frag = stripPrefix(bytes.TrimSpace(frag))
		if len(frag) == 0 {
			continue
		}
		v, err := decode(frag)
		if err != nil {
			set.AddAll(e.Fallback(frag))
			continue
		}
		for _, sh := range e.Shapes(v) {
			set.Add(sh.Candidate)
		}
	}
	return set.Slice()
}

// Shapes walks an already-decoded value and returns every group-shaped
// object found within MaxDepth levels.
func (e Extractor) Shapes(v any) []Shape {
	var out []Shape
	e.walk(v, 0, &out)
	return out
}

func (e Extractor) walk(v any, depth int, out *[]Shape) {
	if depth > e.depth() {
		return
	}
	switch x := v.(type) {
	case map[string]any:
		if sh, ok := classify(x, e.groupPath()); ok {
			if sh.Kind != KindHeuristic || e.Filter.Accept(sh.Candidate.Name) {
				*out = append(*out, sh)
			}
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.walk(x[k], depth+1, out)
		}
	case []any:
		for _, it := range x {
			e.walk(it, depth+1, out)
		}
	}
}

// Fallback scans raw text for id/name pairs. It is used for fragments and
// inline scripts that are not clean JSON.
func (e Extractor) Fallback(raw []byte) []candidate.Candidate {
	set := candidate.NewSet()
	for _, re := range []*regexp.Regexp{reIDName, reGroupIDName} {
		for _, m := range re.FindAllSubmatch(raw, -1) {
			name, ok := unescape(m[2])
			if !ok || !e.Filter.Accept(name) {
				continue
			}
			set.Add(candidate.Candidate{ID: string(m[1]), Name: name})
		}
	}
	return set.Slice()
}

func decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeStream decodes body as a sequence of whitespace-separated JSON
// values. Any error means the body is not clean JSON as a whole.
func decodeStream(b []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out []any
	for {
		var v any
		err := dec.Decode(&v)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func stripPrefix(b []byte) []byte {
	for _, p := range sacrificialPrefixes {
		if bytes.HasPrefix(b, p) {
			return bytes.TrimSpace(b[len(p):])
		}
	}
	return b
}

// unescape decodes a JSON string body (without quotes).
func unescape(b []byte) (string, bool) {
	quoted := make([]byte, 0, len(b)+2)
	quoted = append(quoted, '"')
	quoted = append(quoted, b...)
	quoted = append(quoted, '"')
	var s string
	if err := json.Unmarshal(quoted, &s); err != nil {
		return "", false
	}
	return candidate.Clean(s), true
}
