package intercept

import (
	"encoding/json"
	"strings"

	"groupcast/internal/candidate"
)

// Kind tags which structural pattern identified a group inside a payload.
type Kind string

const (
	// KindTyped is an object tagged __typename=Group carrying id and name.
	KindTyped Kind = "typed"
	// KindHeuristic is an untyped object with id and name plus a group hint
	// (a group_id field or a URL under the groups path).
	KindHeuristic Kind = "heuristic"
	// KindNested is an object whose "group" child carries id and name.
	KindNested Kind = "nested"
	// KindNode is an edge object whose "node" child is a typed group.
	KindNode Kind = "node"
)

// Shape is one match produced by the structural walk.
type Shape struct {
	Kind      Kind
	Candidate candidate.Candidate
}

const groupTypename = "Group"

// classify runs the shape predicates against a single object in a fixed
// order. An object matches at most one shape.
func classify(obj map[string]any, groupPath string) (Shape, bool) {
	if node, ok := obj["node"].(map[string]any); ok && isTypedGroup(node) {
		if c, ok := idName(node); ok {
			return Shape{Kind: KindNode, Candidate: c}, true
		}
	}
	if isTypedGroup(obj) {
		if c, ok := idName(obj); ok {
			return Shape{Kind: KindTyped, Candidate: c}, true
		}
	}
	if g, ok := obj["group"].(map[string]any); ok {
		if c, ok := idName(g); ok {
			return Shape{Kind: KindNested, Candidate: c}, true
		}
	}
	if hasGroupHint(obj, groupPath) {
		if c, ok := idName(obj); ok {
			return Shape{Kind: KindHeuristic, Candidate: c}, true
		}
	}
	return Shape{}, false
}

func isTypedGroup(obj map[string]any) bool {
	t, _ := obj["__typename"].(string)
	return t == groupTypename
}

func hasGroupHint(obj map[string]any, groupPath string) bool {
	if _, ok := obj["group_id"]; ok {
		return true
	}
	for _, k := range []string{"url", "uri", "href"} {
		if s, ok := obj[k].(string); ok && strings.Contains(s, groupPath) {
			return true
		}
	}
	return false
}

func idName(obj map[string]any) (candidate.Candidate, bool) {
	id := scalarString(obj["id"])
	name, _ := obj["name"].(string)
	id = strings.TrimSpace(id)
	name = candidate.Clean(name)
	if id == "" || name == "" {
		return candidate.Candidate{}, false
	}
	return candidate.Candidate{ID: id, Name: name}, true
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
