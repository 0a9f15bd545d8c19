// Package candidate holds the group records discovered while collecting and
// the deduplicating, precedence-aware sets they are accumulated in.
package candidate

import (
	"fmt"
	"strings"
)

// Candidate is a tentatively discovered group. ID is the numeric group id or,
// when the page only exposes a vanity URL, the slug.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source identifies which layer found a candidate. Higher values take
// precedence when the same id is found by several layers.
type Source int

const (
	SourceDOM Source = iota + 1
	SourceScript
	SourceIntercept
	SourceImport
)

func (s Source) String() string {
	switch s {
	case SourceDOM:
		return "dom"
	case SourceScript:
		return "script"
	case SourceIntercept:
		return "intercept"
	case SourceImport:
		return "import"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// PlaceholderName is used for ids that arrive without any display text.
func PlaceholderName(id string) string {
	return "Group " + strings.TrimSpace(id)
}

// IsNumericID reports whether id is a durable numeric group id rather than a slug.
func IsNumericID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
