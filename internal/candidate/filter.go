package candidate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultBanned lists membership-count vocabulary that marks a text node as
// a counter ("12K members", "5 posts a day") rather than a group name.
var DefaultBanned = []string{
	"member", "post",
	"thành viên", "bài viết",
	"miembro", "publicaci",
	"membre", "publication",
}

// NameFilter decides whether a text fragment is usable as a group name.
type NameFilter struct {
	MinLen int
	MaxLen int
	Banned []string
}

// DefaultNameFilter returns the filter used when nothing is configured.
func DefaultNameFilter() NameFilter {
	return NameFilter{MinLen: 3, MaxLen: 120, Banned: DefaultBanned}
}

// Accept reports whether name passes the length, numeric and vocabulary checks.
// Lengths count runes so names in non-Latin scripts are not penalised.
func (f NameFilter) Accept(name string) bool {
	name = Clean(name)
	n := utf8.RuneCountInString(name)
	minLen := f.MinLen
	if minLen <= 0 {
		minLen = 3
	}
	if n < minLen {
		return false
	}
	if f.MaxLen > 0 && n > f.MaxLen {
		return false
	}
	if isNumericText(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, b := range f.Banned {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" && strings.Contains(lower, b) {
			return false
		}
	}
	return true
}

// Clean collapses whitespace runs and trims the result.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isNumericText treats digits plus number punctuation ("1,234", "12.5K" is not)
// as purely numeric.
func isNumericText(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ',' || r == '.' || r == ' ' || r == '+':
		default:
			return false
		}
	}
	return digits > 0
}

// IsZero reports whether f was left unconfigured.
func (f NameFilter) IsZero() bool {
	return f.MinLen == 0 && f.MaxLen == 0 && len(f.Banned) == 0
}

// OrDefault returns f, or the default filter when f is unconfigured.
func (f NameFilter) OrDefault() NameFilter {
	if f.IsZero() {
		return DefaultNameFilter()
	}
	return f
}
