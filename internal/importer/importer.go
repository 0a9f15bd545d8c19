// Package importer turns user-pasted group lists into candidates.
//
// Two inputs are accepted: a JSON array of {id, name} objects, or free text
// containing group links and bare numeric ids.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"groupcast/internal/candidate"
	"groupcast/internal/domscan"
)

var ErrEmpty = errors.New("nothing to import")

var (
	reGroupLink = regexp.MustCompile(`/groups/([A-Za-z0-9][A-Za-z0-9._-]*)`)
	reBareID    = regexp.MustCompile(`\b\d{6,20}\b`)
	// reURL covers links with or without a scheme; their digits are post,
	// user or photo ids, never bare group ids.
	reURL = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+|\S*/groups/\S*`)
)

type item struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

// Parse reads input in either accepted form. Ids without a name get a
// placeholder name.
func Parse(input string) ([]candidate.Candidate, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmpty
	}
	var out []candidate.Candidate
	if strings.HasPrefix(input, "[") {
		var items []item
		if err := json.Unmarshal([]byte(input), &items); err != nil {
			return nil, fmt.Errorf("import json: %w", err)
		}
		out = lo.FilterMap(items, func(it item, _ int) (candidate.Candidate, bool) {
			id := rawID(it.ID)
			if id == "" {
				return candidate.Candidate{}, false
			}
			return candidate.Candidate{ID: id, Name: candidate.Clean(it.Name)}, true
		})
	} else {
		out = parseText(input)
	}

	out = lo.UniqBy(out, func(c candidate.Candidate) string { return c.ID })
	out = lo.Map(out, func(c candidate.Candidate, _ int) candidate.Candidate {
		if c.Name == "" {
			c.Name = candidate.PlaceholderName(c.ID)
		}
		return c
	})
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func parseText(input string) []candidate.Candidate {
	var ids []string
	reserved := lo.SliceToMap(domscan.DefaultReserved, func(s string) (string, bool) { return s, true })
	for _, m := range reGroupLink.FindAllStringSubmatch(input, -1) {
		if !reserved[strings.ToLower(m[1])] {
			ids = append(ids, m[1])
		}
	}
	ids = append(ids, reBareID.FindAllString(reURL.ReplaceAllString(input, " "), -1)...)
	return lo.Map(ids, func(id string, _ int) candidate.Candidate { return candidate.Candidate{ID: id} })
}

// rawID accepts both "123" and 123.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Merge appends the imported candidates that existing does not already
// hold. It returns the merged list and how many were new.
func Merge(existing, imported []candidate.Candidate) ([]candidate.Candidate, int) {
	have := lo.SliceToMap(existing, func(c candidate.Candidate) (string, bool) { return c.ID, true })
	fresh := lo.Filter(imported, func(c candidate.Candidate, _ int) bool { return !have[c.ID] })
	fresh = lo.UniqBy(fresh, func(c candidate.Candidate) string { return c.ID })
	merged := make([]candidate.Candidate, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)
	return merged, len(fresh)
}
