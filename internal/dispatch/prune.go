package dispatch

import (
	"sort"
	"time"
)

// Prune drops finished runs past the TTL and then the oldest finished runs
// beyond the size cap. Active runs are never dropped.
func (s *Service) Prune(now time.Time) int {
	return s.pruneStatus(now)
}

func (s *Service) pruneStatus(now time.Time) int {
	cfg := s.config()
	limit := cfg.StatusMax
	if limit <= 0 {
		limit = 200
	}
	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	removed := 0
	for id, e := range s.runs {
		if !e.doneAt.IsZero() && now.Sub(e.doneAt) > ttl {
			delete(s.runs, id)
			removed++
		}
	}

	over := len(s.runs) - limit
	if over <= 0 {
		return removed
	}

	type cand struct {
		id string
		t  time.Time
	}
	cands := make([]cand, 0, len(s.runs))
	for id, e := range s.runs {
		if e.doneAt.IsZero() {
			continue
		}
		cands = append(cands, cand{id: id, t: e.doneAt})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].t.Before(cands[j].t) })

	for i := 0; i < len(cands) && over > 0; i++ {
		delete(s.runs, cands[i].id)
		over--
		removed++
	}
	return removed
}
