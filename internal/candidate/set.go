package candidate

import "sync"

// Set is an append-only, ordered, deduplicated collection of candidates.
// The first discovery of an id wins; later discoveries of the same id are
// ignored. Safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Candidate
}

func NewSet() *Set {
	return &Set{byID: map[string]Candidate{}}
}

// Add records c unless its id is already known or empty. It reports whether
// the set grew.
func (s *Set) Add(c Candidate) bool {
	c.ID = Clean(c.ID)
	c.Name = Clean(c.Name)
	if c.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID == nil {
		s.byID = map[string]Candidate{}
	}
	if _, ok := s.byID[c.ID]; ok {
		return false
	}
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)
	return true
}

// AddAll adds every candidate and returns how many were new.
func (s *Set) AddAll(cs []Candidate) int {
	n := 0
	for _, c := range cs {
		if s.Add(c) {
			n++
		}
	}
	return n
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Set) Get(id string) (Candidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c, ok
}

// Slice returns the candidates in discovery order.
func (s *Set) Slice() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Layer is one source's contribution to a final assembly.
type Layer struct {
	Source Source
	Items  []Candidate
}

// Assemble flattens layers into one ordered, deduplicated slice.
//
// Order follows first appearance across layers in the order given. When an
// id appears in several layers, the name from the layer with the highest
// Source wins; an empty name never replaces a non-empty one.
func Assemble(layers ...Layer) []Candidate {
	type entry struct {
		c   Candidate
		src Source
	}
	var order []string
	byID := map[string]*entry{}
	for _, l := range layers {
		for _, c := range l.Items {
			c.ID = Clean(c.ID)
			c.Name = Clean(c.Name)
			if c.ID == "" {
				continue
			}
			cur, ok := byID[c.ID]
			if !ok {
				byID[c.ID] = &entry{c: c, src: l.Source}
				order = append(order, c.ID)
				continue
			}
			if l.Source > cur.src && c.Name != "" {
				cur.c.Name = c.Name
				cur.src = l.Source
			} else if cur.c.Name == "" && c.Name != "" {
				cur.c.Name = c.Name
			}
		}
	}
	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id].c)
	}
	return out
}
