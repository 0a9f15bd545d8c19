package storage

import (
	"context"
	"sync"
	"time"
)

type memSlot struct {
	value []byte
	until int64
}

// Memory is a process-local Store.
type Memory struct {
	mu       sync.Mutex
	slots    map[string]memSlot
	outcomes []Outcome
}

func NewMemory() *Memory {
	return &Memory{slots: map[string]memSlot{}}
}

func (m *Memory) PutSlot(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = memSlot{value: append([]byte(nil), value...), until: expiry(ttl)}
	return nil
}

func (m *Memory) GetSlot(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return nil, false, nil
	}
	if expired(s.until, time.Now().UnixMilli()) {
		delete(m.slots, key)
		return nil, false, nil
	}
	return append([]byte(nil), s.value...), true, nil
}

func (m *Memory) DeleteSlot(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.slots, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PruneSlots(_ context.Context) (int, error) {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.slots {
		if expired(s.until, now) {
			delete(m.slots, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendOutcome(_ context.Context, o Outcome) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	m.mu.Lock()
	m.outcomes = append(m.outcomes, o)
	m.mu.Unlock()
	return nil
}

// Outcomes returns a copy of everything appended so far.
func (m *Memory) Outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outcome(nil), m.outcomes...)
}

func (m *Memory) Close() error { return nil }
