// Package handoff moves a finished collection from the collector to the
// consumer that asked for it.
//
// The mailbox slot in storage is the authoritative channel. A wake-up
// notification is sent as well but may be dropped; the poller always falls
// back to reading the slot.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"groupcast/internal/candidate"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

// DefaultKey is the single mailbox slot shared by collector and consumer.
const DefaultKey = "handoff:groups"

var ErrTimeout = errors.New("timeout waiting for groups, try again")

// Payload is what a completed collection run leaves in the mailbox.
type Payload struct {
	RunID       string                `json:"run_id"`
	Results     []candidate.Candidate `json:"results"`
	CompletedAt time.Time             `json:"completed_at"`
}

// Sink is the producing side.
type Sink struct {
	store storage.Store
	key   string
	ttl   time.Duration
	wake  chan struct{}
	log   logx.Logger
}

// NewSink writes to key in st. Slots older than ttl are dropped by the
// store; zero keeps them until overwritten.
func NewSink(st storage.Store, key string, ttl time.Duration, log logx.Logger) *Sink {
	if key == "" {
		key = DefaultKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{store: st, key: key, ttl: ttl, wake: make(chan struct{}, 1), log: log}
}

// Wake fires after each delivery unless a previous wake-up is still unread.
func (s *Sink) Wake() <-chan struct{} { return s.wake }

// Key returns the slot the sink writes to.
func (s *Sink) Key() string { return s.key }

// Deliver overwrites the mailbox with p and nudges any waiting poller.
func (s *Sink) Deliver(ctx context.Context, p Payload) error {
	if p.CompletedAt.IsZero() {
		p.CompletedAt = time.Now()
	}
	if p.Results == nil {
		p.Results = []candidate.Candidate{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.store.PutSlot(ctx, s.key, b, s.ttl); err != nil {
		return fmt.Errorf("handoff write: %w", err)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.log.Debug("handoff delivered",
		logx.String("run", p.RunID),
		logx.Int("results", len(p.Results)),
	)
	return nil
}

// Poller is the consuming side.
type Poller struct {
	Store       storage.Store
	Key         string
	Interval    time.Duration
	MaxAttempts int
	Log         logx.Logger

	// serializes read-then-delete so concurrent waiters on one Poller
	// never both receive the same payload
	mu sync.Mutex
}

func (p *Poller) defaults() (string, time.Duration, int) {
	key, iv, n := p.Key, p.Interval, p.MaxAttempts
	if key == "" {
		key = DefaultKey
	}
	if iv <= 0 {
		iv = 2 * time.Second
	}
	if n <= 0 {
		n = 90
	}
	return key, iv, n
}

// Wait polls the mailbox until a payload completed at or after requestedAt
// shows up, then deletes the slot and returns it. Older payloads belong to a
// previous request and are ignored. wake may be nil.
func (p *Poller) Wait(ctx context.Context, requestedAt time.Time, wake <-chan struct{}) (Payload, error) {
	key, iv, limit := p.defaults()
	log := p.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	t := time.NewTicker(iv)
	defer t.Stop()

	for attempt := 1; ; attempt++ {
		pl, ok, err := p.take(ctx, key, requestedAt)
		if err != nil {
			log.Warn("handoff read failed", logx.Int("attempt", attempt), logx.Err(err))
		} else if ok {
			return pl, nil
		}
		if attempt >= limit {
			return Payload{}, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return Payload{}, ctx.Err()
		case <-t.C:
		case <-wake:
		}
	}
}

func (p *Poller) take(ctx context.Context, key string, requestedAt time.Time) (Payload, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok, err := p.Store.GetSlot(ctx, key)
	if err != nil || !ok {
		return Payload{}, false, err
	}
	var pl Payload
	if err := json.Unmarshal(b, &pl); err != nil {
		return Payload{}, false, fmt.Errorf("handoff decode: %w", err)
	}
	if pl.CompletedAt.Before(requestedAt) {
		return Payload{}, false, nil
	}
	if err := p.Store.DeleteSlot(ctx, key); err != nil {
		return Payload{}, false, err
	}
	return pl, true, nil
}
