package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupcast/internal/eventbus"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

type Config struct {
	// DefaultDelay applies when a request leaves the delay at zero.
	DefaultDelay time.Duration
	StatusMax    int
	StatusTTL    time.Duration
}

// OutcomeLog persists outcomes as they happen.
type OutcomeLog interface {
	AppendOutcome(ctx context.Context, o storage.Outcome) error
}

// Notifier is told about every finished run.
type Notifier interface {
	RunFinished(ctx context.Context, s Snapshot) error
}

type Deps struct {
	Publisher Publisher
	Outcomes  OutcomeLog
	Bus       eventbus.Bus
	Notifier  Notifier
	Log       logx.Logger
}

type entry struct {
	run       *Run
	createdAt time.Time
	doneAt    time.Time
}

// Service owns dispatch runs: it starts them, tracks their status and keeps
// finished ones around for a while so consumers can fetch the outcomes.
type Service struct {
	mu  sync.Mutex
	cfg Config
	dep Deps
	log logx.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statusMu sync.RWMutex
	runs     map[string]*entry

	// tests shorten the pacing
	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, dep Deps) *Service {
	log := dep.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		dep:  dep,
		log:  log.With(logx.String("comp", "dispatch")),
		runs: map[string]*entry{},
	}
}

// Apply swaps the config; running runs keep the delay they started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = 30 * time.Second
	}
	return c
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.log.Info("dispatcher started")
}

// Stop abandons active runs and waits for their goroutines, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.base, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out")
	}
	s.log.Info("dispatcher stopped")
}

// Submit validates and starts a run in the background. delay zero means the
// configured default; a negative delay is rejected.
func (s *Service) Submit(targets []Target, c Content, delay time.Duration, onProgress ProgressFunc) (Snapshot, error) {
	if delay < 0 {
		return Snapshot{}, ErrInvalidDelay
	}
	cfg := s.config()
	if delay == 0 {
		delay = cfg.DefaultDelay
	}

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		return Snapshot{}, ErrNotRunning
	}

	r, err := NewRun(uuid.NewString(), targets, c, delay, s.dep.Publisher)
	if err != nil {
		return Snapshot{}, err
	}
	if s.sleep != nil {
		r.sleep = s.sleep
	}
	log := s.log.With(logx.String("run", r.ID()))
	r.OnProgress(func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
		if s.dep.Bus != nil {
			s.dep.Bus.Publish(eventbus.Event{Type: eventbus.DispatchProgress, Data: p})
		}
	})
	r.onOutcome = func(t Target, o Outcome, took time.Duration) {
		if !o.Success {
			log.Warn("publish failed", logx.String("target", t.ID), logx.String("err", o.Error))
		} else {
			log.Debug("published", logx.String("target", t.ID), logx.String("post", o.PostID))
		}
		if s.dep.Outcomes == nil {
			return
		}
		err := s.dep.Outcomes.AppendOutcome(context.WithoutCancel(base), storage.Outcome{
			RunID:      r.ID(),
			TargetID:   o.ID,
			TargetName: o.Name,
			Success:    o.Success,
			PostID:     o.PostID,
			Error:      o.Error,
			TookMS:     took.Milliseconds(),
		})
		if err != nil {
			log.Warn("outcome not persisted", logx.Err(err))
		}
	}

	now := time.Now()
	s.pruneStatus(now)
	s.statusMu.Lock()
	s.runs[r.ID()] = &entry{run: r, createdAt: now}
	s.statusMu.Unlock()

	log.Info("dispatch run started",
		logx.Int("total", r.Total()),
		logx.Duration("delay", delay),
		logx.Int("images", len(c.Images)),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("dispatch run panic", logx.Any("panic", rec))
				_ = r.Abandon()
			}
		}()
		snap := r.Execute(base)
		s.finished(base, snap, log)
	}()

	return r.Snapshot(), nil
}

func (s *Service) finished(base context.Context, snap Snapshot, log logx.Logger) {
	s.statusMu.Lock()
	if e := s.runs[snap.ID]; e != nil {
		e.doneAt = time.Now()
	}
	s.statusMu.Unlock()

	log.Info("dispatch run finished",
		logx.String("status", string(snap.Status)),
		logx.Int("ok", snap.Succeeded()),
		logx.Int("failed", len(snap.Outcomes)-snap.Succeeded()),
		logx.Int("skipped", snap.Total-len(snap.Outcomes)),
	)
	if s.dep.Bus != nil {
		s.dep.Bus.Publish(eventbus.Event{Type: eventbus.DispatchDone, Data: snap})
	}
	if s.dep.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(base), 15*time.Second)
		defer cancel()
		if err := s.dep.Notifier.RunFinished(ctx, snap); err != nil {
			log.Warn("operator notify failed", logx.Err(err))
		}
	}
}

func (s *Service) get(id string) (*Run, error) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	e := s.runs[id]
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return e.run, nil
}

func (s *Service) Pause(id string) (Snapshot, error) {
	r, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	err = r.Pause()
	return r.Snapshot(), err
}

func (s *Service) Resume(id string) (Snapshot, error) {
	r, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	err = r.Resume()
	return r.Snapshot(), err
}

func (s *Service) Abandon(id string) (Snapshot, error) {
	r, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	err = r.Abandon()
	return r.Snapshot(), err
}

// Status returns a snapshot of a known run.
func (s *Service) Status(id string) (Snapshot, bool) {
	r, err := s.get(id)
	if err != nil {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Wait blocks until the run finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (Snapshot, error) {
	r, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-r.Done():
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}
