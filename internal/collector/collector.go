// Package collector drives a group listing page until it stops producing
// new groups, then hands the merged result to the consumer.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupcast/internal/candidate"
	"groupcast/internal/domscan"
	"groupcast/internal/handoff"
	"groupcast/internal/intercept"
	logx "groupcast/pkg/logx"
)

// ErrSuperseded is returned by a run that was cancelled because a newer run
// started on the same collector.
var ErrSuperseded = errors.New("collection superseded by a newer run")

// State is the lifecycle of one run.
type State string

const (
	StateIdle      State = "idle"
	StateScrolling State = "scrolling"
	StateDone      State = "done"
)

// Surface is the page being collected from.
type Surface interface {
	ScrollToBottom(ctx context.Context) error
	ScrollHeight(ctx context.Context) (int, error)
	HTML(ctx context.Context) (string, error)
}

// Source supplies candidates discovered outside the DOM, usually an
// *intercept.Interceptor attached to the same page.
type Source interface {
	Candidates() []candidate.Candidate
	Len() int
}

// Sink receives the finished result.
type Sink interface {
	Deliver(ctx context.Context, p handoff.Payload) error
}

type Config struct {
	IdleTicks  int
	TickBase   time.Duration
	TickJitter time.Duration
	// MaxDuration ends a run that never converges; whatever was found so
	// far is delivered. Zero means 10 minutes.
	MaxDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTicks <= 0 {
		c.IdleTicks = 8
	}
	if c.TickBase <= 0 {
		c.TickBase = 1500 * time.Millisecond
	}
	if c.TickJitter < 0 {
		c.TickJitter = 0
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 10 * time.Minute
	}
	return c
}

// Options wires a Collector. Surface is required.
type Options struct {
	Config    Config
	Surface   Surface
	Intercept Source
	Scanner   domscan.Scanner
	Extractor intercept.Extractor
	Sink      Sink
	Log       logx.Logger

	// Sleep waits between scroll and scan. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns the random part of a tick. Defaults to uniform in
	// [0, Config.TickJitter).
	Jitter func() time.Duration
}

// Result is one finished collection.
type Result struct {
	RunID       string
	Candidates  []candidate.Candidate
	Ticks       int
	CompletedAt time.Time
}

// Collector runs collections against one tab. The DOM result set persists
// across runs on the same collector.
type Collector struct {
	cfg     Config
	surface Surface
	source  Source
	scanner domscan.Scanner
	ext     intercept.Extractor
	sink    Sink
	log     logx.Logger
	sleep   func(context.Context, time.Duration) error
	jitter  func() time.Duration

	dom *candidate.Set

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	state  State
	ticks  int
}

func New(o Options) *Collector {
	cfg := o.Config.withDefaults()
	c := &Collector{
		cfg:     cfg,
		surface: o.Surface,
		source:  o.Intercept,
		scanner: o.Scanner,
		ext:     o.Extractor,
		sink:    o.Sink,
		log:     o.Log,
		sleep:   o.Sleep,
		jitter:  o.Jitter,
		dom:     candidate.NewSet(),
		state:   StateIdle,
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "collector"))
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	if c.jitter == nil {
		j := cfg.TickJitter
		c.jitter = func() time.Duration {
			if j <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(j)))
		}
	}
	return c
}

// State reports the lifecycle of the latest run.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ticks reports how many ticks the latest run has taken.
func (c *Collector) Ticks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Run scrolls until the page height and the number of discovered groups
// stay unchanged for IdleTicks consecutive ticks. Starting a run cancels
// any run already in progress on this collector.
func (c *Collector) Run(ctx context.Context) (Result, error) {
	if c.surface == nil {
		return Result{}, errors.New("collector: no surface")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	c.cancel = cancel
	c.state = StateScrolling
	c.ticks = 0
	c.mu.Unlock()

	runID := uuid.NewString()
	log := c.log.With(logx.String("run", runID))
	log.Info("collection started")

	res, err := c.loop(ctx, seq, runID, log)
	if err != nil {
		if !c.current(seq) {
			return Result{}, ErrSuperseded
		}
		c.setState(seq, StateIdle)
		return Result{}, err
	}
	return res, nil
}

func (c *Collector) loop(ctx context.Context, seq uint64, runID string, log logx.Logger) (Result, error) {
	prevHeight, prevSize := -1, -1
	idle := 0
	tick := 0
	deadline := time.Now().Add(c.cfg.MaxDuration)

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		tick++
		c.mu.Lock()
		if c.seq == seq {
			c.ticks = tick
		}
		c.mu.Unlock()

		if err := c.surface.ScrollToBottom(ctx); err != nil {
			return Result{}, fmt.Errorf("scroll: %w", err)
		}
		if err := c.sleep(ctx, c.cfg.TickBase+c.jitter()); err != nil {
			return Result{}, err
		}
		if err := c.scanDOM(ctx); err != nil {
			return Result{}, err
		}
		height, err := c.surface.ScrollHeight(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("scroll height: %w", err)
		}
		size := c.dom.Len()
		if c.source != nil {
			size += c.source.Len()
		}

		if height == prevHeight && size == prevSize {
			idle++
		} else {
			idle = 0
		}
		prevHeight, prevSize = height, size
		log.Trace("tick", logx.Int("tick", tick), logx.Int("height", height), logx.Int("size", size), logx.Int("idle", idle))

		if idle >= c.cfg.IdleTicks {
			break
		}
		if time.Now().After(deadline) {
			log.Warn("collection hit time limit", logx.Int("tick", tick), logx.Int("size", size))
			break
		}
	}

	return c.finish(ctx, seq, runID, tick, log)
}

func (c *Collector) scanDOM(ctx context.Context) error {
	doc, err := c.surface.HTML(ctx)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	found, err := c.scanner.Scan(doc)
	if err != nil {
		return fmt.Errorf("scan page: %w", err)
	}
	c.dom.AddAll(found)
	return nil
}

// finish runs the one-shot script scan, assembles the layers and delivers.
func (c *Collector) finish(ctx context.Context, seq uint64, runID string, ticks int, log logx.Logger) (Result, error) {
	scripts := candidate.NewSet()
	if doc, err := c.surface.HTML(ctx); err != nil {
		log.Warn("script scan skipped", logx.Err(err))
	} else {
		for _, s := range domscan.Scripts(doc) {
			scripts.AddAll(c.ext.Extract([]byte(s)))
		}
	}

	layers := []candidate.Layer{
		{Source: candidate.SourceDOM, Items: c.dom.Slice()},
		{Source: candidate.SourceScript, Items: scripts.Slice()},
	}
	if c.source != nil {
		layers = append(layers, candidate.Layer{Source: candidate.SourceIntercept, Items: c.source.Candidates()})
	}

	res := Result{
		RunID:       runID,
		Candidates:  candidate.Assemble(layers...),
		Ticks:       ticks,
		CompletedAt: time.Now(),
	}

	if !c.current(seq) {
		return Result{}, ErrSuperseded
	}
	c.setState(seq, StateDone)
	log.Info("collection done",
		logx.Int("ticks", ticks),
		logx.Int("groups", len(res.Candidates)),
		logx.Int("dom", c.dom.Len()),
		logx.Int("script", scripts.Len()),
	)

	if c.sink != nil {
		err := c.sink.Deliver(ctx, handoff.Payload{
			RunID:       res.RunID,
			Results:     res.Candidates,
			CompletedAt: res.CompletedAt,
		})
		if err != nil {
			return res, fmt.Errorf("deliver: %w", err)
		}
	}
	return res, nil
}

func (c *Collector) current(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq == seq
}

func (c *Collector) setState(seq uint64, s State) {
	c.mu.Lock()
	if c.seq == seq {
		c.state = s
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
