// Package coordinator is the long-lived control point: it owns the browser
// tabs used for collection, caches the session flag, and routes control
// messages to the collector, the handoff poller and the dispatcher.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"

	"groupcast/internal/collector"
	"groupcast/internal/domscan"
	"groupcast/internal/eventbus"
	"groupcast/internal/handoff"
	"groupcast/internal/intercept"
	logx "groupcast/pkg/logx"
)

var ErrCouldNotAttach = errors.New("could not attach to the groups page, reload it and try again")

// Tab is a page the coordinator can collect from.
type Tab interface {
	collector.Surface
	Ready(ctx context.Context) error
	Close() error
}

// Browser opens tabs and reads cookies.
type Browser interface {
	// OpenTab navigates under ctx; ic captures traffic until capture is done.
	OpenTab(ctx, capture context.Context, url string, ic *intercept.Interceptor) (Tab, error)
	HasCookie(ctx context.Context, domain, name string) (bool, error)
}

type Config struct {
	GroupsURL      string
	SessionDomain  string
	SessionCookie  string
	AttachAttempts int
	AttachDelay    time.Duration
	Collector      collector.Config
	Intercept      intercept.Config
	Scanner        domscan.Scanner
}

func (c Config) withDefaults() Config {
	if c.GroupsURL == "" {
		c.GroupsURL = "https://www.facebook.com/groups/joins/"
	}
	if c.SessionDomain == "" {
		c.SessionDomain = "facebook.com"
	}
	if c.SessionCookie == "" {
		c.SessionCookie = "c_user"
	}
	if c.AttachAttempts <= 0 {
		c.AttachAttempts = 10
	}
	if c.AttachDelay <= 0 {
		c.AttachDelay = 2 * time.Second
	}
	return c
}

// Collection is a started collection run.
type Collection struct {
	// Done yields the run's error (nil on success) and is then closed.
	Done <-chan error
}

type Coordinator struct {
	cfg      Config
	browser  Browser
	sink     *handoff.Sink
	poller   *handoff.Poller
	dispatch Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	loggedIn atomic.Bool

	mu        sync.Mutex
	active    context.CancelCauseFunc
	activeSeq uint64
	base      context.Context
	stopAll   context.CancelFunc
	wg        sync.WaitGroup
}

type Deps struct {
	Browser  Browser
	Sink     *handoff.Sink
	Poller   *handoff.Poller
	Dispatch Dispatcher
	Bus      eventbus.Bus
	Log      logx.Logger
}

func New(cfg Config, dep Deps) *Coordinator {
	log := dep.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		browser:  dep.Browser,
		sink:     dep.Sink,
		poller:   dep.Poller,
		dispatch: dep.Dispatch,
		bus:      dep.Bus,
		log:      log.With(logx.String("comp", "coordinator")),
		base:     base,
		stopAll:  stop,
	}
}

// Close cancels any collection in progress and waits for it, bounded by ctx.
func (c *Coordinator) Close(ctx context.Context) error {
	c.stopAll()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckSession reports whether the browser is logged in to the platform. A
// positive answer is cached for the life of the process; a negative one is
// probed again next time.
func (c *Coordinator) CheckSession(ctx context.Context) (bool, error) {
	if c.loggedIn.Load() {
		return true, nil
	}
	ok, err := c.browser.HasCookie(ctx, c.cfg.SessionDomain, c.cfg.SessionCookie)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	if ok {
		c.loggedIn.Store(true)
	}
	c.publish(eventbus.SessionChecked, ok)
	return ok, nil
}

// StartCollection opens a fresh groups tab and starts collecting in the
// background. It returns once the page is attached, or ErrCouldNotAttach
// after the configured attempts. A collection already running is cancelled.
func (c *Coordinator) StartCollection(ctx context.Context) (Collection, error) {
	// The run, and the tab's network capture with it, outlives the request.
	runCtx, cancel := context.WithCancelCause(c.base)

	ic := intercept.New(c.cfg.Intercept, c.log)
	tab, err := c.browser.OpenTab(ctx, runCtx, c.cfg.GroupsURL, ic)
	if err != nil {
		cancel(err)
		c.log.Warn("open groups tab failed", logx.Err(err))
		return Collection{}, fmt.Errorf("%w: %v", ErrCouldNotAttach, err)
	}

	attempt := 0
	err = retry.New(
		retry.Attempts(uint(c.cfg.AttachAttempts)),
		retry.Delay(c.cfg.AttachDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		attempt++
		return tab.Ready(ctx)
	})
	if err != nil {
		cancel(err)
		_ = tab.Close()
		c.log.Warn("attach failed", logx.Int("attempts", attempt), logx.Err(err))
		return Collection{}, fmt.Errorf("%w: %v", ErrCouldNotAttach, err)
	}

	c.mu.Lock()
	if c.active != nil {
		c.active(collector.ErrSuperseded)
	}
	c.activeSeq++
	seq := c.activeSeq
	c.active = cancel
	c.mu.Unlock()

	opts := collector.Options{
		Config:    c.cfg.Collector,
		Surface:   tab,
		Intercept: ic,
		Scanner:   c.cfg.Scanner,
		Extractor: ic.Extractor(),
		Log:       c.log,
	}
	if c.sink != nil {
		opts.Sink = c.sink
	}
	col := collector.New(opts)

	done := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel(nil)
		defer func() {
			if err := tab.Close(); err != nil {
				c.log.Debug("close groups tab", logx.Err(err))
			}
		}()
		defer func() {
			c.mu.Lock()
			if c.activeSeq == seq {
				c.active = nil
			}
			c.mu.Unlock()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				c.log.Error("collection panic", logx.Any("panic", rec))
				done <- fmt.Errorf("collection panic: %v", rec)
			}
		}()

		res, err := col.Run(runCtx)
		if err != nil {
			if cause := context.Cause(runCtx); errors.Is(err, context.Canceled) && cause != nil {
				err = cause
			}
			observed, failed := ic.Stats()
			c.log.Warn("collection ended without result",
				logx.Err(err),
				logx.Int64("responses", observed),
				logx.Int64("parse_failures", failed),
			)
			c.publish(eventbus.CollectFailed, err.Error())
			done <- err
			return
		}
		c.publish(eventbus.CollectDone, map[string]any{"run": res.RunID, "groups": len(res.Candidates), "ticks": res.Ticks})
		done <- nil
	}()

	c.log.Info("collection started", logx.Int("attach_attempts", attempt))
	return Collection{Done: done}, nil
}

// LoadGroups starts a collection and waits for its result through the
// handoff mailbox, the way a consumer does.
func (c *Coordinator) LoadGroups(ctx context.Context) (handoff.Payload, error) {
	requestedAt := time.Now()
	col, err := c.StartCollection(ctx)
	if err != nil {
		return handoff.Payload{}, err
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case err, ok := <-col.Done:
			if ok && err != nil {
				cancel(err)
			}
		case <-waitCtx.Done():
		}
	}()

	var wake <-chan struct{}
	if c.sink != nil {
		wake = c.sink.Wake()
	}
	p, err := c.poller.Wait(waitCtx, requestedAt, wake)
	if err != nil {
		if cause := context.Cause(waitCtx); cause != nil && ctx.Err() == nil && !errors.Is(err, handoff.ErrTimeout) {
			return handoff.Payload{}, cause
		}
		return handoff.Payload{}, err
	}
	return p, nil
}

func (c *Coordinator) publish(t eventbus.Type, data any) {
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: t, Data: data})
	}
}
