// Package app wires the daemon together: config, logging, storage, the
// browser, the coordinator, the dispatcher and the control server.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"groupcast/internal/browser"
	"groupcast/internal/config"
	"groupcast/internal/coordinator"
	"groupcast/internal/dispatch"
	"groupcast/internal/eventbus"
	"groupcast/internal/handoff"
	"groupcast/internal/notify"
	"groupcast/internal/platform"
	"groupcast/internal/runtime/supervisor"
	"groupcast/internal/server"
	"groupcast/internal/storage"
	"groupcast/pkg/logx"
	"groupcast/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store    storage.Store
	browser  *browser.Browser
	platform *platform.Client
	dispatch *dispatch.Service
	coord    *coordinator.Coordinator
	server   *server.Server
	janitor  *janitor

	// base outlives requests; the browser is launched under it.
	base     context.Context
	stopBase context.CancelFunc
}

// New loads the config at cfgPath and builds every component. Nothing is
// started yet.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, rt, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogConfig())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorage(cfg, rt), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	base, stopBase := context.WithCancel(context.Background())

	br := browser.New(mapBrowser(cfg), log)
	pc := platform.New(mapPlatform(cfg, rt), log.With(logx.String("comp", "platform")))

	deps := dispatch.Deps{Publisher: pc, Outcomes: store, Bus: bus, Log: log}
	if ncfg, ok := mapNotify(cfg); ok {
		n, err := notify.New(ncfg, log.With(logx.String("comp", "notify")))
		if err != nil {
			stopBase()
			_ = store.Close()
			return nil, err
		}
		deps.Notifier = n
	}
	disp := dispatch.New(mapDispatch(cfg, rt), deps)

	coord := coordinator.New(mapCoordinator(cfg, rt), coordinator.Deps{
		Browser: coordinator.Rod(base, br),
		Sink:    handoff.NewSink(store, cfg.Handoff.Key, rt.SlotTTL, log.With(logx.String("comp", "handoff"))),
		Poller: &handoff.Poller{
			Store:       store,
			Key:         cfg.Handoff.Key,
			Interval:    rt.PollInterval,
			MaxAttempts: cfg.Handoff.PollAttempts,
			Log:         log.With(logx.String("comp", "handoff")),
		},
		Dispatch: disp,
		Bus:      bus,
		Log:      log,
	})

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		browser:  br,
		platform: pc,
		dispatch: disp,
		coord:    coord,
		janitor:  newJanitor(store, disp, log.With(logx.String("comp", "janitor"))),
		base:     base,
		stopBase: stopBase,
	}
	a.server = server.New(mapServer(cfg, rt), server.Deps{
		Control: coord,
		Admin:   pc,
		Bus:     bus,
		Health:  a.health,
		Log:     log,
	})
	return a, nil
}

// Done is closed when the app stops, either through Stop or a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	_, rt := a.cfgm.Get()

	if err := a.browser.Start(a.base); err != nil {
		// collection retries the launch on demand
		a.log.Warn("browser not available yet", logx.Err(err))
	}

	a.dispatch.Start(a.base)
	if err := a.janitor.Start(rt.JanitorSchedule); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}

	a.sup.Go("server", a.server.Serve)
	a.sup.GoRestart("config.watch", 500*time.Millisecond, 30*time.Second, a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("events.log", a.logEvents)
	a.sup.GoRestart("systemd.watchdog", time.Second, 30*time.Second, systemd.Watchdog)

	a.log.Info("app started", logx.String("addr", rt.Addr))
	return nil
}

// logEvents mirrors bus traffic into the debug log.
func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", string(e.Type)), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies hot-reloadable config: logging, dispatch pacing and
// the janitor schedule. Other sections need a restart.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last, _ := a.cfgm.Get()

	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			_, _ = systemd.Reloading()
			a.apply(last, next)
			last = next
			_, _ = systemd.Ready()
		}
	}
}

var restartSections = map[string]bool{"browser": true, "platform": true, "collector": true, "handoff": true, "storage": true, "server": true, "telegram": true}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := next.Resolve()
	if err != nil {
		a.log.Warn("config rejected", logx.Err(err))
		return
	}

	a.logs.Apply(next.LogConfig())
	a.dispatch.Apply(mapDispatch(next, rt))
	if err := a.janitor.Start(rt.JanitorSchedule); err != nil {
		a.log.Warn("janitor schedule rejected; keeping previous", logx.Err(err))
	}

	var pending []string
	for _, s := range sections {
		if restartSections[s] {
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() map[string]any {
	h := map[string]any{"events_dropped": a.bus.Dropped()}
	if a.sup != nil {
		h["loops"] = a.sup.Snapshot()
	}
	return h
}

// Stop shuts everything down in order. Each step is bounded so one stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = systemd.Stopping()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max(limit, 0))
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err))
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// The server goes first so no new work arrives.
	step("supervisor", 12*time.Second, a.sup.Stop)
	step("workers", 5*time.Second, func(c context.Context) error {
		g, gctx := errgroup.WithContext(c)
		g.Go(func() error { return a.coord.Close(gctx) })
		g.Go(func() error { a.dispatch.Stop(gctx); return nil })
		g.Go(func() error { a.janitor.Stop(gctx); return nil })
		return g.Wait()
	})
	step("browser", 3*time.Second, func(context.Context) error { return a.browser.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	a.stopBase()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
