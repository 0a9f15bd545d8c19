package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"groupcast/internal/config"
	"groupcast/pkg/logx"
)

// slotPruner and runPruner are the parts of storage and dispatch the
// janitor cleans.
type slotPruner interface {
	PruneSlots(ctx context.Context) (int, error)
}

type runPruner interface {
	Prune(now time.Time) int
}

// janitor periodically drops expired mailbox slots and old run statuses.
type janitor struct {
	slots slotPruner
	runs  runPruner
	log   logx.Logger

	mu   sync.Mutex
	c    *cron.Cron
	spec string
}

func newJanitor(slots slotPruner, runs runPruner, log logx.Logger) *janitor {
	return &janitor{slots: slots, runs: runs, log: log}
}

// Start schedules the sweep; a running janitor is rescheduled when spec
// changed.
func (j *janitor) Start(spec string) error {
	sched, err := config.CronParser.Parse(spec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil && j.spec == spec {
		return nil
	}
	if j.c != nil {
		j.c.Stop()
	}
	c := cron.New(cron.WithParser(config.CronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { j.Sweep(context.Background()) }))
	c.Start()
	j.c, j.spec = c, spec
	j.log.Debug("janitor scheduled", logx.String("spec", spec))
	return nil
}

// Sweep runs one cleanup pass.
func (j *janitor) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	slots := 0
	if j.slots != nil {
		n, err := j.slots.PruneSlots(ctx)
		if err != nil {
			j.log.Warn("slot prune failed", logx.Err(err))
		}
		slots = n
	}
	runs := 0
	if j.runs != nil {
		runs = j.runs.Prune(time.Now())
	}
	if slots > 0 || runs > 0 {
		j.log.Info("janitor swept", logx.Int("slots", slots), logx.Int("runs", runs))
	}
}

// Stop waits for a sweep in progress, bounded by ctx.
func (j *janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
