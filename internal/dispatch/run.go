package dispatch

import (
	"context"
	"sync"
	"time"
)

// Run is one dispatch over an ordered list of selected targets.
type Run struct {
	id      string
	targets []Target
	content Content
	delay   time.Duration
	pub     Publisher

	onProgress ProgressFunc
	onOutcome  func(t Target, o Outcome, took time.Duration)
	sleep      func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	status    Status
	cursor    int
	items     []ItemState
	outcomes  []Outcome
	resume    chan struct{} // non-nil while paused
	stopWaits context.CancelFunc
	createdAt time.Time
	doneAt    time.Time
	started   bool
	done      chan struct{}
}

// NewRun keeps only the selected targets, in input order.
func NewRun(id string, targets []Target, c Content, delay time.Duration, pub Publisher) (*Run, error) {
	if delay <= 0 {
		return nil, ErrInvalidDelay
	}
	sel := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.IsSelected() {
			sel = append(sel, t)
		}
	}
	if len(sel) == 0 {
		return nil, ErrNoTargets
	}
	items := make([]ItemState, len(sel))
	for i := range items {
		items[i] = ItemPending
	}
	return &Run{
		id:        id,
		targets:   sel,
		content:   c,
		delay:     delay,
		pub:       pub,
		sleep:     sleepCtx,
		status:    StatusRunning,
		items:     items,
		outcomes:  make([]Outcome, 0, len(sel)),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}, nil
}

func (r *Run) ID() string { return r.id }

func (r *Run) Total() int { return len(r.targets) }

// Done is closed when Execute returns.
func (r *Run) Done() <-chan struct{} { return r.done }

// OnProgress must be set before Execute.
func (r *Run) OnProgress(f ProgressFunc) { r.onProgress = f }

// Execute processes the queue and blocks until the run completes or is
// abandoned. Cancelling ctx abandons the run; a publish already in flight
// still gets ctx, so the publisher decides whether to stop early.
func (r *Run) Execute(ctx context.Context) Snapshot {
	waitCtx, stopWaits := context.WithCancel(ctx)
	defer stopWaits()

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		<-r.done
		return r.Snapshot()
	}
	r.started = true
	r.stopWaits = stopWaits
	r.mu.Unlock()

	defer close(r.done)

	// lastAt is when the previous publish returned; waited is the cursor the
	// pacing wait already ran for.
	var (
		lastAt time.Time
		waited = -1
	)
	for {
		r.mu.Lock()
		if r.status == StatusAbandoned {
			r.mu.Unlock()
			break
		}
		if waitCtx.Err() != nil {
			r.finishLocked(StatusAbandoned)
			r.mu.Unlock()
			break
		}
		if r.cursor >= len(r.targets) {
			r.finishLocked(StatusCompleted)
			r.mu.Unlock()
			break
		}
		if r.resume != nil {
			ch := r.resume
			r.mu.Unlock()
			select {
			case <-ch:
			case <-waitCtx.Done():
			}
			continue
		}

		i := r.cursor
		if i > 0 && waited != i {
			// Paced from the previous publish even across a pause, so a
			// quick pause and resume never sends two posts back to back.
			waited = i
			rem := r.delay - time.Since(lastAt)
			r.mu.Unlock()
			if rem > 0 {
				_ = r.sleep(waitCtx, rem)
			}
			continue
		}
		t := r.targets[i]
		r.items[i] = ItemSending
		r.mu.Unlock()
		r.emit(Progress{Current: i + 1, TargetID: t.ID, State: ItemSending})

		start := time.Now()
		rec, err := r.pub.Publish(ctx, t.ID, r.content)
		lastAt = time.Now()
		took := lastAt.Sub(start)

		o := Outcome{ID: t.ID, Name: t.Name, Success: err == nil}
		state := ItemSuccess
		if err != nil {
			o.Error = err.Error()
			state = ItemFailed
		} else {
			o.PostID = rec.PostID
		}

		r.mu.Lock()
		r.items[i] = state
		r.outcomes = append(r.outcomes, o)
		r.cursor++
		r.mu.Unlock()

		if r.onOutcome != nil {
			r.onOutcome(t, o, took)
		}
		r.emit(Progress{Current: i + 1, TargetID: t.ID, State: state})
	}

	snap := r.Snapshot()
	r.emit(Progress{Current: snap.Current})
	return snap
}

// Pause stops the run before its next item. A publish in flight finishes.
func (r *Run) Pause() error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return ErrRunFinished
	}
	if r.resume != nil {
		r.mu.Unlock()
		return nil
	}
	r.resume = make(chan struct{})
	r.status = StatusPaused
	cur := r.cursor
	r.mu.Unlock()

	r.emit(Progress{Current: cur, Status: StatusPaused})
	return nil
}

// Resume continues a paused run from its cursor.
func (r *Run) Resume() error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return ErrRunFinished
	}
	if r.resume == nil {
		r.mu.Unlock()
		return nil
	}
	close(r.resume)
	r.resume = nil
	r.status = StatusRunning
	cur := r.cursor
	r.mu.Unlock()

	r.emit(Progress{Current: cur, Status: StatusRunning})
	return nil
}

// Abandon discards the rest of the queue. Published items stay published.
func (r *Run) Abandon() error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return ErrRunFinished
	}
	r.finishLocked(StatusAbandoned)
	if r.resume != nil {
		close(r.resume)
		r.resume = nil
	}
	if r.stopWaits != nil {
		r.stopWaits()
	}
	cur := r.cursor
	r.mu.Unlock()

	r.emit(Progress{Current: cur, Status: StatusAbandoned})
	return nil
}

func (r *Run) finishLocked(s Status) {
	if r.status.Terminal() {
		return
	}
	r.status = s
	r.doneAt = time.Now()
}

// Snapshot copies the current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:        r.id,
		Status:    r.status,
		Current:   r.cursor,
		Total:     len(r.targets),
		Delay:     r.delay,
		Items:     append([]ItemState(nil), r.items...),
		Outcomes:  append([]Outcome(nil), r.outcomes...),
		CreatedAt: r.createdAt,
		DoneAt:    r.doneAt,
	}
}

func (r *Run) emit(p Progress) {
	if r.onProgress == nil {
		return
	}
	p.RunID = r.id
	p.Total = len(r.targets)
	if p.Status == "" {
		r.mu.Lock()
		p.Status = r.status
		r.mu.Unlock()
	}
	r.onProgress(p)
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
