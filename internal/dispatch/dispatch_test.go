package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"groupcast/internal/eventbus"
	"groupcast/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	target string
	at     time.Time
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	gate  chan struct{} // when set, each publish waits for a receive
}

func (f *fakePublisher) Publish(ctx context.Context, targetID string, _ Content) (Receipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{target: targetID, at: time.Now()})
	gate := f.gate
	err := f.fail[targetID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{PostID: "post_" + targetID}, nil
}

func (f *fakePublisher) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (n *recordingNotifier) RunFinished(_ context.Context, s Snapshot) error {
	n.mu.Lock()
	n.snaps = append(n.snaps, s)
	n.mu.Unlock()
	return nil
}

func targets(ids ...string) []Target {
	out := make([]Target, len(ids))
	for i, id := range ids {
		out[i] = Target{ID: id, Name: "Group " + id}
	}
	return out
}

func newService(t *testing.T, pub Publisher, dep Deps) *Service {
	t.Helper()
	dep.Publisher = pub
	s := New(Config{DefaultDelay: 10 * time.Millisecond}, dep)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestRunKeepsOrderAndRecordsFailure(t *testing.T) {
	pub := &fakePublisher{fail: map[string]error{"t2": errors.New("(#200) permission denied")}}
	store := storage.NewMemory()
	notifier := &recordingNotifier{}
	s := newService(t, pub, Deps{Outcomes: store, Notifier: notifier})

	var (
		mu       sync.Mutex
		progress []Progress
	)
	snap, err := s.Submit(targets("t1", "t2", "t3"), Content{Text: "hi"}, time.Millisecond, func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Total)

	final, err := s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 3, final.Current)
	assert.Equal(t, []Outcome{
		{ID: "t1", Name: "Group t1", Success: true, PostID: "post_t1"},
		{ID: "t2", Name: "Group t2", Success: false, Error: "(#200) permission denied"},
		{ID: "t3", Name: "Group t3", Success: true, PostID: "post_t3"},
	}, final.Outcomes)
	assert.Equal(t, []ItemState{ItemSuccess, ItemFailed, ItemSuccess}, final.Items)

	calls := pub.Calls()
	require.Len(t, calls, 3, "no retry of the failed target")
	assert.Equal(t, "t2", calls[1].target)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	assert.Equal(t, Progress{RunID: snap.ID, Current: 1, Total: 3, TargetID: "t1", State: ItemSending, Status: StatusRunning}, progress[0])
	last := progress[len(progress)-1]
	assert.Equal(t, 3, last.Current)
	assert.Equal(t, StatusCompleted, last.Status)

	stored := store.Outcomes()
	require.Len(t, stored, 3)
	assert.Equal(t, snap.ID, stored[1].RunID)
	assert.False(t, stored[1].Success)

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.snaps) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunWaitsDelayBetweenItems(t *testing.T) {
	pub := &fakePublisher{}
	s := newService(t, pub, Deps{})

	const d = 30 * time.Millisecond
	snap, err := s.Submit(targets("a", "b", "c"), Content{Text: "x"}, d, nil)
	require.NoError(t, err)
	_, err = s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)

	calls := pub.Calls()
	require.Len(t, calls, 3)
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), d)
	assert.GreaterOrEqual(t, calls[2].at.Sub(calls[0].at), 2*d)
}

func TestPauseTakesEffectBeforeNextItem(t *testing.T) {
	gate := make(chan struct{})
	pub := &fakePublisher{gate: gate}
	s := newService(t, pub, Deps{})

	snap, err := s.Submit(targets("a", "b", "c"), Content{Text: "x"}, time.Millisecond, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.Calls()) == 1 }, time.Second, time.Millisecond)
	paused, err := s.Pause(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// the in-flight publish completes
	gate <- struct{}{}
	require.Eventually(t, func() bool {
		st, _ := s.Status(snap.ID)
		return len(st.Outcomes) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, pub.Calls(), 1, "nothing starts while paused")
	st, _ := s.Status(snap.ID)
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, StatusPaused, st.Status)

	_, err = s.Resume(snap.ID)
	require.NoError(t, err)
	gate <- struct{}{}
	gate <- struct{}{}

	final, err := s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Len(t, final.Outcomes, 3)
}

func TestAbandonKeepsPublishedItems(t *testing.T) {
	pub := &fakePublisher{}
	bus := eventbus.New()
	done, unsub := bus.Subscribe(4, eventbus.DispatchDone)
	defer unsub()
	s := newService(t, pub, Deps{Bus: bus})

	snap, err := s.Submit(targets("a", "b", "c"), Content{Text: "x"}, time.Hour, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := s.Status(snap.ID)
		return len(st.Outcomes) == 1
	}, time.Second, time.Millisecond)

	_, err = s.Abandon(snap.ID)
	require.NoError(t, err)

	final, err := s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, final.Status)
	assert.Len(t, final.Outcomes, 1)
	assert.Len(t, pub.Calls(), 1)

	select {
	case e := <-done:
		assert.Equal(t, StatusAbandoned, e.Data.(Snapshot).Status)
	case <-time.After(time.Second):
		t.Fatal("no done event")
	}

	_, err = s.Resume(snap.ID)
	require.ErrorIs(t, err, ErrRunFinished)
}

func TestSubmitSkipsUnselectedTargets(t *testing.T) {
	pub := &fakePublisher{}
	s := newService(t, pub, Deps{})
	no := false
	yes := true
	in := []Target{{ID: "a"}, {ID: "b", Selected: &no}, {ID: "c", Selected: &yes}}

	snap, err := s.Submit(in, Content{Text: "x"}, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
	_, err = s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)

	calls := pub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].target)
	assert.Equal(t, "c", calls[1].target)

	_, err = s.Submit([]Target{{ID: "b", Selected: &no}}, Content{}, time.Millisecond, nil)
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestSubmitDelayRules(t *testing.T) {
	s := newService(t, &fakePublisher{}, Deps{})

	_, err := s.Submit(targets("a"), Content{}, -time.Second, nil)
	require.ErrorIs(t, err, ErrInvalidDelay)

	snap, err := s.Submit(targets("a"), Content{}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, snap.Delay)
	_, err = s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)
}

func TestSubmitRequiresStart(t *testing.T) {
	s := New(Config{}, Deps{Publisher: &fakePublisher{}})
	_, err := s.Submit(targets("a"), Content{}, time.Second, nil)
	require.ErrorIs(t, err, ErrNotRunning)

	_, err = s.Pause("missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestPruneDropsOldFinishedRuns(t *testing.T) {
	s := newService(t, &fakePublisher{}, Deps{})
	snap, err := s.Submit(targets("a"), Content{}, time.Millisecond, nil)
	require.NoError(t, err)
	_, err = s.Wait(context.Background(), snap.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Prune(time.Now().Add(48*time.Hour)) == 1
	}, time.Second, 5*time.Millisecond)
	_, ok := s.Status(snap.ID)
	assert.False(t, ok)
}

func TestStopAbandonsActiveRuns(t *testing.T) {
	pub := &fakePublisher{}
	s := New(Config{}, Deps{Publisher: pub})
	s.Start(context.Background())

	snap, err := s.Submit(targets("a", "b"), Content{}, time.Hour, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(pub.Calls()) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	st, ok := s.Status(snap.ID)
	require.True(t, ok)
	assert.Equal(t, StatusAbandoned, st.Status)
}
