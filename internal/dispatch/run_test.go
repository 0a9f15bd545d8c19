package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPauseResumeKeepsPacing(t *testing.T) {
	gate := make(chan struct{})
	pub := &fakePublisher{gate: gate}
	const d = 200 * time.Millisecond
	r, err := NewRun("r1", targets("t1", "t2"), Content{Text: "x"}, d, pub)
	require.NoError(t, err)

	out := make(chan Snapshot, 1)
	go func() { out <- r.Execute(context.Background()) }()

	require.Eventually(t, func() bool { return len(pub.Calls()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.Pause())
	gate <- struct{}{}
	require.Eventually(t, func() bool { return r.Snapshot().Current == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.Resume())

	require.Eventually(t, func() bool { return len(pub.Calls()) == 2 }, 2*time.Second, time.Millisecond)
	gate <- struct{}{}
	snap := <-out
	assert.Equal(t, StatusCompleted, snap.Status)

	calls := pub.Calls()
	assert.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), d)
}

func TestResumeAndAbandonReportProgress(t *testing.T) {
	gate := make(chan struct{})
	pub := &fakePublisher{gate: gate}
	r, err := NewRun("r2", targets("t1", "t2", "t3"), Content{Text: "x"}, time.Hour, pub)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		statuses []Status
	)
	r.OnProgress(func(p Progress) {
		if p.TargetID != "" {
			return
		}
		mu.Lock()
		statuses = append(statuses, p.Status)
		mu.Unlock()
	})

	out := make(chan Snapshot, 1)
	go func() { out <- r.Execute(context.Background()) }()
	require.Eventually(t, func() bool { return len(pub.Calls()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, r.Pause())
	require.NoError(t, r.Resume())
	gate <- struct{}{}
	require.Eventually(t, func() bool { return r.Snapshot().Current == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.Abandon())

	snap := <-out
	assert.Equal(t, StatusAbandoned, snap.Status)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, []Status{StatusPaused, StatusRunning, StatusAbandoned}, statuses[:3])
}
