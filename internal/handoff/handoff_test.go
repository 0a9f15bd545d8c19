package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"groupcast/internal/candidate"
	"groupcast/internal/storage"
	logx "groupcast/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastPoller(st storage.Store, attempts int) *Poller {
	return &Poller{Store: st, Interval: 5 * time.Millisecond, MaxAttempts: attempts}
}

func TestWaitDeliversFreshPayloadOnce(t *testing.T) {
	st := storage.NewMemory()
	sink := NewSink(st, "", 0, logx.Nop())
	ctx := context.Background()

	requested := time.Now()
	want := []candidate.Candidate{{ID: "1", Name: "Alpha"}, {ID: "2", Name: "Beta"}}
	require.NoError(t, sink.Deliver(ctx, Payload{RunID: "r1", Results: want, CompletedAt: requested.Add(time.Second)}))

	got, err := fastPoller(st, 3).Wait(ctx, requested, sink.Wake())
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, want, got.Results)

	_, ok, err := st.GetSlot(ctx, DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok, "slot is cleared after delivery")

	_, err = fastPoller(st, 3).Wait(ctx, requested, nil)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWaitIgnoresStalePayload(t *testing.T) {
	st := storage.NewMemory()
	sink := NewSink(st, "", 0, logx.Nop())
	ctx := context.Background()

	requested := time.Now()
	require.NoError(t, sink.Deliver(ctx, Payload{RunID: "old", CompletedAt: requested.Add(-time.Minute)}))

	_, err := fastPoller(st, 4).Wait(ctx, requested, nil)
	require.ErrorIs(t, err, ErrTimeout)

	// the stale entry is left for the next write to overwrite
	_, ok, err := st.GetSlot(ctx, DefaultKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitPicksUpLateWrite(t *testing.T) {
	st := storage.NewMemory()
	sink := NewSink(st, "", 0, logx.Nop())
	ctx := context.Background()
	requested := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		_ = sink.Deliver(ctx, Payload{RunID: "late"})
	}()

	p := &Poller{Store: st, Interval: time.Hour, MaxAttempts: 5}
	got, err := p.Wait(ctx, requested, sink.Wake())
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "late", got.RunID)
	assert.NotNil(t, got.Results)
	assert.Empty(t, got.Results)
}

func TestWaitEmptyResultIsNotTimeout(t *testing.T) {
	st := storage.NewMemory()
	sink := NewSink(st, "", 0, logx.Nop())
	ctx := context.Background()
	requested := time.Now()

	require.NoError(t, sink.Deliver(ctx, Payload{RunID: "empty", CompletedAt: requested}))
	got, err := fastPoller(st, 1).Wait(ctx, requested, nil)
	require.NoError(t, err)
	assert.Empty(t, got.Results)
}

func TestConcurrentWaitersGetPayloadOnce(t *testing.T) {
	st := storage.NewMemory()
	sink := NewSink(st, "", 0, logx.Nop())
	ctx := context.Background()
	requested := time.Now()
	require.NoError(t, sink.Deliver(ctx, Payload{RunID: "r"}))

	p := fastPoller(st, 3)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Wait(ctx, requested, nil); err == nil {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, hits)
}

func TestWaitHonoursContext(t *testing.T) {
	st := storage.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Poller{Store: st, Interval: time.Hour, MaxAttempts: 10}).Wait(ctx, time.Now(), nil)
	require.ErrorIs(t, err, context.Canceled)
}
