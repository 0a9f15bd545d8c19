package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "groupcast/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "file", "state.db")},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "state.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	if url := os.Getenv("GROUPCAST_TEST_REDIS_URL"); url != "" {
		st, err := Open(Config{Driver: "redis", URL: url, Prefix: "groupcast-test:" + t.Name() + ":"}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		out["redis"] = st
	}
	return out
}

func TestSlotOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.GetSlot(ctx, "handoff:groups")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutSlot(ctx, "handoff:groups", []byte("one"), 0))
			require.NoError(t, st.PutSlot(ctx, "handoff:groups", []byte("two"), 0))

			v, ok, err := st.GetSlot(ctx, "handoff:groups")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "two", string(v))

			require.NoError(t, st.DeleteSlot(ctx, "handoff:groups"))
			_, ok, err = st.GetSlot(ctx, "handoff:groups")
			require.NoError(t, err)
			assert.False(t, ok)

			// deleting a missing slot is fine
			require.NoError(t, st.DeleteSlot(ctx, "handoff:groups"))
		})
	}
}

func TestSlotExpiry(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		if name == "redis" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.PutSlot(ctx, "short", []byte("x"), 20*time.Millisecond))
			require.NoError(t, st.PutSlot(ctx, "long", []byte("y"), time.Hour))
			time.Sleep(40 * time.Millisecond)

			_, ok, err := st.GetSlot(ctx, "short")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = st.PruneSlots(ctx)
			require.NoError(t, err)

			v, ok, err := st.GetSlot(ctx, "long")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "y", string(v))
		})
	}
}

func TestAppendOutcome(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.AppendOutcome(ctx, Outcome{RunID: "r1", TargetID: "1", TargetName: "A", Success: true, PostID: "1_9"}))
			require.NoError(t, st.AppendOutcome(ctx, Outcome{RunID: "r1", TargetID: "2", TargetName: "B", Error: "rate limited"}))
		})
	}
}

func TestMemoryKeepsOutcomeOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"3", "1", "2"} {
		require.NoError(t, m.AppendOutcome(ctx, Outcome{TargetID: id}))
	}
	got := m.Outcomes()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"3", "1", "2"}, []string{got[0].TargetID, got[1].TargetID, got[2].TargetID})
	assert.False(t, got[0].At.IsZero())
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutSlot(ctx, "a", []byte("1"), 0))
	require.NoError(t, st.PutSlot(ctx, "b", []byte("2"), 0))
	require.NoError(t, st.DeleteSlot(ctx, "b"))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	v, ok, err := st.GetSlot(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	_, ok, err = st.GetSlot(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
}
