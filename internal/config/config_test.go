package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcast/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
browser:
  headless: true
  user_data_dir: ./profile
platform:
  attach_attempts: 5
  attach_delay: 1s
collector:
  idle_ticks: 4
  tick_base: 1s
  banned_words: [marketplace]
handoff:
  poll_interval: 500ms
  poll_attempts: 10
dispatch:
  default_delay: 45s
storage:
  driver: sqlite
  path: ./data/groupcast.db
server:
  addr: 127.0.0.1:9000
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "groupcast.yaml", sampleYAML), logx.Nop())
	cfg, rt, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Platform.AttachAttempts)
	assert.Equal(t, []string{"marketplace"}, cfg.Collector.BannedWords)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)

	assert.Equal(t, time.Second, rt.AttachDelay)
	assert.Equal(t, time.Second, rt.TickBase)
	assert.Equal(t, 500*time.Millisecond, rt.TickJitter)
	assert.Equal(t, 500*time.Millisecond, rt.PollInterval)
	assert.Equal(t, 45*time.Second, rt.DefaultDelay)
	assert.Equal(t, "127.0.0.1:9000", rt.Addr)
	assert.Equal(t, DefaultJanitorSchedule, rt.JanitorSchedule)

	got, gotRT := m.Get()
	assert.Same(t, cfg, got)
	assert.Equal(t, rt, gotRT)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	_, err := Decode("groupcast.json", []byte(`{"storage":{"driver":"memory"},"pprof":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pprof")

	_, err = Decode("groupcast.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestDecodeYAMLRejectsUnknownFields(t *testing.T) {
	_, err := Decode("groupcast.yml", []byte("collector:\n  idle_tick: 3\n"))
	require.Error(t, err)
}

func TestResolveDefaults(t *testing.T) {
	var cfg Config
	rt, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, rt.AttachDelay)
	assert.Equal(t, 1500*time.Millisecond, rt.TickBase)
	assert.Equal(t, 10*time.Minute, rt.MaxDuration)
	assert.Equal(t, 2*time.Second, rt.PollInterval)
	assert.Equal(t, 30*time.Second, rt.DefaultDelay)
	assert.Equal(t, DefaultAddr, rt.Addr)
}

func TestResolveCollectsErrors(t *testing.T) {
	cfg := Config{
		Collector: CollectorConfig{TickBase: "soon", IdleTicks: -1},
		Storage:   StorageConfig{Driver: "etcd"},
		Janitor:   JanitorConfig{Schedule: "every so often"},
	}
	_, err := cfg.Resolve()
	require.Error(t, err)
	for _, want := range []string{"collector.tick_base", "collector.idle_ticks", "storage.driver", "janitor.schedule"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = Config{Storage: StorageConfig{Driver: "redis"}}
	_, err = cfg.Resolve()
	require.ErrorContains(t, err, "storage.url")

	cfg = Config{Telegram: &TelegramConfig{Token: "x"}}
	_, err = cfg.Resolve()
	require.ErrorContains(t, err, "telegram.chat_id")
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("GROUPCAST_PLATFORM_TOKEN", "tok-123")
	t.Setenv("GROUPCAST_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("GROUPCAST_ADDR", "0.0.0.0:7000")

	p := writeFile(t, "groupcast.json", `{"storage":{"driver":"redis"},"server":{"addr":"127.0.0.1:1"}}`)
	cfg, rt, err := NewManager(p, logx.Nop()).Parse()
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Platform.Token)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Storage.URL)
	assert.Equal(t, "0.0.0.0:7000", rt.Addr)
	assert.Nil(t, cfg.Telegram)
}

func TestSummarizeConfigChangeHidesTokens(t *testing.T) {
	oldCfg := &Config{Platform: PlatformConfig{Token: "old-secret"}}
	newCfg := &Config{
		Platform: PlatformConfig{Token: "new-secret"},
		Dispatch: DispatchConfig{DefaultDelay: "10s"},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"dispatch", "platform"}, changed)
	assert.NotEmpty(t, attrs)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("changed", attrs...)
	assert.NotContains(t, buf.String(), "secret")
	assert.Contains(t, buf.String(), `"platform.token_changed":true`)

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeFile(t, "groupcast.json", `{"dispatch":{"default_delay":"10s"}}`)
	m := NewManager(p, logx.Nop())
	_, _, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"dispatch":{"default_delay":"20s"}}`), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "20s", cfg.Dispatch.DefaultDelay)
		_, rt := m.Get()
		assert.Equal(t, 20*time.Second, rt.DefaultDelay)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestDecodeYAMLShapes(t *testing.T) {
	cfg, err := Decode("groupcast.yaml", []byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Storage.Driver)

	_, err = Decode("groupcast.yaml", []byte("storage:\n  driver: memory\n---\nserver:\n  addr: x\n"))
	require.ErrorContains(t, err, "one document")

	_, err = Decode("groupcast.yaml", []byte("- a\n- b\n"))
	require.ErrorContains(t, err, "mapping")

	_, err = Decode("groupcast.yaml", []byte("collector:\n  reserved:\n    - {1: feed}\n"))
	require.ErrorContains(t, err, "collector.reserved[0]")
}

func TestDecodeSniffsFormat(t *testing.T) {
	cfg, err := Decode("groupcast.conf", []byte(`{"server":{"addr":"127.0.0.1:1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.Server.Addr)

	cfg, err = Decode("groupcast.conf", []byte("server:\n  addr: 127.0.0.1:2\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2", cfg.Server.Addr)
}

func TestDurationsBareSeconds(t *testing.T) {
	var ds durations
	assert.Equal(t, 45*time.Second, ds.get("dispatch.default_delay", "45", time.Second))
	assert.Equal(t, 1500*time.Millisecond, ds.get("collector.tick_base", " 1.5s ", time.Second))
	assert.Equal(t, time.Second, ds.get("x", "0", time.Second))
	assert.Empty(t, ds.errs)

	assert.Equal(t, time.Second, ds.get("x", "-3s", time.Second))
	assert.Equal(t, time.Second, ds.get("y", "soon", time.Second))
	require.Len(t, ds.errs, 2)
	assert.ErrorContains(t, ds.errs[1], `y: invalid duration "soon"`)
}
