package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultAddr            = "127.0.0.1:8787"
	DefaultJanitorSchedule = "*/10 * * * *"
)

// CronParser accepts 5-field and 6-field (with seconds) specs and
// descriptors such as "@every 10m".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runtime is the parsed form of the duration fields, with defaults filled in.
type Runtime struct {
	AttachDelay     time.Duration
	PlatformTimeout time.Duration
	TickBase        time.Duration
	TickJitter      time.Duration
	MaxDuration     time.Duration
	PollInterval    time.Duration
	SlotTTL         time.Duration
	DefaultDelay    time.Duration
	StatusTTL       time.Duration
	BusyTimeout     time.Duration
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	Addr            string
	JanitorSchedule string
}

// Resolve parses every duration and checks the few cross-field rules.
func (c *Config) Resolve() (Runtime, error) {
	var (
		rt Runtime
		ds durations
	)
	dur := ds.get

	rt.AttachDelay = dur("platform.attach_delay", c.Platform.AttachDelay, 2*time.Second)
	rt.PlatformTimeout = dur("platform.timeout", c.Platform.Timeout, 60*time.Second)
	rt.TickBase = dur("collector.tick_base", c.Collector.TickBase, 1500*time.Millisecond)
	rt.TickJitter = dur("collector.tick_jitter", c.Collector.TickJitter, 500*time.Millisecond)
	rt.MaxDuration = dur("collector.max_duration", c.Collector.MaxDuration, 10*time.Minute)
	rt.PollInterval = dur("handoff.poll_interval", c.Handoff.PollInterval, 2*time.Second)
	rt.SlotTTL = dur("handoff.slot_ttl", c.Handoff.SlotTTL, 10*time.Minute)
	rt.DefaultDelay = dur("dispatch.default_delay", c.Dispatch.DefaultDelay, 30*time.Second)
	rt.StatusTTL = dur("dispatch.status_ttl", c.Dispatch.StatusTTL, 24*time.Hour)
	rt.BusyTimeout = dur("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	rt.ReadTimeout = dur("server.read_timeout", c.Server.ReadTimeout, 15*time.Second)
	rt.ShutdownTimeout = dur("server.shutdown_timeout", c.Server.ShutdownTimeout, 10*time.Second)

	rt.Addr = strings.TrimSpace(c.Server.Addr)
	if rt.Addr == "" {
		rt.Addr = DefaultAddr
	}
	rt.JanitorSchedule = strings.TrimSpace(c.Janitor.Schedule)
	if rt.JanitorSchedule == "" {
		rt.JanitorSchedule = DefaultJanitorSchedule
	}
	if _, err := CronParser.Parse(rt.JanitorSchedule); err != nil {
		ds.errs = append(ds.errs, fmt.Errorf("janitor.schedule: %w", err))
	}

	errs := ds.errs
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for driver "+c.Storage.Driver))
		}
	case "redis":
		if strings.TrimSpace(c.Storage.URL) == "" {
			errs = append(errs, errors.New("storage.url is required for redis (or set GROUPCAST_REDIS_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if c.Collector.IdleTicks < 0 {
		errs = append(errs, errors.New("collector.idle_ticks must be >= 0"))
	}
	if c.Handoff.PollAttempts < 0 {
		errs = append(errs, errors.New("handoff.poll_attempts must be >= 0"))
	}
	if c.Telegram != nil && c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when a telegram token is set"))
	}

	if err := errors.Join(errs...); err != nil {
		return Runtime{}, fmt.Errorf("invalid config: %w", err)
	}
	return rt, nil
}
