package config

import (
	"reflect"
	"sort"
	"strings"

	"groupcast/pkg/logx"
)

// LogConfig maps the logging section onto the log service's config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    strings.TrimSpace(c.Logging.File.Path),
		},
	}
}

// SummarizeConfigChange lists the sections that differ and returns fields
// that are safe to log. Tokens are reported only as set/unset.
//
// Sections whose changes need a restart (browser, storage, server) are
// reported as well so the operator sees them.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
		attrs = append(attrs,
			logx.Bool("browser.attach", newCfg.Browser.DebuggerURL != ""),
			logx.Bool("browser.headless", newCfg.Browser.Headless),
		)
	}

	op, np := oldCfg.Platform, newCfg.Platform
	tokenChanged := op.Token != np.Token
	op.Token, np.Token = "", ""
	if tokenChanged || op != np {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.groups_url", np.GroupsURL),
			logx.Int("platform.attach_attempts", np.AttachAttempts),
			logx.Bool("platform.token_set", newCfg.Platform.Token != ""),
			logx.Bool("platform.token_changed", tokenChanged),
		)
	}

	if !reflect.DeepEqual(oldCfg.Collector, newCfg.Collector) {
		changed = append(changed, "collector")
		attrs = append(attrs,
			logx.Int("collector.idle_ticks", newCfg.Collector.IdleTicks),
			logx.String("collector.tick_base", newCfg.Collector.TickBase),
			logx.Int("collector.allow_count", len(newCfg.Collector.Allow)),
		)
	}

	if oldCfg.Handoff != newCfg.Handoff {
		changed = append(changed, "handoff")
		attrs = append(attrs,
			logx.String("handoff.poll_interval", newCfg.Handoff.PollInterval),
			logx.Int("handoff.poll_attempts", newCfg.Handoff.PollAttempts),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.default_delay", newCfg.Dispatch.DefaultDelay),
			logx.Int("dispatch.status_max", newCfg.Dispatch.StatusMax),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nst.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.Bool("storage.url_set", strings.TrimSpace(nst.URL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.token_set", newCfg.Server.Token != ""),
			logx.Bool("server.pprof", newCfg.Server.Pprof),
		)
	}

	if oldCfg.Janitor != newCfg.Janitor {
		changed = append(changed, "janitor")
		attrs = append(attrs, logx.String("janitor.schedule", newCfg.Janitor.Schedule))
	}

	ot, nt := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if (oldCfg.Telegram == nil) != (newCfg.Telegram == nil) || !reflect.DeepEqual(ot, nt) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Token != ""),
			logx.Int64("telegram.chat_id", nt.ChatID),
			logx.Int("telegram.owner_count", len(nt.Owners)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}
