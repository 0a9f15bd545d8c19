package app

import (
	"strings"

	"groupcast/internal/browser"
	"groupcast/internal/candidate"
	"groupcast/internal/collector"
	"groupcast/internal/config"
	"groupcast/internal/coordinator"
	"groupcast/internal/dispatch"
	"groupcast/internal/domscan"
	"groupcast/internal/intercept"
	"groupcast/internal/notify"
	"groupcast/internal/platform"
	"groupcast/internal/server"
	"groupcast/internal/storage"
)

func mapStorage(cfg *config.Config, rt config.Runtime) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		URL:         strings.TrimSpace(cfg.Storage.URL),
		Prefix:      cfg.Storage.Prefix,
		BusyTimeout: rt.BusyTimeout,
	}
}

func mapBrowser(cfg *config.Config) browser.Config {
	b := cfg.Browser
	return browser.Config{
		DebuggerURL: strings.TrimSpace(b.DebuggerURL),
		Bin:         b.Bin,
		Headless:    b.Headless,
		UserDataDir: b.UserDataDir,
		Flags:       b.Flags,
	}
}

func mapPlatform(cfg *config.Config, rt config.Runtime) platform.Config {
	return platform.Config{
		BaseURL:    cfg.Platform.GraphURL,
		Token:      cfg.Platform.Token,
		Timeout:    rt.PlatformTimeout,
		RatePerSec: cfg.Platform.RatePerSec,
	}
}

func mapNameFilter(cfg *config.Config) candidate.NameFilter {
	c := cfg.Collector
	return candidate.NameFilter{
		MinLen: c.MinNameLen,
		MaxLen: c.MaxNameLen,
		Banned: c.BannedWords,
	}.OrDefault()
}

func mapCoordinator(cfg *config.Config, rt config.Runtime) coordinator.Config {
	filter := mapNameFilter(cfg)
	reserved := cfg.Collector.Reserved
	if len(reserved) == 0 {
		reserved = domscan.DefaultReserved
	}
	return coordinator.Config{
		GroupsURL:      cfg.Platform.GroupsURL,
		SessionDomain:  cfg.Platform.SessionDomain,
		SessionCookie:  cfg.Platform.SessionCookie,
		AttachAttempts: cfg.Platform.AttachAttempts,
		AttachDelay:    rt.AttachDelay,
		Collector: collector.Config{
			IdleTicks:   cfg.Collector.IdleTicks,
			TickBase:    rt.TickBase,
			TickJitter:  rt.TickJitter,
			MaxDuration: rt.MaxDuration,
		},
		Intercept: intercept.Config{
			Allow:        cfg.Collector.Allow,
			MaxDepth:     cfg.Collector.MaxDepth,
			MaxBodyBytes: cfg.Collector.MaxBodyBytes,
			Filter:       filter,
		},
		Scanner: domscan.Scanner{Filter: filter, Reserved: reserved},
	}
}

func mapDispatch(cfg *config.Config, rt config.Runtime) dispatch.Config {
	return dispatch.Config{
		DefaultDelay: rt.DefaultDelay,
		StatusMax:    cfg.Dispatch.StatusMax,
		StatusTTL:    rt.StatusTTL,
	}
}

func mapServer(cfg *config.Config, rt config.Runtime) server.Config {
	return server.Config{
		Addr:            rt.Addr,
		Token:           cfg.Server.Token,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ReadTimeout:     rt.ReadTimeout,
		ShutdownTimeout: rt.ShutdownTimeout,
		Pprof:           cfg.Server.Pprof,
	}
}

// mapNotify reports false when Telegram summaries are not configured.
func mapNotify(cfg *config.Config) (notify.Config, bool) {
	t := cfg.Telegram
	if t == nil || strings.TrimSpace(t.Token) == "" {
		return notify.Config{}, false
	}
	return notify.Config{Token: t.Token, ChatID: t.ChatID, Owners: t.Owners, Silent: t.Silent}, true
}
