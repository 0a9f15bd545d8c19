package config

import (
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable below, e.g.
// GROUPCAST_PLATFORM_TOKEN.
const EnvPrefix = "groupcast"

// Env holds settings that may come from the environment. Non-empty values
// override the file.
type Env struct {
	PlatformToken string `envconfig:"PLATFORM_TOKEN"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	RedisURL      string `envconfig:"REDIS_URL"`
	Addr          string `envconfig:"ADDR"`
	ServerToken   string `envconfig:"SERVER_TOKEN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	DebuggerURL   string `envconfig:"DEBUGGER_URL"`
}

// ApplyEnv overlays the environment onto cfg.
func ApplyEnv(cfg *Config) error {
	var e Env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return err
	}
	e.apply(cfg)
	return nil
}

func (e Env) apply(cfg *Config) {
	if e.PlatformToken != "" {
		cfg.Platform.Token = e.PlatformToken
	}
	if e.TelegramToken != "" {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = e.TelegramToken
	}
	if e.RedisURL != "" {
		cfg.Storage.URL = e.RedisURL
	}
	if e.Addr != "" {
		cfg.Server.Addr = e.Addr
	}
	if e.ServerToken != "" {
		cfg.Server.Token = e.ServerToken
	}
	if e.LogLevel != "" {
		cfg.Logging.Level = e.LogLevel
	}
	if e.DebuggerURL != "" {
		cfg.Browser.DebuggerURL = e.DebuggerURL
	}
}
