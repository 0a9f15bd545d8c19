package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "2s", "1m") or bare
// seconds; an omitted or zero duration means the default. Secrets may be left out of
// the file and supplied through the environment instead (see env.go).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Browser   BrowserConfig   `json:"browser"`
	Platform  PlatformConfig  `json:"platform"`
	Collector CollectorConfig `json:"collector"`
	Handoff   HandoffConfig   `json:"handoff"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	Janitor   JanitorConfig   `json:"janitor"`

	// Telegram enables operator summaries when a dispatch run finishes.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BrowserConfig selects how Chromium is reached.
//
// Example:
//
//	"browser": { "headless": true, "user_data_dir": "./profile" }
type BrowserConfig struct {
	DebuggerURL string   `json:"debugger_url,omitempty"`
	Bin         string   `json:"bin,omitempty"`
	Headless    bool     `json:"headless"`
	UserDataDir string   `json:"user_data_dir,omitempty"`
	Flags       []string `json:"flags,omitempty"`
}

type PlatformConfig struct {
	GroupsURL      string `json:"groups_url,omitempty"`
	SessionDomain  string `json:"session_domain,omitempty"`
	SessionCookie  string `json:"session_cookie,omitempty"`
	AttachAttempts int    `json:"attach_attempts,omitempty"`
	AttachDelay    string `json:"attach_delay,omitempty"`

	// Graph API access for publishing and the admin group listing.
	GraphURL   string  `json:"graph_url,omitempty"`
	Token      string  `json:"token,omitempty"` // do not log
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

type CollectorConfig struct {
	IdleTicks   int    `json:"idle_ticks,omitempty"`
	TickBase    string `json:"tick_base,omitempty"`
	TickJitter  string `json:"tick_jitter,omitempty"`
	MaxDuration string `json:"max_duration,omitempty"`

	// Interception layer.
	Allow        []string `json:"allow,omitempty"`
	MaxDepth     int      `json:"max_depth,omitempty"`
	MaxBodyBytes int      `json:"max_body_bytes,omitempty"`

	// Name filtering shared by every layer.
	MinNameLen  int      `json:"min_name_len,omitempty"`
	MaxNameLen  int      `json:"max_name_len,omitempty"`
	BannedWords []string `json:"banned_words,omitempty"`
	Reserved    []string `json:"reserved,omitempty"`
}

type HandoffConfig struct {
	Key          string `json:"key,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	PollAttempts int    `json:"poll_attempts,omitempty"`
	SlotTTL      string `json:"slot_ttl,omitempty"`
}

type DispatchConfig struct {
	DefaultDelay string `json:"default_delay,omitempty"`
	StatusMax    int    `json:"status_max,omitempty"`
	StatusTTL    string `json:"status_ttl,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/groupcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"` // redis
	Prefix      string `json:"prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type ServerConfig struct {
	Addr            string   `json:"addr"`
	Token           string   `json:"token,omitempty"` // do not log
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	Pprof           bool     `json:"pprof,omitempty"`
	ReadTimeout     string   `json:"read_timeout,omitempty"`
	ShutdownTimeout string   `json:"shutdown_timeout,omitempty"`
}

// JanitorConfig schedules the cleanup of expired mailbox slots and old run
// statuses. Schedule is a cron spec; empty means every 10 minutes.
type JanitorConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

type TelegramConfig struct {
	Token  string  `json:"token,omitempty"` // do not log
	ChatID int64   `json:"chat_id"`
	Silent bool    `json:"silent,omitempty"`
	Owners []int64 `json:"owners,omitempty"`
}
