package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart (default)
//   - "file": snapshot + journal files next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis": server at URL, keys under Prefix
type Config struct {
	Driver      string
	Path        string
	URL         string
	Prefix      string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome records the result of one dispatch to one target.
// Keep it compact and schema-stable.
type Outcome struct {
	At         time.Time `json:"at"`
	RunID      string    `json:"run_id"`
	TargetID   string    `json:"target_id"`
	TargetName string    `json:"target_name"`
	Success    bool      `json:"success"`
	PostID     string    `json:"post_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
}
