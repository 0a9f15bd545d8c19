package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// durations parses the duration fields of one config and keeps every error
// so a bad file is reported in one go.
type durations struct {
	errs []error
}

// get returns def for an empty or zero value. A bare integer means seconds,
// which keeps env overrides short.
func (d *durations) get(path, raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	v, err := parseDuration(s)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err))
		return def
	}
	if v < 0 {
		d.errs = append(d.errs, fmt.Errorf("%s: duration must be >= 0", path))
		return def
	}
	if v == 0 {
		return def
	}
	return v
}

func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
