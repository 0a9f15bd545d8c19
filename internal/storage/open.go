package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "groupcast/pkg/logx"
)

// Store is the persistence API used by the handoff and dispatch packages.
//
// A slot holds a single value; Put overwrites. A zero ttl means the slot
// never expires. Get on a missing or expired slot returns ok=false.
type Store interface {
	PutSlot(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetSlot(ctx context.Context, key string) (value []byte, ok bool, err error)
	DeleteSlot(ctx context.Context, key string) error
	// PruneSlots drops expired slots and reports how many went.
	PruneSlots(ctx context.Context) (int, error)

	AppendOutcome(ctx context.Context, o Outcome) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}

func expired(until int64, now int64) bool {
	return until > 0 && until <= now
}
