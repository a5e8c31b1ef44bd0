package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "notifrelay/pkg/logx"
)

// Store is the persistence API used by history and delivery.
type Store interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	// RecentHistory returns up to limit entries, newest first.
	RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	// LoadDedup returns every key whose window has not expired.
	LoadDedup(ctx context.Context) (map[string]time.Time, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
