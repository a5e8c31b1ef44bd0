package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "notifrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// historyKeep bounds the history table; older rows are pruned.
const historyKeep = 5000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ongoing := 0
	if e.Ongoing {
		ongoing = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(at, outcome, reason, source_app, title, body, posted_at, ongoing)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Outcome, nullStr(e.Reason), e.SourceApp, e.Title, e.Body, e.PostedAt, ongoing,
	)
	if err == nil {
		s.maybePrune()
	}
	return err
}

func (s *sqliteStore) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, outcome, reason, source_app, title, body, posted_at, ongoing
		 FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e       HistoryEntry
			at      string
			reason  sql.NullString
			ongoing int
		)
		if err := rows.Scan(&e.ID, &at, &e.Outcome, &reason, &e.SourceApp, &e.Title, &e.Body, &e.PostedAt, &ongoing); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Reason = reason.String
		e.Ongoing = ongoing != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil {
		s.maybePrune()
	}
	return err
}

func (s *sqliteStore) LoadDedup(ctx context.Context) (map[string]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, until FROM dedup WHERE until > ?`, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var (
			key string
			ms  int64
		)
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, err
		}
		out[key] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

func (s *sqliteStore) maybePrune() {
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.prune(ctx); err != nil {
		s.log.Debug("sqlite prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) prune(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE id <= (SELECT COALESCE(MAX(id), 0) - ? FROM history)`, historyKeep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
