package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "notifrelay/pkg/logx"
)

// fileStore keeps everything in plain files.
//
// Files:
//   - <prefix>.history.jsonl       (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. History ids are
// line numbers, assigned on open by counting existing lines.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyPath string
	historyFile *os.File
	historySeq  int64

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	historyPath := prefix + ".history.jsonl"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	seq, _ := countLines(historyPath)
	hf, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load dedup from snapshot + journal.
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		historyPath:       historyPath,
		historyFile:       hf,
		historySeq:        seq,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
		dedupWrites:       0,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.historyFile != nil {
		err1 = s.historyFile.Close()
		s.historyFile = nil
	}
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendHistory(_ context.Context, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return errors.New("history file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.ID = s.historySeq + 1
	if err := json.NewEncoder(s.historyFile).Encode(e); err != nil {
		return err
	}
	s.historySeq = e.ID
	return nil
}

// RecentHistory scans the whole file and keeps the last limit lines.
func (s *fileStore) RecentHistory(_ context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return nil, errors.New("history file closed")
	}
	f, err := os.Open(s.historyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]HistoryEntry, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, len(ring))
	for i, e := range ring {
		out[len(ring)-1-i] = e
	}
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	s.dedup[key] = ms

	// Append journal record.
	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadDedup(_ context.Context) (map[string]time.Time, error) {
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.dedup))
	for k, ms := range s.dedup {
		if ms > now {
			out[k] = time.UnixMilli(ms)
		}
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	if s.dedup == nil {
		return nil
	}
	pruneExpiredDedup(s.dedup)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var n int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
