package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome of a relayed notification.
const (
	OutcomeForwarded = "forwarded"
	OutcomeDropped   = "dropped"
)

// HistoryEntry is one relayed or dropped notification.
type HistoryEntry struct {
	ID        int64     `json:"id,omitempty"`
	At        time.Time `json:"at"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	SourceApp string    `json:"package_name"`
	Title     string    `json:"title"`
	Body      string    `json:"text"`
	PostedAt  int64     `json:"posted_at"`
	Ongoing   bool      `json:"is_ongoing"`
}
