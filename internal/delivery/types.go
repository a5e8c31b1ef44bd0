package delivery

import (
	"context"
	"time"

	"notifrelay/internal/relay"
)

// Sink is one downstream destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec relay.Record) error
}

// Config controls the pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Bus event types.
const (
	EventQueued  = "delivery.queued"
	EventDeduped = "delivery.deduped"
	EventDropped = "delivery.dropped"
	EventSent    = "delivery.sent"
	EventFailed  = "delivery.failed"
)

// Event is the payload of delivery bus events.
type Event struct {
	Sink      string    `json:"sink,omitempty"`
	SourceApp string    `json:"package_name"`
	Key       string    `json:"key,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
