// Package history records relay outcomes off the event path.
package history

import (
	"context"
	"time"

	"notifrelay/internal/eventbus"
	"notifrelay/internal/relay"
	"notifrelay/internal/storage"
	logx "notifrelay/pkg/logx"
)

// Recorder copies relay.forwarded and relay.dropped bus events into a store.
type Recorder struct {
	bus   eventbus.Bus
	store storage.Store
	log   logx.Logger
	// Buffer is the bus subscription size.
	Buffer int
}

func NewRecorder(bus eventbus.Bus, store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log, Buffer: 256}
}

// Run consumes bus events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	if r.bus == nil || r.store == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	events, unsub := r.bus.Subscribe(r.Buffer)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			entry, ok := Entry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.AppendHistory(wctx, entry)
			cancel()
			if err != nil {
				r.log.Warn("history append failed", logx.String("app", entry.SourceApp), logx.Err(err))
			}
		}
	}
}

// Recent returns up to limit entries, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	if r.store == nil {
		return nil, storage.ErrDisabled
	}
	return r.store.RecentHistory(ctx, limit)
}

// Entry converts a relay bus event to a history entry.
func Entry(e eventbus.Event) (storage.HistoryEntry, bool) {
	var outcome string
	switch e.Type {
	case relay.EventForwarded:
		outcome = storage.OutcomeForwarded
	case relay.EventDropped:
		outcome = storage.OutcomeDropped
	default:
		return storage.HistoryEntry{}, false
	}
	d, ok := e.Data.(relay.Delivery)
	if !ok {
		return storage.HistoryEntry{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return storage.HistoryEntry{
		At:        at,
		Outcome:   outcome,
		Reason:    d.Reason,
		SourceApp: d.Record.SourceApp,
		Title:     d.Record.Title,
		Body:      d.Record.Body,
		PostedAt:  d.Record.PostedAt,
		Ongoing:   d.Record.IsOngoing,
	}, true
}
