package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"notifrelay/internal/relay"
	"notifrelay/internal/sink"
	logx "notifrelay/pkg/logx"
)

var ErrStreamBehind = errors.New("event stream client is behind")

// streamClient buffers records for one SSE connection. Publish never blocks.
type streamClient struct {
	ch      chan relay.Record
	dropped atomic.Uint64
}

func newStreamClient(buffer int) *streamClient {
	return &streamClient{ch: make(chan relay.Record, buffer)}
}

func (c *streamClient) Publish(rec relay.Record) error {
	select {
	case c.ch <- rec:
		return nil
	default:
		c.dropped.Add(1)
		return ErrStreamBehind
	}
}

// handleEvents attaches the connection as the relay subscriber for as long as
// it stays open. On close, if this connection still owns the slot, the
// baseline subscriber takes it back in the same step.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Relay == nil {
		writeError(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	c := newStreamClient(cur.StreamBuffer)
	var sub relay.Subscriber = c
	if s.deps.Baseline != nil {
		sub = sink.Fanout{c, s.deps.Baseline}
	}
	h := s.deps.Relay.Subscribe(sub)
	log := s.log.With(logx.String("handle", h.String()))
	defer func() {
		if s.deps.Baseline != nil {
			s.deps.Relay.Replace(h, s.deps.Baseline)
		} else {
			s.deps.Relay.Unsubscribe(h)
		}
		log.Info("event stream closed", logx.Uint64("dropped", c.dropped.Load()))
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, ": attached %s\n\n", h); err != nil {
		return
	}
	fl.Flush()
	log.Info("event stream opened", logx.String("remote", r.RemoteAddr))

	ping := time.NewTicker(cur.KeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-c.ch:
			b, err := json.Marshal(rec)
			if err != nil {
				log.Warn("record encode failed", logx.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: notification\ndata: %s\n\n", b); err != nil {
				return
			}
			fl.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
