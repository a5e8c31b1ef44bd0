package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"notifrelay/internal/control"
	"notifrelay/internal/host"
	"notifrelay/internal/relay"
	"notifrelay/internal/status"
	"notifrelay/internal/storage"
	logx "notifrelay/pkg/logx"
)

// TelemetrySink accepts pushed snapshots; *status.Publisher implements it.
type TelemetrySink interface {
	Set(s status.Snapshot)
}

type ControlHandler interface {
	Handle(ctx context.Context, req control.Request) control.Response
}

// Attacher is the relay's subscriber slot.
type Attacher interface {
	Subscribe(sub relay.Subscriber) relay.Handle
	Unsubscribe(h relay.Handle) bool
	Replace(h relay.Handle, sub relay.Subscriber) (relay.Handle, bool)
}

// Deps are the collaborators behind the routes. A nil entry makes its
// routes answer 503.
type Deps struct {
	Host      host.Listener
	Telemetry TelemetrySink
	Control   ControlHandler
	Relay     Attacher
	// Baseline is re-attached when an event stream ends and still owned the
	// relay slot. It also keeps receiving records while a stream is open.
	Baseline relay.Subscriber
	History  control.HistoryReader
	// Health adds fields to /healthz.
	Health func() map[string]any
}

const defaultHistoryLimit = control.MaxHistoryLimit

type reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, reply{Status: "error", Message: msg})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, reply{Status: "success"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Service) handleNotification(w http.ResponseWriter, r *http.Request) {
	if s.deps.Host == nil {
		writeError(w, http.StatusServiceUnavailable, "host listener not configured")
		return
	}
	var n host.Notification
	if !decode(w, r, &n) {
		return
	}
	s.deps.Host.OnNotificationPosted(n)
	writeOK(w)
}

func (s *Service) handleConnected(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Host == nil {
		writeError(w, http.StatusServiceUnavailable, "host listener not configured")
		return
	}
	s.deps.Host.OnListenerConnected()
	writeOK(w)
}

func (s *Service) handleDisconnected(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Host == nil {
		writeError(w, http.StatusServiceUnavailable, "host listener not configured")
		return
	}
	s.deps.Host.OnListenerDisconnected()
	writeOK(w)
}

func (s *Service) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, "status publisher not configured")
		return
	}
	var snap status.Snapshot
	if !decode(w, r, &snap) {
		return
	}
	s.deps.Telemetry.Set(snap)
	writeOK(w)
}

// handleControl answers 200 with the control envelope; method-level errors
// travel in its error field.
func (s *Service) handleControl(w http.ResponseWriter, r *http.Request) {
	if s.deps.Control == nil {
		writeError(w, http.StatusServiceUnavailable, "control channel not configured")
		return
	}
	var req control.Request
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Control.Handle(r.Context(), req))
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, control.MaxHistoryLimit)
	}
	entries, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.log.Warn("history query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []storage.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"status": "ok"}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			out[k] = v
		}
	}
	if sup := s.Supervisor(); sup != nil {
		out["ingress"] = sup.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}
