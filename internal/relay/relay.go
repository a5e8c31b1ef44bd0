// Package relay turns host notification events into records for the single
// attached downstream subscriber.
//
// Delivery is at-most-once and fire-and-forget: with no subscriber attached
// an event is dropped, never queued. Events whose source is the relay's own
// application are never materialized, which keeps the relay's own status
// notification from looping back.
package relay

import (
	"sync"

	"github.com/google/uuid"

	"notifrelay/internal/eventbus"
	logx "notifrelay/pkg/logx"
)

// Bus event types published by the relay. Publishing never blocks.
const (
	EventForwarded  = "relay.forwarded"
	EventDropped    = "relay.dropped"
	EventSuppressed = "relay.suppressed"
	EventAttached   = "relay.attached"
	EventDetached   = "relay.detached"
)

// Subscriber receives records synchronously on the event path and must not
// block on I/O.
type Subscriber interface {
	Publish(rec Record) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(rec Record) error

func (f SubscriberFunc) Publish(rec Record) error { return f(rec) }

// AccessChecker reports whether the host granted notification access.
type AccessChecker interface {
	Enabled() bool
}

// Rebinder asks the host to re-establish the listener connection.
type Rebinder interface {
	RequestRebind()
}

// Handle identifies one attachment. The zero Handle is never active.
type Handle struct {
	id uuid.UUID
}

func (h Handle) String() string { return h.id.String() }
func (h Handle) IsZero() bool   { return h.id == uuid.Nil }

// Suppressed is the payload of EventSuppressed. A self event never becomes
// a Record, so only its source is reported.
type Suppressed struct {
	SourceApp string `json:"package_name"`
}

// Delivery is the payload of the other relay bus events.
type Delivery struct {
	Record Record `json:"record"`
	Handle string `json:"handle,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Config identifies the relay's own application.
type Config struct {
	OwnApp string
}

type Relay struct {
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	access AccessChecker

	mu       sync.Mutex
	rebinder Rebinder
	active   Handle
	sub      Subscriber
}

func New(cfg Config, access AccessChecker, log logx.Logger, bus eventbus.Bus) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{cfg: cfg, access: access, log: log, bus: bus}
}

// SetRebinder installs the host's reconnection hook. The host is built after
// the relay, so this cannot be a constructor argument.
func (r *Relay) SetRebinder(rb Rebinder) {
	r.mu.Lock()
	r.rebinder = rb
	r.mu.Unlock()
}

// OnEvent handles one host notification.
func (r *Relay) OnEvent(ev RawEvent) {
	if ev.SourceApp == r.cfg.OwnApp {
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: EventSuppressed, Data: Suppressed{SourceApp: ev.SourceApp}})
		}
		return
	}
	if ev.SourceApp == "" {
		r.log.Debug("event without source app ignored")
		return
	}

	rec := NewRecord(ev)

	r.mu.Lock()
	sub, h := r.sub, r.active
	r.mu.Unlock()

	if sub == nil {
		r.log.Debug("no subscriber, dropping notification", logx.String("app", rec.SourceApp), logx.String("title", rec.Title))
		r.publish(EventDropped, Delivery{Record: rec, Reason: "no subscriber"})
		return
	}
	if err := sub.Publish(rec); err != nil {
		r.log.Warn("subscriber rejected notification", logx.String("app", rec.SourceApp), logx.Err(err))
		r.publish(EventDropped, Delivery{Record: rec, Handle: h.String(), Reason: err.Error()})
		return
	}
	r.log.Debug("forwarded notification", logx.String("app", rec.SourceApp), logx.String("title", rec.Title))
	r.publish(EventForwarded, Delivery{Record: rec, Handle: h.String()})
}

// Subscribe makes sub the only active subscriber, replacing any previous one.
// When notification access is granted the host is nudged to rebind its
// listener, since some hosts silently drop long-lived bindings.
func (r *Relay) Subscribe(sub Subscriber) Handle {
	h := Handle{id: uuid.New()}

	r.mu.Lock()
	prev := r.active
	r.active, r.sub = h, sub
	rb := r.rebinder
	r.mu.Unlock()

	r.log.Info("subscriber attached", logx.String("handle", h.String()), logx.Bool("replaced", !prev.IsZero()))
	r.publish(EventAttached, Delivery{Handle: h.String()})
	r.rebind(rb)
	return h
}

// Replace swaps sub in for h in one step, but only while h is still the
// active attachment. A closer whose slot was already taken by a newer
// subscriber gets false and changes nothing.
func (r *Relay) Replace(h Handle, sub Subscriber) (Handle, bool) {
	next := Handle{id: uuid.New()}

	r.mu.Lock()
	if h.IsZero() || h != r.active {
		r.mu.Unlock()
		return Handle{}, false
	}
	r.active, r.sub = next, sub
	rb := r.rebinder
	r.mu.Unlock()

	r.log.Info("subscriber replaced", logx.String("old", h.String()), logx.String("handle", next.String()))
	r.publish(EventDetached, Delivery{Handle: h.String()})
	r.publish(EventAttached, Delivery{Handle: next.String()})
	r.rebind(rb)
	return next, true
}

func (r *Relay) rebind(rb Rebinder) {
	if rb != nil && r.HasNotificationAccess() {
		rb.RequestRebind()
	}
}

// Unsubscribe detaches h if it is still the active subscriber and reports
// whether it did. A stale handle never clears a newer attachment.
func (r *Relay) Unsubscribe(h Handle) bool {
	r.mu.Lock()
	if h.IsZero() || h != r.active {
		r.mu.Unlock()
		return false
	}
	r.active, r.sub = Handle{}, nil
	r.mu.Unlock()

	r.log.Info("subscriber detached", logx.String("handle", h.String()))
	r.publish(EventDetached, Delivery{Handle: h.String()})
	return true
}

// UnsubscribeAny clears whatever subscriber is attached. Used on teardown.
func (r *Relay) UnsubscribeAny() {
	r.mu.Lock()
	h := r.active
	r.active, r.sub = Handle{}, nil
	r.mu.Unlock()
	if !h.IsZero() {
		r.publish(EventDetached, Delivery{Handle: h.String()})
	}
}

// Attached reports whether a subscriber is currently attached.
func (r *Relay) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub != nil
}

// HasNotificationAccess is a pure read of the host permission store.
func (r *Relay) HasNotificationAccess() bool {
	if r.access == nil {
		return false
	}
	return r.access.Enabled()
}

func (r *Relay) publish(typ string, d Delivery) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: d})
}
