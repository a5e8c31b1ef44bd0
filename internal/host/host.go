// Package host is the listener-side port: it receives host notification
// callbacks and drives the relay and the status publisher.
package host

import (
	"context"
	"sync"
	"time"

	"notifrelay/internal/display"
	"notifrelay/internal/eventbus"
	"notifrelay/internal/relay"
	"notifrelay/internal/status"
	logx "notifrelay/pkg/logx"
)

// Extras keys carried by posted notifications.
const (
	ExtraTitle   = "android.title"
	ExtraText    = "android.text"
	ExtraBigText = "android.bigText"
)

const (
	EventConnected    = "host.connected"
	EventDisconnected = "host.disconnected"
)

// Notification is a posted notification as the host listener reports it.
type Notification struct {
	PackageName string            `json:"package_name"`
	Extras      map[string]string `json:"extras"`
	PostTime    int64             `json:"post_time"`
	Ongoing     bool              `json:"ongoing"`
}

// Listener is the callback surface a host listener drives.
type Listener interface {
	OnNotificationPosted(n Notification)
	OnListenerConnected()
	OnListenerDisconnected()
}

// EventSink receives translated events; *relay.Relay implements it.
type EventSink interface {
	OnEvent(ev relay.RawEvent)
}

// StatusSurface is the publisher side of the status notification.
type StatusSurface interface {
	OnActivate(d display.Display)
	OnDeactivate()
}

type Service struct {
	relay   EventSink
	status  StatusSurface
	display display.Display
	log     logx.Logger
	bus     eventbus.Bus

	mu        sync.Mutex
	connected bool
}

var (
	_ Listener       = (*Service)(nil)
	_ relay.Rebinder = (*Service)(nil)
	_ StatusSurface  = (*status.Publisher)(nil)
)

func New(r EventSink, st StatusSurface, d display.Display, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{relay: r, status: st, display: d, log: log, bus: bus}
}

// Translate maps a host notification to a relay event.
func Translate(n Notification) relay.RawEvent {
	return relay.RawEvent{
		SourceApp:    n.PackageName,
		Title:        n.Extras[ExtraTitle],
		ShortText:    n.Extras[ExtraText],
		ExpandedText: n.Extras[ExtraBigText],
		PostedAt:     n.PostTime,
		Ongoing:      n.Ongoing,
	}
}

// OnNotificationPosted forwards n to the relay. Notifications posted while
// the listener is not connected are ignored.
func (s *Service) OnNotificationPosted(n Notification) {
	if !s.Connected() {
		s.log.Debug("listener not connected, notification ignored", logx.String("app", n.PackageName))
		return
	}
	s.relay.OnEvent(Translate(n))
}

func (s *Service) OnListenerConnected() {
	s.mu.Lock()
	was := s.connected
	s.connected = true
	s.mu.Unlock()

	if !was {
		s.log.Info("listener connected")
	}
	s.status.OnActivate(s.display)
	s.publish(EventConnected)
}

func (s *Service) OnListenerDisconnected() {
	s.mu.Lock()
	was := s.connected
	s.connected = false
	s.mu.Unlock()
	if !was {
		return
	}

	s.status.OnDeactivate()
	if c, ok := s.display.(display.Closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Close(ctx, status.NotificationID); err != nil {
			s.log.Warn("status close failed", logx.Err(err))
		}
		cancel()
	}
	s.log.Info("listener disconnected")
	s.publish(EventDisconnected)
}

// RequestRebind re-establishes the listener connection. A connected listener
// is left alone.
func (s *Service) RequestRebind() {
	if s.Connected() {
		s.log.Debug("rebind requested, listener already connected")
		return
	}
	s.log.Info("rebinding listener")
	s.OnListenerConnected()
}

func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Service) publish(typ string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ})
}
