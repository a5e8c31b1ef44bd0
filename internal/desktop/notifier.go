// Package desktop talks to the freedesktop notification server over the
// session D-Bus (the service behind notify-send).
package desktop

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
)

// Urgency hint values (freedesktop notifications).
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// Message is one desktop notification. ReplacesID updates an existing popup
// in place; Timeout 0 means "until dismissed", -1 the server default.
type Message struct {
	ReplacesID uint32
	Summary    string
	Body       string
	Urgency    byte
	Resident   bool
	Timeout    int32
}

type Notifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
}

// Dial connects to the session bus.
func Dial(appName string) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("desktop: session bus: %w", err)
	}
	if appName == "" {
		appName = "notifrelay"
	}
	return &Notifier{conn: conn, obj: conn.Object(busName, objectPath), appName: appName}, nil
}

// Notify shows m and returns the server-assigned id.
func (n *Notifier) Notify(ctx context.Context, m Message) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(m.Urgency),
	}
	if m.Resident {
		hints["resident"] = dbus.MakeVariant(true)
	}
	var id uint32
	call := n.obj.CallWithContext(ctx, busName+".Notify", 0,
		n.appName, m.ReplacesID, "", m.Summary, m.Body, []string{}, hints, m.Timeout)
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("desktop: notify: %w", err)
	}
	return id, nil
}

func (n *Notifier) CloseNotification(ctx context.Context, id uint32) error {
	if err := n.obj.CallWithContext(ctx, busName+".CloseNotification", 0, id).Err; err != nil {
		return fmt.Errorf("desktop: close: %w", err)
	}
	return nil
}

func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
