package display

import (
	"context"
	"sync"

	"notifrelay/internal/desktop"
)

// DesktopClient is the part of desktop.Notifier the display needs.
type DesktopClient interface {
	Notify(ctx context.Context, m desktop.Message) (uint32, error)
	CloseNotification(ctx context.Context, id uint32) error
}

// Desktop keeps a resident desktop notification and replaces it in place.
type Desktop struct {
	client DesktopClient

	mu  sync.Mutex
	ids map[int]uint32 // our id -> server id
}

func NewDesktop(client DesktopClient) *Desktop {
	return &Desktop{client: client, ids: map[int]uint32{}}
}

func (d *Desktop) Show(ctx context.Context, id int, desc Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	body := desc.Expanded
	if body == "" {
		body = desc.Body
	}
	urgency := desktop.UrgencyNormal
	if desc.Priority <= PriorityLow {
		urgency = desktop.UrgencyLow
	}
	var timeout int32 = -1
	if desc.Ongoing {
		timeout = 0
	}
	serverID, err := d.client.Notify(ctx, desktop.Message{
		ReplacesID: d.ids[id],
		Summary:    desc.Title,
		Body:       body,
		Urgency:    urgency,
		Resident:   desc.Ongoing,
		Timeout:    timeout,
	})
	if err != nil {
		return err
	}
	d.ids[id] = serverID
	return nil
}

func (d *Desktop) Close(ctx context.Context, id int) error {
	d.mu.Lock()
	serverID, ok := d.ids[id]
	delete(d.ids, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.client.CloseNotification(ctx, serverID)
}
