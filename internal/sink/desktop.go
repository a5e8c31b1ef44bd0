package sink

import (
	"context"

	"notifrelay/internal/desktop"
	"notifrelay/internal/relay"
)

type DesktopClient interface {
	Notify(ctx context.Context, m desktop.Message) (uint32, error)
}

// Desktop shows each record as a desktop popup, like notify-send.
type Desktop struct {
	client DesktopClient
}

func NewDesktop(client DesktopClient) *Desktop { return &Desktop{client: client} }

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Send(ctx context.Context, rec relay.Record) error {
	summary := rec.Title
	if summary == "" {
		summary = rec.SourceApp
	}
	_, err := d.client.Notify(ctx, desktop.Message{
		Summary: summary,
		Body:    rec.Body,
		Urgency: desktop.UrgencyNormal,
		Timeout: -1,
	})
	return err
}
