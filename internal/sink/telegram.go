package sink

import (
	"context"
	"fmt"
	"html"
	"strings"

	"notifrelay/internal/relay"
	"notifrelay/internal/transport"
)

// TextSender is the telegram adapter's send side.
type TextSender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Telegram forwards records to a chat.
type Telegram struct {
	sender TextSender
	to     transport.ChatTarget
}

func NewTelegram(sender TextSender, to transport.ChatTarget) *Telegram {
	return &Telegram{sender: sender, to: to}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, rec relay.Record) error {
	_, err := t.sender.SendText(ctx, t.to, FormatHTML(rec), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// FormatHTML renders rec for telegram's HTML parse mode.
func FormatHTML(rec relay.Record) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(rec.SourceApp))
	b.WriteString("</b>")
	if rec.Title != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(rec.Title))
	}
	if rec.Body != "" {
		b.WriteString("\n<i>")
		b.WriteString(html.EscapeString(rec.Body))
		b.WriteString("</i>")
	}
	return b.String()
}
