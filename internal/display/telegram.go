package display

import (
	"context"
	"strings"
	"sync"

	"notifrelay/internal/transport"
)

// Messenger is the slice of the telegram adapter the display uses.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
}

// Telegram posts the status once per id and edits that message afterwards.
type Telegram struct {
	m  Messenger
	to transport.ChatTarget

	mu   sync.Mutex
	refs map[int]transport.MessageRef
	last map[int]string
}

func NewTelegram(m Messenger, to transport.ChatTarget) *Telegram {
	return &Telegram{m: m, to: to, refs: map[int]transport.MessageRef{}, last: map[int]string{}}
}

func (t *Telegram) Show(ctx context.Context, id int, d Descriptor) error {
	text := formatTelegram(d)

	t.mu.Lock()
	defer t.mu.Unlock()
	// Telegram rejects edits that change nothing.
	if t.last[id] == text {
		return nil
	}
	if ref, ok := t.refs[id]; ok {
		if err := t.m.EditText(ctx, ref, text, nil); err != nil {
			return err
		}
		t.last[id] = text
		return nil
	}
	ref, err := t.m.SendText(ctx, t.to, text, &transport.SendOptions{DisablePreview: true})
	if err != nil {
		return err
	}
	t.refs[id] = ref
	t.last[id] = text
	return nil
}

// Close forgets the message so the next Show posts a fresh one.
func (t *Telegram) Close(_ context.Context, id int) error {
	t.mu.Lock()
	delete(t.refs, id)
	delete(t.last, id)
	t.mu.Unlock()
	return nil
}

func formatTelegram(d Descriptor) string {
	var b strings.Builder
	b.WriteString(d.Title)
	body := d.Expanded
	if body == "" {
		body = d.Body
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
