package relay

import (
	"errors"
	"testing"
	"time"

	"notifrelay/internal/eventbus"
	logx "notifrelay/pkg/logx"
)

const ownApp = "com.example.laptop_dashboard_mobile"

type recorder struct{ got []Record }

func (r *recorder) Publish(rec Record) error {
	r.got = append(r.got, rec)
	return nil
}

type staticAccess bool

func (a staticAccess) Enabled() bool { return bool(a) }

type countingRebinder struct{ n int }

func (c *countingRebinder) RequestRebind() { c.n++ }

func newTestRelay(access bool) *Relay {
	return New(Config{OwnApp: ownApp}, staticAccess(access), logx.Nop(), nil)
}

func TestSelfEventsAreSuppressed(t *testing.T) {
	r := newTestRelay(true)
	sub := &recorder{}
	r.Subscribe(sub)

	r.OnEvent(RawEvent{SourceApp: ownApp, Title: "Laptop: 88% (Charging)", ShortText: "CPU: 1%"})
	if len(sub.got) != 0 {
		t.Fatalf("self event published: %+v", sub.got)
	}
}

func TestBodySelection(t *testing.T) {
	cases := []struct {
		name     string
		short    string
		expanded string
		want     string
	}{
		{"expanded wins", "short", "  long form  ", "long form"},
		{"short fallback", "  hi ", "", "hi"},
		{"whitespace expanded falls back", "hi", "   ", "hi"},
		{"both empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := NewRecord(RawEvent{SourceApp: "a", ShortText: tc.short, ExpandedText: tc.expanded})
			if rec.Body != tc.want {
				t.Fatalf("body = %q, want %q", rec.Body, tc.want)
			}
		})
	}
}

func TestForwardExample(t *testing.T) {
	r := newTestRelay(false)
	sub := &recorder{}
	r.Subscribe(sub)

	r.OnEvent(RawEvent{SourceApp: "com.chat.app", Title: "Alice", ShortText: "hi", PostedAt: 1000})

	want := Record{SourceApp: "com.chat.app", Title: "Alice", Body: "hi", PostedAt: 1000, IsOngoing: false}
	if len(sub.got) != 1 || sub.got[0] != want {
		t.Fatalf("got %+v, want %+v", sub.got, want)
	}
}

func TestNoSubscriberDropsSilently(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	r := New(Config{OwnApp: ownApp}, nil, logx.Nop(), bus)

	for i := 0; i < 5; i++ {
		r.OnEvent(RawEvent{SourceApp: "com.chat.app", Title: "x"})
	}
	for i := 0; i < 5; i++ {
		select {
		case e := <-events:
			if e.Type != EventDropped {
				t.Fatalf("event %d type = %q", i, e.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("missing dropped event")
		}
	}
}

func TestLastAttachWins(t *testing.T) {
	r := newTestRelay(false)
	first, second := &recorder{}, &recorder{}
	r.Subscribe(first)
	r.Subscribe(second)

	r.OnEvent(RawEvent{SourceApp: "com.chat.app", Title: "x"})
	if len(first.got) != 0 || len(second.got) != 1 {
		t.Fatalf("first=%d second=%d", len(first.got), len(second.got))
	}
}

func TestStaleUnsubscribeKeepsNewerSubscriber(t *testing.T) {
	r := newTestRelay(false)
	old := r.Subscribe(&recorder{})
	newer := &recorder{}
	r.Subscribe(newer)

	if r.Unsubscribe(old) {
		t.Fatal("stale handle detached the active subscriber")
	}
	if !r.Attached() {
		t.Fatal("newer subscriber lost")
	}
	r.OnEvent(RawEvent{SourceApp: "com.chat.app"})
	if len(newer.got) != 1 {
		t.Fatal("newer subscriber did not receive event")
	}
}

func TestUnsubscribeWithoutSubscriber(t *testing.T) {
	r := newTestRelay(false)
	if r.Unsubscribe(Handle{}) {
		t.Fatal("zero handle detached something")
	}
	h := r.Subscribe(&recorder{})
	if !r.Unsubscribe(h) {
		t.Fatal("active handle not detached")
	}
	if r.Unsubscribe(h) {
		t.Fatal("double detach reported success")
	}
	r.UnsubscribeAny()
}

func TestSubscribeRebindsOnlyWithAccess(t *testing.T) {
	rb := &countingRebinder{}
	r := newTestRelay(false)
	r.SetRebinder(rb)
	r.Subscribe(&recorder{})
	if rb.n != 0 {
		t.Fatal("rebind requested without access")
	}

	r = newTestRelay(true)
	r.SetRebinder(rb)
	r.Subscribe(&recorder{})
	if rb.n != 1 {
		t.Fatalf("rebinds = %d, want 1", rb.n)
	}
}

func TestSubscriberErrorIsNotPropagated(t *testing.T) {
	r := newTestRelay(false)
	r.Subscribe(SubscriberFunc(func(Record) error { return errors.New("queue full") }))
	r.OnEvent(RawEvent{SourceApp: "com.chat.app"})
}

func TestReplaceOnlySwapsActiveHandle(t *testing.T) {
	r := newTestRelay(false)
	stream := r.Subscribe(&recorder{})
	base := &recorder{}

	next, ok := r.Replace(stream, base)
	if !ok || next.IsZero() || next == stream {
		t.Fatalf("replace = %v, %v", next, ok)
	}
	r.OnEvent(RawEvent{SourceApp: "com.chat.app"})
	if len(base.got) != 1 {
		t.Fatal("replacement did not receive event")
	}

	// a stale handle cannot take the slot back
	newer := &recorder{}
	r.Subscribe(newer)
	if _, ok := r.Replace(next, base); ok {
		t.Fatal("stale handle replaced newer subscriber")
	}
	r.OnEvent(RawEvent{SourceApp: "com.chat.app"})
	if len(newer.got) != 1 || len(base.got) != 1 {
		t.Fatalf("newer=%d base=%d", len(newer.got), len(base.got))
	}
}

func TestSuppressedEventCarriesOnlySource(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	r := New(Config{OwnApp: ownApp}, nil, logx.Nop(), bus)

	r.OnEvent(RawEvent{SourceApp: ownApp, Title: "Laptop: 88% (Charging)", ShortText: "CPU: 1%"})
	select {
	case e := <-events:
		if e.Type != EventSuppressed {
			t.Fatalf("type = %q", e.Type)
		}
		if got, ok := e.Data.(Suppressed); !ok || got.SourceApp != ownApp {
			t.Fatalf("data = %#v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("missing suppressed event")
	}
}
