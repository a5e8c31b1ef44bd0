package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"notifrelay/internal/desktop"
	"notifrelay/internal/relay"
	"notifrelay/internal/transport"
)

var sample = relay.Record{SourceApp: "com.chat.app", Title: "Alice", Body: "hi", PostedAt: 1000}

func TestWebhookPostsRecord(t *testing.T) {
	var got relay.Record
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{BaseURL: srv.URL + "/", Token: "s3cret"})
	require.NoError(t, err)
	require.NoError(t, w.Send(context.Background(), sample))
	require.Equal(t, sample, got)
	require.Equal(t, "/phone-notification", path)
	require.Equal(t, "Bearer s3cret", auth)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"title or text required"}`))
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	err = w.Send(context.Background(), sample)
	require.Error(t, err)
	require.Contains(t, err.Error(), "title or text required")
}

func TestWebhookSkipsEmptyRecords(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, w.Send(context.Background(), relay.Record{SourceApp: "x"}))
	require.False(t, called)

	_, err = NewWebhook(WebhookConfig{})
	require.Error(t, err)
}

func TestRedisXAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addr: mr.Addr(), Stream: "notifications", MaxLen: 100})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Send(context.Background(), sample))
	require.NoError(t, r.Send(context.Background(), sample))

	entries, err := mr.Stream("notifications")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	require.Equal(t, "com.chat.app", values["package_name"])
	require.Equal(t, "1000", values["posted_at"])
	var rec relay.Record
	require.NoError(t, json.Unmarshal([]byte(values["data"]), &rec))
	require.Equal(t, sample, rec)
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	mqtt.Client // unused methods panic
	topic       string
	payload     []byte
	err         error
}

func (f *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.payload = payload.([]byte)
	return newToken(f.err)
}

func TestMQTTPublishesJSON(t *testing.T) {
	fc := &fakeMQTT{}
	m := newMQTT(fc, MQTTConfig{Topic: "phone/notifications", QoS: 1})
	require.NoError(t, m.Send(context.Background(), sample))
	require.Equal(t, "phone/notifications", fc.topic)
	require.JSONEq(t, `{"package_name":"com.chat.app","title":"Alice","text":"hi","posted_at":1000,"is_ongoing":false}`, string(fc.payload))

	fc.err = errors.New("not connected")
	require.Error(t, m.Send(context.Background(), sample))
}

type fakeSender struct {
	text string
	opt  *transport.SendOptions
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.text, f.opt = text, opt
	return transport.MessageRef{}, nil
}

func TestTelegramEscapesHTML(t *testing.T) {
	fs := &fakeSender{}
	tg := NewTelegram(fs, transport.ChatTarget{ChatID: 1})
	require.NoError(t, tg.Send(context.Background(), relay.Record{SourceApp: "com.a", Title: "<Bob>", Body: "a & b"}))
	require.Equal(t, "<b>com.a</b>\n&lt;Bob&gt;\n<i>a &amp; b</i>", fs.text)
	require.Equal(t, "HTML", fs.opt.ParseMode)
}

type fakeDesktop struct{ msg desktop.Message }

func (f *fakeDesktop) Notify(_ context.Context, m desktop.Message) (uint32, error) {
	f.msg = m
	return 1, nil
}

func TestDesktopFallsBackToSourceApp(t *testing.T) {
	fd := &fakeDesktop{}
	require.NoError(t, NewDesktop(fd).Send(context.Background(), relay.Record{SourceApp: "com.a", Body: "b"}))
	require.Equal(t, "com.a", fd.msg.Summary)
	require.Equal(t, "b", fd.msg.Body)
}

func TestFanoutJoinsErrors(t *testing.T) {
	var n int
	ok := relay.SubscriberFunc(func(relay.Record) error { n++; return nil })
	bad := relay.SubscriberFunc(func(relay.Record) error { return errors.New("full") })

	require.NoError(t, Fanout{ok, nil, ok}.Publish(sample))
	require.Equal(t, 2, n)
	require.EqualError(t, Fanout{bad, ok}.Publish(sample), "full")
	require.Equal(t, 3, n)
}
