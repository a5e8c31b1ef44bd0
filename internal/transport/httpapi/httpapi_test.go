package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifrelay/internal/control"
	"notifrelay/internal/display"
	"notifrelay/internal/eventbus"
	"notifrelay/internal/host"
	"notifrelay/internal/relay"
	"notifrelay/internal/status"
	"notifrelay/internal/storage"
	logx "notifrelay/pkg/logx"
)

type recorder struct {
	mu  sync.Mutex
	got []relay.Record
}

func (r *recorder) Publish(rec relay.Record) error {
	r.mu.Lock()
	r.got = append(r.got, rec)
	r.mu.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type fakeHistory struct{ limit int }

func (h *fakeHistory) Recent(_ context.Context, limit int) ([]storage.HistoryEntry, error) {
	h.limit = limit
	return []storage.HistoryEntry{{ID: 1, SourceApp: "com.chat.app", Outcome: storage.OutcomeForwarded}}, nil
}

type fixture struct {
	relay *relay.Relay
	pub   *status.Publisher
	host  *host.Service
	bus   *eventbus.MemBus
	base  *recorder
	hist  *fakeHistory
	svc   *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{bus: eventbus.New(), base: &recorder{}, hist: &fakeHistory{}}
	f.relay = relay.New(relay.Config{OwnApp: "com.example.self"}, nil, logx.Nop(), f.bus)
	f.pub = status.NewPublisher(logx.Nop(), nil)
	f.host = host.New(f.relay, f.pub, display.Log{Logger: logx.Nop()}, logx.Nop(), nil)
	f.relay.SetRebinder(f.host)
	f.relay.Subscribe(f.base)
	ctl := control.NewDispatcher(control.Deps{Status: f.pub, Relay: f.relay, History: f.hist}, logx.Nop())
	f.svc = New(cfg, Deps{
		Host:      f.host,
		Telemetry: f.pub,
		Control:   ctl,
		Relay:     f.relay,
		Baseline:  f.base,
		History:   f.hist,
		Health:    func() map[string]any { return map[string]any{"attached": f.relay.Attached()} },
	}, logx.Nop())
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rw := httptest.NewRecorder()
	f.svc.Handler().ServeHTTP(rw, req)
	return rw
}

func decodeReply(t *testing.T, rw *httptest.ResponseRecorder) reply {
	t.Helper()
	var r reply
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &r))
	return r
}

func TestNotificationIngress(t *testing.T) {
	f := newFixture(t, Config{})

	post := `{"package_name":"com.chat.app","extras":{"android.title":"Alice","android.text":"hi"},"post_time":1000}`

	// ignored until the listener connects
	rw := f.do(http.MethodPost, "/v1/notifications", post)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, 0, f.base.len())

	rw = f.do(http.MethodPost, "/v1/listener/connected", "")
	require.Equal(t, "success", decodeReply(t, rw).Status)
	require.True(t, f.host.Connected())

	f.do(http.MethodPost, "/v1/notifications", post)
	require.Equal(t, 1, f.base.len())
	require.Equal(t, relay.Record{SourceApp: "com.chat.app", Title: "Alice", Body: "hi", PostedAt: 1000}, f.base.got[0])

	f.do(http.MethodPost, "/v1/listener/disconnected", "")
	require.False(t, f.host.Connected())
	require.False(t, f.pub.Active())
}

func TestBadJSON(t *testing.T) {
	f := newFixture(t, Config{})
	rw := f.do(http.MethodPost, "/v1/notifications", "{")
	require.Equal(t, http.StatusBadRequest, rw.Code)
	require.Equal(t, "error", decodeReply(t, rw).Status)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, Config{})
	rw := f.do(http.MethodGet, "/v1/notifications", "")
	require.Equal(t, http.StatusMethodNotAllowed, rw.Code)
}

func TestTelemetryPush(t *testing.T) {
	f := newFixture(t, Config{})
	rw := f.do(http.MethodPost, "/v1/telemetry", `{"cpu_usage":42.7,"ram_usage":60.1,"cpu_temp":55,"battery_percent":88.4,"is_plugged":true}`)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, status.Snapshot{CPUPercent: 42.7, RAMPercent: 60.1, TemperatureC: 55, BatteryPercent: 88.4, Charging: true}, f.pub.Snapshot())
	require.Equal(t, "Laptop: 88% (Charging)", f.pub.Render().Title)
}

func TestControl(t *testing.T) {
	f := newFixture(t, Config{})

	rw := f.do(http.MethodPost, "/v1/control", `{"method":"isSubscriberAttached"}`)
	require.Equal(t, http.StatusOK, rw.Code)
	require.JSONEq(t, `{"result":true}`, rw.Body.String())

	rw = f.do(http.MethodPost, "/v1/control", `{"method":"isNotificationAccessEnabled"}`)
	require.JSONEq(t, `{"result":false}`, rw.Body.String())

	rw = f.do(http.MethodPost, "/v1/control", `{"method":"reboot"}`)
	var resp struct {
		Error *control.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, control.CodeNotImplemented, resp.Error.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Config{})

	rw := f.do(http.MethodGet, "/v1/history", "")
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, defaultHistoryLimit, f.hist.limit)

	rw = f.do(http.MethodGet, "/v1/history?limit=3", "")
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, 3, f.hist.limit)
	var entries []storage.HistoryEntry
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	rw = f.do(http.MethodGet, "/v1/history?limit=1000000", "")
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, control.MaxHistoryLimit, f.hist.limit)

	rw = f.do(http.MethodPost, "/v1/control", `{"method":"getHistory","args":{"limit":1000000}}`)
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, control.MaxHistoryLimit, f.hist.limit)

	rw = f.do(http.MethodGet, "/v1/history?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(t, Config{Token: "s3cret"})

	rw := f.do(http.MethodPost, "/v1/listener/connected", "")
	require.Equal(t, http.StatusUnauthorized, rw.Code)

	rw = f.do(http.MethodPost, "/v1/listener/connected?token=nope", "")
	require.Equal(t, http.StatusUnauthorized, rw.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/listener/connected", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	f.svc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// liveness stays open
	rw = f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), `"attached":true`)
}

func TestStartRefusesInsecureBind(t *testing.T) {
	svc := New(Config{Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	require.Error(t, svc.Start(context.Background()))
	require.Nil(t, svc.Supervisor())
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:8765"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.True(t, isLoopbackAddr("[::1]:1"))
	require.False(t, isLoopbackAddr(":8765"))
	require.False(t, isLoopbackAddr("192.168.1.2:80"))
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour})
	events, unsub := f.bus.Subscribe(64)
	defer unsub()

	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ": attached "), line)

	f.relay.OnEvent(relay.RawEvent{SourceApp: "com.chat.app", Title: "Alice", ShortText: "hi", PostedAt: 1000})

	var data string
	for data == "" {
		line, err = rd.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	require.JSONEq(t, `{"package_name":"com.chat.app","title":"Alice","text":"hi","posted_at":1000,"is_ongoing":false}`, data)
	// the baseline keeps receiving while the stream is open
	require.Equal(t, 1, f.base.len())

	cancel()

	// stream detach, then the baseline comes back
	var detached, reattached bool
	timeout := time.After(2 * time.Second)
	for !reattached {
		select {
		case e := <-events:
			switch e.Type {
			case relay.EventDetached:
				detached = true
			case relay.EventAttached:
				reattached = detached
			}
		case <-timeout:
			t.Fatal("baseline was not re-attached")
		}
	}
	require.True(t, f.relay.Attached())

	f.relay.OnEvent(relay.RawEvent{SourceApp: "com.chat.app", Title: "Bob"})
	require.Equal(t, 2, f.base.len())
}

// lateAttacher lets another subscriber take the slot just before the stream
// hands it back, the interleaving two overlapping clients produce.
type lateAttacher struct {
	*relay.Relay
	newer    relay.Subscriber
	replaced chan bool
}

func (a *lateAttacher) Replace(h relay.Handle, sub relay.Subscriber) (relay.Handle, bool) {
	a.Relay.Subscribe(a.newer)
	next, ok := a.Relay.Replace(h, sub)
	a.replaced <- ok
	return next, ok
}

func TestClosedStreamKeepsNewerSubscriber(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour})
	newer := &recorder{}
	att := &lateAttacher{Relay: f.relay, newer: newer, replaced: make(chan bool, 1)}
	f.svc.deps.Relay = att

	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, err = bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)

	cancel()
	select {
	case ok := <-att.replaced:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not release the slot")
	}

	f.relay.OnEvent(relay.RawEvent{SourceApp: "com.chat.app", Title: "Carol"})
	require.Equal(t, 1, newer.len())
	require.Equal(t, 0, f.base.len())
}
