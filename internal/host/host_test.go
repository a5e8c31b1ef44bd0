package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"notifrelay/internal/display"
	"notifrelay/internal/relay"
	"notifrelay/internal/status"
	logx "notifrelay/pkg/logx"
)

const ownApp = "com.example.laptop_dashboard_mobile"

type recDisplay struct {
	shown  []display.Descriptor
	closed []int
}

func (r *recDisplay) Show(_ context.Context, _ int, d display.Descriptor) error {
	r.shown = append(r.shown, d)
	return nil
}

func (r *recDisplay) Close(_ context.Context, id int) error {
	r.closed = append(r.closed, id)
	return nil
}

type granted bool

func (g granted) Enabled() bool { return bool(g) }

type fixture struct {
	relay   *relay.Relay
	pub     *status.Publisher
	display *recDisplay
	host    *Service
	got     []relay.Record
}

func newFixture(access bool) *fixture {
	f := &fixture{display: &recDisplay{}}
	f.relay = relay.New(relay.Config{OwnApp: ownApp}, granted(access), logx.Nop(), nil)
	f.pub = status.NewPublisher(logx.Nop(), nil)
	f.host = New(f.relay, f.pub, f.display, logx.Nop(), nil)
	f.relay.SetRebinder(f.host)
	return f
}

func (f *fixture) attach() relay.Handle {
	return f.relay.Subscribe(relay.SubscriberFunc(func(r relay.Record) error {
		f.got = append(f.got, r)
		return nil
	}))
}

func TestPostedNotificationReachesSubscriber(t *testing.T) {
	f := newFixture(false)
	f.host.OnListenerConnected()
	f.attach()

	f.host.OnNotificationPosted(Notification{
		PackageName: "com.chat.app",
		Extras:      map[string]string{ExtraTitle: "Alice", ExtraText: "hi", ExtraBigText: ""},
		PostTime:    1000,
	})

	require.Equal(t, []relay.Record{{SourceApp: "com.chat.app", Title: "Alice", Body: "hi", PostedAt: 1000}}, f.got)
}

func TestOwnStatusNotificationIsNotRelayed(t *testing.T) {
	f := newFixture(false)
	f.host.OnListenerConnected()
	f.attach()

	f.host.OnNotificationPosted(Notification{PackageName: ownApp, Extras: map[string]string{ExtraTitle: "Laptop: 0% (Discharging)"}, Ongoing: true})
	require.Empty(t, f.got)
}

func TestIgnoredWhileDisconnected(t *testing.T) {
	f := newFixture(false)
	f.attach()
	f.host.OnNotificationPosted(Notification{PackageName: "com.chat.app"})
	require.Empty(t, f.got)
}

func TestConnectShowsStatusAndDisconnectCloses(t *testing.T) {
	f := newFixture(false)
	f.pub.Update(42.7, 60.1, 55.0, 88.4, true)

	f.host.OnListenerConnected()
	require.True(t, f.host.Connected())
	require.Len(t, f.display.shown, 1)
	require.Equal(t, "Laptop: 88% (Charging)", f.display.shown[0].Title)

	f.host.OnListenerDisconnected()
	require.False(t, f.pub.Active())
	require.Equal(t, []int{status.NotificationID}, f.display.closed)

	f.pub.Update(1, 1, 1, 1, false)
	require.Len(t, f.display.shown, 1, "no render after deactivate")

	f.host.OnListenerDisconnected()
	require.Len(t, f.display.closed, 1, "second disconnect is a no-op")
}

func TestSubscribeWithAccessRebindsInactiveListener(t *testing.T) {
	f := newFixture(true)
	require.False(t, f.host.Connected())

	f.attach()
	require.True(t, f.host.Connected())
	require.Len(t, f.display.shown, 1)

	f.attach()
	require.Len(t, f.display.shown, 1, "connected listener is not rebound")
}

func TestSubscribeWithoutAccessLeavesListenerAlone(t *testing.T) {
	f := newFixture(false)
	f.attach()
	require.False(t, f.host.Connected())
}
