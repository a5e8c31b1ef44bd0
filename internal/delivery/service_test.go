package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifrelay/internal/eventbus"
	"notifrelay/internal/relay"
	"notifrelay/internal/storage"
	logx "notifrelay/pkg/logx"
)

type memSink struct {
	name string

	mu       sync.Mutex
	got      []relay.Record
	failures int // fail this many sends first
	block    chan struct{}
}

func (m *memSink) Name() string { return m.name }

func (m *memSink) Send(ctx context.Context, rec relay.Record) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("sink down")
	}
	m.got = append(m.got, rec)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestPublishReachesEverySink(t *testing.T) {
	a, b := &memSink{name: "a"}, &memSink{name: "b"}
	s := New(testConfig(), []Sink{a, b}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer stop(t, s)

	rec := relay.Record{SourceApp: "com.chat.app", Title: "Alice", Body: "hi", PostedAt: 1000}
	require.NoError(t, s.Publish(rec))

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, rec, a.got[0])
}

func TestRetryThenSent(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	sk := &memSink{name: "flaky", failures: 2}
	s := New(testConfig(), []Sink{sk}, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer stop(t, s)

	require.NoError(t, s.Publish(relay.Record{SourceApp: "x"}))
	require.Eventually(t, func() bool { return sk.count() == 1 }, time.Second, 5*time.Millisecond)

	var sent *Event
	timeout := time.After(time.Second)
	for sent == nil {
		select {
		case e := <-events:
			if e.Type == EventSent {
				d := e.Data.(Event)
				sent = &d
			}
		case <-timeout:
			t.Fatal("no sent event")
		}
	}
	require.Equal(t, 3, sent.Attempts)
}

func TestRetriesExhaustedEmitsFailed(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	sk := &memSink{name: "dead", failures: 100}
	s := New(testConfig(), []Sink{sk}, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer stop(t, s)

	require.NoError(t, s.Publish(relay.Record{SourceApp: "x"}))
	timeout := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == EventFailed {
				require.Equal(t, "sink down", e.Data.(Event).Error)
				return
			}
		case <-timeout:
			t.Fatal("no failed event")
		}
	}
}

func TestDedupWindow(t *testing.T) {
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	sk := &memSink{name: "a"}
	s := New(cfg, []Sink{sk}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer stop(t, s)

	rec := relay.Record{SourceApp: "com.chat.app", Title: "Alice", Body: "hi"}
	require.NoError(t, s.Publish(rec))
	require.NoError(t, s.Publish(rec))
	require.NoError(t, s.Publish(relay.Record{SourceApp: "com.chat.app", Title: "Alice", Body: "bye"}))

	require.Eventually(t, func() bool { return sk.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, sk.count())
}

func TestPersistentDedupSurvivesRestart(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	cfg.PersistDedup = true
	rec := relay.Record{SourceApp: "com.chat.app", Title: "same"}

	first := New(cfg, []Sink{&memSink{name: "a"}}, logx.Nop(), nil, st)
	first.Start(context.Background())
	require.NoError(t, first.Publish(rec))
	require.Eventually(t, func() bool {
		keys, _ := st.LoadDedup(context.Background())
		_, ok := keys[DedupKey(rec)]
		return ok
	}, time.Second, 5*time.Millisecond)
	stop(t, first)

	sk := &memSink{name: "a"}
	second := New(cfg, []Sink{sk}, logx.Nop(), nil, st)
	second.Start(context.Background())
	defer stop(t, second)
	require.NoError(t, second.Publish(rec))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, sk.count())
}

// stallStore answers LoadDedup and PutDedup at once; history calls block
// until their context ends.
type stallStore struct {
	loaded map[string]time.Time
	loads  int
}

func (s *stallStore) AppendHistory(ctx context.Context, _ storage.HistoryEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallStore) RecentHistory(ctx context.Context, _ int) ([]storage.HistoryEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stallStore) PutDedup(context.Context, string, time.Time) error { return nil }

func (s *stallStore) LoadDedup(context.Context) (map[string]time.Time, error) {
	s.loads++
	return s.loaded, nil
}

func (s *stallStore) Close() error { return nil }

func TestPublishNeverWaitsOnStore(t *testing.T) {
	seen := relay.Record{SourceApp: "com.chat.app", Title: "seen before"}
	st := &stallStore{loaded: map[string]time.Time{DedupKey(seen): time.Now().Add(time.Hour)}}

	cfg := testConfig()
	cfg.QueueSize = 64
	cfg.DedupWindow = time.Hour
	cfg.PersistDedup = true
	sk := &memSink{name: "a"}
	s := New(cfg, []Sink{sk}, logx.Nop(), nil, st)
	s.Start(context.Background())
	defer stop(t, s)
	require.Equal(t, 1, st.loads)

	r := relay.New(relay.Config{OwnApp: "self"}, nil, logx.Nop(), nil)
	r.Subscribe(s)

	start := time.Now()
	for i := 0; i < 20; i++ {
		r.OnEvent(relay.RawEvent{SourceApp: "com.chat.app", Title: "n", ShortText: string(rune('a' + i))})
	}
	r.OnEvent(relay.RawEvent{SourceApp: seen.SourceApp, Title: seen.Title})
	require.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool { return sk.count() == 20 }, time.Second, 5*time.Millisecond)
}

func TestQueueFullDrops(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	sk := &memSink{name: "slow", block: make(chan struct{})}
	s := New(cfg, []Sink{sk}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer func() {
		close(sk.block)
		stop(t, s)
	}()

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(s.Publish(relay.Record{SourceApp: "x", Body: string(rune('a' + i))}), ErrQueueFull)
	}
	require.True(t, full, "queue never reported full")
}

func TestPublishStates(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	require.ErrorIs(t, New(cfg, []Sink{&memSink{}}, logx.Nop(), nil, nil).Publish(relay.Record{}), ErrDisabled)

	s := New(testConfig(), []Sink{&memSink{}}, logx.Nop(), nil, nil)
	require.ErrorIs(t, s.Publish(relay.Record{}), ErrStopped)

	s = New(testConfig(), nil, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer stop(t, s)
	require.ErrorIs(t, s.Publish(relay.Record{}), ErrNoSinks)
}

func TestStopDrainsAndRestarts(t *testing.T) {
	sk := &memSink{name: "a"}
	s := New(testConfig(), []Sink{sk}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Publish(relay.Record{SourceApp: "x", Body: string(rune('a' + i))}))
	}
	stop(t, s)
	require.Equal(t, 5, sk.count())
	require.ErrorIs(t, s.Publish(relay.Record{}), ErrStopped)

	s.Start(context.Background())
	defer stop(t, s)
	require.NoError(t, s.Publish(relay.Record{SourceApp: "y"}))
	require.Eventually(t, func() bool { return sk.count() == 6 }, time.Second, 5*time.Millisecond)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
}
