package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/require"

	"notifrelay/internal/status"
	logx "notifrelay/pkg/logx"
)

func TestRemoteReadsDaemonStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cpu_usage":42.7,"ram_usage":60.1,"cpu_temp":55.0,"battery_percent":88.4,"is_plugged":true,"timestamp":1.5}`))
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL, time.Second)
	require.NoError(t, err)
	snap, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, status.Snapshot{CPUPercent: 42.7, RAMPercent: 60.1, TemperatureC: 55.0, BatteryPercent: 88.4, Charging: true}, snap)
	require.Equal(t, "Laptop: 88% (Charging)", status.Render(snap).Title)
}

func TestRemoteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	require.Error(t, err)

	_, err = NewRemote("", 0)
	require.Error(t, err)
}

func TestPickTemperature(t *testing.T) {
	require.Equal(t, 0.0, PickTemperature(nil))
	require.Equal(t, 70.0, PickTemperature([]host.TemperatureStat{
		{SensorKey: "acpitz", Temperature: 40},
		{SensorKey: "cpu_thermal", Temperature: 60},
		{SensorKey: "coretemp_package_id_0", Temperature: 70},
	}))
	require.Equal(t, 60.0, PickTemperature([]host.TemperatureStat{
		{SensorKey: "acpitz", Temperature: 40},
		{SensorKey: "cpu_thermal", Temperature: 60},
	}))
	require.Equal(t, 40.0, PickTemperature([]host.TemperatureStat{
		{SensorKey: "acpitz", Temperature: 40},
		{SensorKey: "coretemperature", Temperature: 99},
	}))
}

func writeSupply(t *testing.T, root, name, typ, capacity, st string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "type"), []byte(typ+"\n"), 0o644))
	if capacity != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity+"\n"), 0o644))
	}
	if st != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(st+"\n"), 0o644))
	}
}

func TestSysfsBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", "Mains", "", "")
	writeSupply(t, root, "BAT0", "Battery", "77", "Charging")

	b, err := Sysfs{Root: root}.ReadBattery(context.Background())
	require.NoError(t, err)
	require.Equal(t, Battery{Percent: 77, Charging: true}, b)

	empty := t.TempDir()
	_, err = Sysfs{Root: empty}.ReadBattery(context.Background())
	require.ErrorIs(t, err, ErrNoBattery)
}

type staticBattery struct {
	b   Battery
	err error
}

func (s staticBattery) ReadBattery(context.Context) (Battery, error) { return s.b, s.err }

func TestFirstBattery(t *testing.T) {
	b, err := FirstBattery{staticBattery{err: errors.New("no bus")}, staticBattery{b: Battery{Percent: 5}}}.ReadBattery(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5.0, b.Percent)

	_, err = FirstBattery{}.ReadBattery(context.Background())
	require.ErrorIs(t, err, ErrNoBattery)
}

type recTarget struct {
	mu    sync.Mutex
	snaps []status.Snapshot
}

func (r *recTarget) Set(s status.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recTarget) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestPollerRunsOnSchedule(t *testing.T) {
	var n int
	var mu sync.Mutex
	src := SourceFunc(func(context.Context) (status.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 2 {
			return status.Snapshot{}, errors.New("daemon down")
		}
		return status.Snapshot{CPUPercent: float64(n)}, nil
	})
	target := &recTarget{}
	p, err := NewPoller(src, target, "@every 1s", logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// first poll is immediate, second fails, third lands after ~2s
	require.Eventually(t, func() bool { return target.len() >= 2 }, 4*time.Second, 20*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 1.0, target.snaps[0].CPUPercent)
	require.Equal(t, 3.0, target.snaps[1].CPUPercent)
}

func TestPollerRejectsBadSchedule(t *testing.T) {
	_, err := NewPoller(SourceFunc(nil), &recTarget{}, "every now and then", logx.Nop())
	require.Error(t, err)

	p, err := NewPoller(SourceFunc(nil), &recTarget{}, "", logx.Nop())
	require.NoError(t, err)
	require.Equal(t, DefaultSchedule, p.spec)
}
