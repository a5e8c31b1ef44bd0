package telemetry

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"notifrelay/internal/status"
	logx "notifrelay/pkg/logx"
)

// Local reads this machine's vitals. Each field falls back to zero when its
// probe fails, so a machine without sensors or a battery still renders.
type Local struct {
	Battery BatteryReader
	log     logx.Logger
}

func NewLocal(battery BatteryReader, log logx.Logger) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Local{Battery: battery, log: log}
}

func (l *Local) Read(ctx context.Context) (status.Snapshot, error) {
	var s status.Snapshot

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		l.log.Debug("cpu probe failed", logx.Err(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.RAMPercent = vm.UsedPercent
	} else {
		l.log.Debug("memory probe failed", logx.Err(err))
	}

	// gopsutil may return partial readings together with a warning error.
	temps, _ := host.SensorsTemperaturesWithContext(ctx)
	s.TemperatureC = PickTemperature(temps)

	if l.Battery != nil {
		if b, err := l.Battery.ReadBattery(ctx); err == nil {
			s.BatteryPercent, s.Charging = b.Percent, b.Charging
		} else {
			l.log.Debug("battery probe failed", logx.Err(err))
		}
	}
	return s, nil
}

// PickTemperature prefers coretemp, then cpu_thermal, then the first sensor.
func PickTemperature(temps []host.TemperatureStat) float64 {
	if len(temps) == 0 {
		return 0
	}
	for _, key := range []string{"coretemp", "cpu_thermal"} {
		for _, t := range temps {
			if hasSensorPrefix(t.SensorKey, key) {
				return t.Temperature
			}
		}
	}
	return temps[0].Temperature
}

// gopsutil reports hwmon sensors as e.g. "coretemp_package_id_0".
func hasSensorPrefix(sensor, key string) bool {
	return sensor == key || strings.HasPrefix(sensor, key+"_")
}
