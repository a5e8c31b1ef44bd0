package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

var ErrNoBattery = errors.New("no battery found")

type Battery struct {
	Percent  float64
	Charging bool
}

type BatteryReader interface {
	ReadBattery(ctx context.Context) (Battery, error)
}

// FirstBattery tries readers in order and returns the first success.
type FirstBattery []BatteryReader

func (f FirstBattery) ReadBattery(ctx context.Context) (Battery, error) {
	var errs []error
	for _, r := range f {
		b, err := r.ReadBattery(ctx)
		if err == nil {
			return b, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Battery{}, ErrNoBattery
	}
	return Battery{}, errors.Join(errs...)
}

// UPower device states that count as plugged in.
const (
	upowerCharging      = 1
	upowerFullyCharged  = 4
	upowerPendingCharge = 5
)

// UPower reads the composite display device over the system bus.
type UPower struct{}

func (UPower) ReadBattery(ctx context.Context) (Battery, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return Battery{}, fmt.Errorf("upower: system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.UPower", "/org/freedesktop/UPower/devices/DisplayDevice")
	var present bool
	if err := getProp(ctx, obj, "IsPresent", &present); err != nil {
		return Battery{}, err
	}
	if !present {
		return Battery{}, ErrNoBattery
	}
	var (
		pct   float64
		state uint32
	)
	if err := getProp(ctx, obj, "Percentage", &pct); err != nil {
		return Battery{}, err
	}
	if err := getProp(ctx, obj, "State", &state); err != nil {
		return Battery{}, err
	}
	return Battery{Percent: pct, Charging: state == upowerCharging || state == upowerFullyCharged || state == upowerPendingCharge}, nil
}

func getProp(ctx context.Context, obj dbus.BusObject, name string, out any) error {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, "org.freedesktop.UPower.Device", name).Store(&v)
	if err != nil {
		return fmt.Errorf("upower: %s: %w", name, err)
	}
	if err := v.Store(out); err != nil {
		return fmt.Errorf("upower: %s: %w", name, err)
	}
	return nil
}

// Sysfs reads /sys/class/power_supply.
type Sysfs struct {
	Root string // default /sys/class/power_supply
}

func (s Sysfs) ReadBattery(_ context.Context) (Battery, error) {
	root := s.Root
	if root == "" {
		root = "/sys/class/power_supply"
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return Battery{}, fmt.Errorf("sysfs: %w", err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if readTrim(filepath.Join(dir, "type")) != "Battery" {
			continue
		}
		pct, err := strconv.ParseFloat(readTrim(filepath.Join(dir, "capacity")), 64)
		if err != nil {
			continue
		}
		st := strings.ToLower(readTrim(filepath.Join(dir, "status")))
		return Battery{Percent: pct, Charging: st == "charging" || st == "full"}, nil
	}
	return Battery{}, ErrNoBattery
}

func readTrim(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
