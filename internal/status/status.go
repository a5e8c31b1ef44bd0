// Package status keeps the latest telemetry snapshot and renders it into the
// persistent status notification.
package status

import (
	"context"
	"fmt"
	"math"
	"sync"

	"notifrelay/internal/display"
	"notifrelay/internal/eventbus"
	logx "notifrelay/pkg/logx"
)

const (
	// NotificationID is the display id of the status notification. Showing
	// the same id again replaces the previous rendering.
	NotificationID = 1001
	// Channel groups the status notification on hosts that have channels.
	Channel = "notification_sync_service"

	EventRendered = "status.rendered"
)

// Snapshot is one telemetry reading. The zero value is the initial state.
type Snapshot struct {
	CPUPercent     float64 `json:"cpu_usage"`
	RAMPercent     float64 `json:"ram_usage"`
	TemperatureC   float64 `json:"cpu_temp"`
	BatteryPercent float64 `json:"battery_percent"`
	Charging       bool    `json:"is_plugged"`
}

// Rendered is the text of the status notification.
type Rendered struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Expanded string `json:"expanded"`
}

// Render formats s. It has no side effects.
func Render(s Snapshot) Rendered {
	state := "Discharging"
	if s.Charging {
		state = "Charging"
	}
	cpu, ram, temp, bat := whole(s.CPUPercent), whole(s.RAMPercent), whole(s.TemperatureC), whole(s.BatteryPercent)
	return Rendered{
		Title:    fmt.Sprintf("Laptop: %d%% (%s)", bat, state),
		Detail:   fmt.Sprintf("CPU: %d%% | RAM: %d%% | %d°C", cpu, ram, temp),
		Expanded: fmt.Sprintf("CPU: %d%% | RAM: %d%%\nTemp: %d°C | Battery: %d%% (%s)", cpu, ram, temp, bat, state),
	}
}

// whole truncates toward zero; NaN and infinities render as 0.
func whole(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(v)
}

// Publisher owns the snapshot and shows it while the host is active.
type Publisher struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	snap   Snapshot
	active display.Display

	// serializes Show calls so an older rendering never lands after a newer one
	showMu sync.Mutex
}

func NewPublisher(log logx.Logger, bus eventbus.Bus) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{log: log, bus: bus}
}

// Update replaces the snapshot and, when active, re-shows the status.
func (p *Publisher) Update(cpu, ram, tempC, battery float64, charging bool) {
	p.Set(Snapshot{CPUPercent: cpu, RAMPercent: ram, TemperatureC: tempC, BatteryPercent: battery, Charging: charging})
}

// Set is Update taking a whole snapshot.
func (p *Publisher) Set(s Snapshot) {
	p.mu.Lock()
	p.snap = s
	p.mu.Unlock()
	p.show()
}

// Snapshot returns the current reading.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Render renders the current snapshot.
func (p *Publisher) Render() Rendered { return Render(p.Snapshot()) }

// OnActivate attaches the display surface and shows the current status.
func (p *Publisher) OnActivate(d display.Display) {
	if d == nil {
		return
	}
	p.mu.Lock()
	p.active = d
	p.mu.Unlock()
	p.show()
}

// OnDeactivate drops the display surface. Nothing is rendered, and a show
// already in progress completes before it returns.
func (p *Publisher) OnDeactivate() {
	p.showMu.Lock()
	defer p.showMu.Unlock()
	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()
}

// Active reports whether a display surface is attached.
func (p *Publisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Descriptor builds the display descriptor for r.
func Descriptor(r Rendered) display.Descriptor {
	return display.Descriptor{
		Channel:  Channel,
		Title:    r.Title,
		Body:     r.Detail,
		Expanded: r.Expanded,
		Priority: display.PriorityLow,
		Ongoing:  true,
	}
}

func (p *Publisher) show() {
	p.showMu.Lock()
	defer p.showMu.Unlock()

	// read under showMu so the last Set is the last one shown
	p.mu.Lock()
	snap, cur := p.snap, p.active
	p.mu.Unlock()
	if cur == nil {
		return
	}

	r := Render(snap)
	if err := cur.Show(context.Background(), NotificationID, Descriptor(r)); err != nil {
		p.log.Warn("status show failed", logx.Err(err))
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: EventRendered, Data: r})
	}
}
