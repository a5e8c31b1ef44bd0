package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notifrelay/pkg/logx"
)

// Sections applied without a restart. A change to anything else is logged as
// needing one.
var liveSections = map[string]bool{"logging": true, "delivery": true, "access.listeners": true}

// SummarizeChange returns the changed top-level sections, sorted, and safe
// attrs for logging. Secrets (tokens, passwords) are only reported as set
// or unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if oldCfg.Identity != newCfg.Identity {
		mark("identity", logx.String("identity.app_id", newCfg.Identity.AppID))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		mark("http",
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		mark("relay")
	}
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		d := newCfg.Delivery
		if d == nil {
			d = &DeliveryConfig{}
		}
		mark("delivery",
			logx.Bool("delivery.present", newCfg.Delivery != nil),
			logx.Int("delivery.workers", d.Workers),
			logx.Int("delivery.queue_size", d.QueueSize),
			logx.Int("delivery.rate_per_sec", d.RatePerSec),
			logx.Int("delivery.retry_max", d.RetryMax),
			logx.Bool("delivery.persist_dedup", d.PersistDedup),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sinks, newCfg.Sinks) {
		mark("sinks", logx.Any("sinks.enabled", EnabledSinks(newCfg)))
	}
	if !reflect.DeepEqual(oldCfg.Display, newCfg.Display) {
		mark("display",
			logx.Bool("display.systemd", newCfg.Display.Systemd),
			logx.Bool("display.desktop", newCfg.Display.Desktop),
			logx.Bool("display.telegram", newCfg.Display.Telegram != nil),
		)
	}
	if oldCfg.Telemetry != newCfg.Telemetry {
		mark("telemetry",
			logx.String("telemetry.source", newCfg.Telemetry.Source),
			logx.String("telemetry.schedule", newCfg.Telemetry.Schedule),
		)
	}
	if oldCfg.Access.StorePath != newCfg.Access.StorePath ||
		!reflect.DeepEqual(oldCfg.Access.SettingsCommand, newCfg.Access.SettingsCommand) {
		mark("access", logx.String("access.store_path", newCfg.Access.StorePath))
	}
	if !reflect.DeepEqual(oldCfg.Access.EnabledListeners, newCfg.Access.EnabledListeners) {
		mark("access.listeners", logx.Int("access.enabled_listeners", len(newCfg.Access.EnabledListeners)))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		var driver string
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", logx.String("storage.driver", driver))
	}
	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		mark("telegram",
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		mark("systemd", logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart filters changed down to sections that are not live-applied.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// EnabledSinks lists the configured sinks by name.
func EnabledSinks(c *Config) []string {
	var out []string
	if c.Sinks.Webhook != nil {
		out = append(out, "webhook")
	}
	if c.Sinks.MQTT != nil {
		out = append(out, "mqtt")
	}
	if c.Sinks.Redis != nil {
		out = append(out, "redis")
	}
	if c.Sinks.Telegram != nil {
		out = append(out, "telegram")
	}
	if c.Sinks.Desktop != nil {
		out = append(out, "desktop")
	}
	return out
}
