package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks field syntax and required fields. It does not touch the
// network or the filesystem.
func (c *Config) Validate() error {
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Identity.Listener != "" && !strings.Contains(c.Identity.Listener, "/") {
		errs = append(errs, fmt.Errorf("identity.listener: want \"pkg/cls\", got %q", c.Identity.Listener))
	}

	dur("http.read_timeout", c.HTTP.ReadTimeout)
	dur("http.idle_timeout", c.HTTP.IdleTimeout)
	dur("http.keep_alive", c.HTTP.KeepAlive)
	if c.HTTP.StreamBuffer < 0 {
		errs = append(errs, errors.New("http.stream_buffer must be >= 0"))
	}

	if d := c.Delivery; d != nil {
		dur("delivery.retry_base", d.RetryBase)
		dur("delivery.retry_max_delay", d.RetryMaxDelay)
		dur("delivery.send_timeout", d.SendTimeout)
		dur("delivery.dedup_window", d.DedupWindow)
		for name, v := range map[string]int{
			"workers":           d.Workers,
			"queue_size":        d.QueueSize,
			"rate_per_sec":      d.RatePerSec,
			"retry_max":         d.RetryMax,
			"dedup_max_entries": d.DedupMaxEntries,
		} {
			if v < 0 {
				errs = append(errs, fmt.Errorf("delivery.%s must be >= 0", name))
			}
		}
	}

	if s := c.Sinks.Webhook; s != nil {
		if strings.TrimSpace(s.BaseURL) == "" {
			errs = append(errs, errors.New("sinks.webhook.base_url is required"))
		}
		dur("sinks.webhook.timeout", s.Timeout)
	}
	if s := c.Sinks.MQTT; s != nil {
		if s.Broker == "" || s.Topic == "" {
			errs = append(errs, errors.New("sinks.mqtt: broker and topic are required"))
		}
		if s.QoS > 2 {
			errs = append(errs, errors.New("sinks.mqtt.qos must be 0, 1 or 2"))
		}
	}
	if s := c.Sinks.Redis; s != nil && (s.Addr == "" || s.Stream == "") {
		errs = append(errs, errors.New("sinks.redis: addr and stream are required"))
	}
	if s := c.Sinks.Telegram; s != nil && s.ChatID == 0 {
		errs = append(errs, errors.New("sinks.telegram.chat_id is required"))
	}
	if d := c.Display.Telegram; d != nil && d.ChatID == 0 {
		errs = append(errs, errors.New("display.telegram.chat_id is required"))
	}
	if (c.Sinks.Telegram != nil || c.Display.Telegram != nil) && !c.Telegram.Enabled {
		errs = append(errs, errors.New("telegram sink/display need telegram.enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Telemetry.Source)) {
	case "", "local":
	case "remote":
		if strings.TrimSpace(c.Telemetry.RemoteURL) == "" {
			errs = append(errs, errors.New("telemetry.remote_url is required when telemetry.source=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry.source: %s", c.Telemetry.Source))
	}
	dur("telemetry.timeout", c.Telemetry.Timeout)

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
			}
			dur("storage.busy_timeout", s.BusyTimeout)
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
	}

	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required when telegram.enabled"))
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)

	return errors.Join(errs...)
}
