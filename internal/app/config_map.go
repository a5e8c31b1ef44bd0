package app

import (
	"fmt"
	"strings"
	"time"

	"notifrelay/internal/access"
	"notifrelay/internal/config"
	"notifrelay/internal/delivery"
	"notifrelay/internal/sink"
	"notifrelay/internal/storage"
	"notifrelay/internal/transport/httpapi"
	logx "notifrelay/pkg/logx"
)

const (
	defaultAppID    = "com.example.laptop_dashboard_mobile"
	defaultListener = ".PhoneNotificationListenerService"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
		},
	}
}

// mapIdentity returns the own app id and the listener component checked
// against the permission store.
func mapIdentity(cfg *config.Config) (string, access.Component, error) {
	appID := strings.TrimSpace(cfg.Identity.AppID)
	if appID == "" {
		appID = defaultAppID
	}
	raw := strings.TrimSpace(cfg.Identity.Listener)
	if raw == "" {
		raw = appID + "/" + defaultListener
	}
	comp, ok := access.ParseComponent(raw)
	if !ok {
		return "", access.Component{}, fmt.Errorf("identity.listener: invalid component %q", raw)
	}
	return appID, comp, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapDeliveryConfig maps the delivery section to runtime settings. An
// omitted section means enabled with defaults.
func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	out := delivery.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       256,
		RatePerSec:      10,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     10 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg == nil || cfg.Delivery == nil {
		return out, nil
	}
	d := cfg.Delivery
	out.Enabled = d.Enabled
	out.PersistDedup = d.PersistDedup
	if d.Workers != 0 {
		out.Workers = d.Workers
	}
	if d.QueueSize != 0 {
		out.QueueSize = d.QueueSize
	}
	if d.RatePerSec != 0 {
		out.RatePerSec = d.RatePerSec
	}
	if d.RetryMax != 0 {
		out.RetryMax = d.RetryMax
	}
	if d.DedupMaxEntries != 0 {
		out.DedupMaxEntries = d.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("delivery.retry_base", d.RetryBase, out.RetryBase); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return delivery.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("delivery.send_timeout", d.SendTimeout, out.SendTimeout); err != nil {
		return delivery.Config{}, err
	}
	// "0s" disables dedup, so an explicit value is kept even when zero.
	if strings.TrimSpace(d.DedupWindow) != "" {
		if out.DedupWindow, err = config.ParseDurationField("delivery.dedup_window", d.DedupWindow); err != nil {
			return delivery.Config{}, err
		}
	}
	if out.RetryMaxDelay < out.RetryBase {
		out.RetryMaxDelay = out.RetryBase
	}
	return out, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	out := httpapi.Config{
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		StreamBuffer:  h.StreamBuffer,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.KeepAlive, err = config.ParseDurationField("http.keep_alive", h.KeepAlive); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

func mapWebhookConfig(w *config.WebhookSink) (sink.WebhookConfig, error) {
	timeout, err := config.ParseDurationOrDefault("sinks.webhook.timeout", w.Timeout, 5*time.Second)
	if err != nil {
		return sink.WebhookConfig{}, err
	}
	return sink.WebhookConfig{BaseURL: w.BaseURL, Path: w.Path, Token: w.Token, Timeout: timeout}, nil
}

func attachDelivery(cfg *config.Config) bool {
	if cfg.Relay.AttachDelivery == nil {
		return true
	}
	return *cfg.Relay.AttachDelivery
}
