package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Identity  IdentityConfig  `json:"identity"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Relay     RelayConfig     `json:"relay"`
	Delivery  *DeliveryConfig `json:"delivery,omitempty"`
	Sinks     SinksConfig     `json:"sinks"`
	Display   DisplayConfig   `json:"display"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Access    AccessConfig    `json:"access"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Telegram  TelegramConfig  `json:"telegram"`
	Systemd   SystemdConfig   `json:"systemd"`
}

// IdentityConfig names the relay's own application. Notifications from
// AppID are never relayed; Listener is the component looked up in the
// permission store ("pkg/cls", a class starting with "." is relative).
type IdentityConfig struct {
	AppID    string `json:"app_id"`
	Listener string `json:"listener"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// HTTPConfig controls the local ingress.
//
// Security note: a non-loopback addr needs a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8765"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
	KeepAlive     string `json:"keep_alive,omitempty"`
	StreamBuffer  int    `json:"stream_buffer,omitempty"`
}

type RelayConfig struct {
	// AttachDelivery attaches the delivery pipeline as the subscriber at
	// startup and restores it when an event stream ends. Default true.
	AttachDelivery *bool `json:"attach_delivery,omitempty"`
}

// DeliveryConfig controls the async sink pipeline. If the whole section is
// omitted the pipeline runs with defaults.
type DeliveryConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// SinksConfig enables downstream destinations. A nil entry is disabled.
type SinksConfig struct {
	Webhook  *WebhookSink  `json:"webhook,omitempty"`
	MQTT     *MQTTSink     `json:"mqtt,omitempty"`
	Redis    *RedisSink    `json:"redis,omitempty"`
	Telegram *TelegramSink `json:"telegram,omitempty"`
	Desktop  *DesktopSink  `json:"desktop,omitempty"`
}

type WebhookSink struct {
	BaseURL string `json:"base_url"`
	Path    string `json:"path,omitempty"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type MQTTSink struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos,omitempty"`
	Retained bool   `json:"retained,omitempty"`
}

type RedisSink struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Stream   string `json:"stream"`
	MaxLen   int64  `json:"max_len,omitempty"`
}

type TelegramSink struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type DesktopSink struct {
	AppName string `json:"app_name,omitempty"`
}

// DisplayConfig selects where the status notification is shown. The log
// display is always on.
type DisplayConfig struct {
	Systemd  bool             `json:"systemd,omitempty"`
	Desktop  bool             `json:"desktop,omitempty"`
	Telegram *TelegramDisplay `json:"telegram,omitempty"`
}

type TelegramDisplay struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// TelemetryConfig selects the polled source: "remote" (laptop daemon
// /stats), "local" (this machine) or "" (push only).
type TelemetryConfig struct {
	Source    string `json:"source,omitempty"`
	Schedule  string `json:"schedule,omitempty"` // cron spec, default "@every 5s"
	RemoteURL string `json:"remote_url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	// SysfsRoot overrides /sys/class/power_supply for the local source.
	SysfsRoot string `json:"sysfs_root,omitempty"`
}

// AccessConfig points at the permission store and the command that opens
// the settings surface. Without StorePath the store is in memory, seeded
// from EnabledListeners; that list is applied live on reload.
type AccessConfig struct {
	StorePath        string   `json:"store_path,omitempty"`
	EnabledListeners []string `json:"enabled_listeners,omitempty"`
	SettingsCommand  []string `json:"settings_command,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING to the service manager.
	Notify bool `json:"notify"`
}
