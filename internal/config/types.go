package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "48h").
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Sweep    SweepConfig     `json:"sweep"`
	HTTP     HTTPConfig      `json:"http"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Systemd  SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver. Omitted means "memory".
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/homekeep.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SweepConfig controls the daily reactivation sweep.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - schedule: "5 0 * * *" (five past midnight in timezone)
//   - timezone: local
//   - concurrency: 8
//   - timeout: "2m"
//   - history_size: 32
type SweepConfig struct {
	// Enabled is a pointer so an omitted key keeps the default (true).
	Enabled *bool `json:"enabled,omitempty"`
	// Schedule accepts a cron spec, "@every <dur>", "every:<dur>" or "daily:HH:MM".
	Schedule    string `json:"schedule,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	RunOnStart  bool   `json:"run_on_start,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

func (s SweepConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// HTTPConfig controls the JSON API.
//
// Prefer binding to localhost; the API has no authentication.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Pprof   bool   `json:"pprof,omitempty"`
}

// NotifierConfig controls reactivation notices. A missing section disables
// the notifier.
type NotifierConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`

	DefaultChatID int64            `json:"default_chat_id,omitempty"`
	ThreadID      int              `json:"thread_id,omitempty"`
	HomeChats     map[string]int64 `json:"home_chats,omitempty"`

	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	BreakerFailures uint32 `json:"breaker_failures,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is only used to construct the bot client.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// SystemdConfig controls sd_notify readiness and watchdog pings. Both are
// no-ops when NOTIFY_SOCKET is unset.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
