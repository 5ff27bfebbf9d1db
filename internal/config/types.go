// Package config loads the bot configuration from JSON, YAML or TOML,
// applies environment overrides and watches the file for changes.
package config

// Config is the whole configuration. All durations are Go duration strings
// such as "500ms", "10s" or "1h".
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Engine    EngineConfig    `json:"engine"`
	Notifier  NotifierConfig  `json:"notifier"`
	Reminders RemindersConfig `json:"reminders"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Calendar  CalendarConfig  `json:"calendar"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// LogChatID receives warn+ log lines when logging.telegram is enabled.
	LogChatID   int64 `json:"log_chat_id,omitempty"`
	LogThreadID int   `json:"log_thread_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the task store.
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type NotifierConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type RemindersConfig struct {
	// Timezone is the single IANA zone used for due times and the
	// greeting. Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
	// SweepInterval schedules the overdue sweep: a duration ("1h"), an
	// HH:MM interval or a cron expression ("cron:*/15 * * * *").
	SweepInterval string `json:"sweep_interval,omitempty"`
	FireTimeout   string `json:"fire_timeout,omitempty"`
	// Greeting is the daily greeting time as HH:MM; "off" disables it.
	Greeting string `json:"greeting,omitempty"`
	// ChatID receives reminders. Zero means the first owner.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type CalendarConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	TokenFile       string `json:"token_file,omitempty"`
	CalendarID      string `json:"calendar_id,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING and watchdog pings when running under
	// systemd. It is a no-op elsewhere.
	Notify bool `json:"notify"`
}

const (
	DefaultSweepInterval = "1h"
	DefaultFireTimeout   = "30s"
	DefaultGreeting      = "08:00"
	GreetingOff          = "off"
)

// ApplyDefaults fills empty fields that have a non-zero default.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" && c.Storage.Driver != "memory" {
		c.Storage.Path = "remindbot.db"
	}
	if c.Reminders.SweepInterval == "" {
		c.Reminders.SweepInterval = DefaultSweepInterval
	}
	if c.Reminders.FireTimeout == "" {
		c.Reminders.FireTimeout = DefaultFireTimeout
	}
	if c.Reminders.Greeting == "" {
		c.Reminders.Greeting = DefaultGreeting
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = "primary"
	}
}

// ReminderChat is where reminders and the greeting go.
func (c *Config) ReminderChat() (int64, int) {
	if c.Reminders.ChatID != 0 {
		return c.Reminders.ChatID, c.Reminders.ThreadID
	}
	if len(c.Telegram.OwnerUserIDs) > 0 {
		return c.Telegram.OwnerUserIDs[0], 0
	}
	return 0, 0
}

// GreetingEnabled reports whether the daily greeting is scheduled.
func (c *Config) GreetingEnabled() bool {
	return c.Reminders.Greeting != GreetingOff
}
