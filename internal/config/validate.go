package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/timer"
)

// Validate checks everything that would otherwise fail at startup.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set " + EnvToken + ")"))
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids is empty (or set " + EnvAuthorized + ")"))
	}
	if c.Logging.Telegram.Enabled && c.Telegram.LogChatID == 0 {
		add(errors.New("logging.telegram.enabled needs telegram.log_chat_id"))
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"engine.default_timeout", c.Engine.DefaultTimeout},
		{"engine.max_queue_delay", c.Engine.MaxQueueDelay},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.send_timeout", c.Notifier.SendTimeout},
		{"notifier.dedup_window", c.Notifier.DedupWindow},
		{"reminders.fire_timeout", c.Reminders.FireTimeout},
		{"openai.timeout", c.OpenAI.Timeout},
	}
	for _, d := range durations {
		_, err := ParseDurationField(d.path, d.raw)
		add(err)
	}

	if sw := c.Reminders.SweepInterval; sw != "" {
		if err := timer.CheckSchedule(sw); err != nil {
			add(fmt.Errorf("reminders.sweep_interval: %w", err))
		}
	}

	switch c.Storage.Driver {
	case "", "sqlite", "sqlite3", "memory":
	case "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required for the file driver"))
		}
	default:
		add(fmt.Errorf("storage.driver %q is not one of sqlite, file, memory", c.Storage.Driver))
	}

	if tz := strings.TrimSpace(c.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("reminders.timezone: %w", err))
		}
	}
	if g := c.Reminders.Greeting; g != "" && g != GreetingOff {
		if _, _, err := ParseHHMM(g); err != nil {
			add(fmt.Errorf("reminders.greeting: %w", err))
		}
	}
	if c.Calendar.Enabled && strings.TrimSpace(c.Calendar.CredentialsFile) == "" {
		add(errors.New("calendar.credentials_file is required when calendar is enabled"))
	}
	return errors.Join(errs...)
}

// ParseHHMM reads a 24h clock time such as "08:00".
func ParseHHMM(s string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return hh, mm, nil
}
