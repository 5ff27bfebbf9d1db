package app

import (
	"strings"
	"time"

	"remindbot/internal/calendar"
	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/extract"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/store"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Component configs are derived from a validated config.Config, so parse
// errors here fall back to defaults.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func logChat(cfg *config.Config) transport.ChatTarget {
	return transport.ChatTarget{ChatID: cfg.Telegram.LogChatID, ThreadID: cfg.Telegram.LogThreadID}
}

func homeChat(cfg *config.Config) transport.ChatTarget {
	chat, thread := cfg.ReminderChat()
	return transport.ChatTarget{ChatID: chat, ThreadID: thread}
}

func mapStorageConfig(cfg *config.Config) store.Config {
	return store.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, time.Second),
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	e := cfg.Engine
	return engine.Config{
		Enabled:        true,
		Workers:        e.Workers,
		QueueSize:      e.QueueSize,
		DefaultTimeout: config.MustDuration(e.DefaultTimeout, 30*time.Second),
		MaxQueueDelay:  config.MustDuration(e.MaxQueueDelay, 0),
		HistorySize:    e.HistorySize,
		RetryMax:       e.RetryMax,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:         true,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.MustDuration(n.RetryBase, 0),
		RetryMaxDelay:   config.MustDuration(n.RetryMaxDelay, 0),
		SendTimeout:     config.MustDuration(n.SendTimeout, 0),
		DedupWindow:     config.MustDuration(n.DedupWindow, 0),
		DedupMaxEntries: n.DedupMaxEntries,
	}
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	chat, thread := cfg.ReminderChat()
	return reminder.Config{
		Recipient:   reminder.Recipient{ChatID: chat, ThreadID: thread},
		FireTimeout: config.MustDuration(cfg.Reminders.FireTimeout, 30*time.Second),
	}
}

func sweepSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Reminders.SweepInterval); s != "" {
		return s
	}
	return reminder.DefaultSweepSchedule
}

func mapCalendarConfig(cfg *config.Config) calendar.Config {
	c := cfg.Calendar
	return calendar.Config{
		Enabled:         c.Enabled,
		CredentialsFile: c.CredentialsFile,
		TokenFile:       c.TokenFile,
		CalendarID:      c.CalendarID,
	}
}

func mapLLMConfig(cfg *config.Config, loc *time.Location) extract.LLMConfig {
	return extract.LLMConfig{
		APIKey:   cfg.OpenAI.APIKey,
		BaseURL:  cfg.OpenAI.BaseURL,
		Model:    cfg.OpenAI.Model,
		Timeout:  config.MustDuration(cfg.OpenAI.Timeout, 30*time.Second),
		Location: loc,
	}
}

// location resolves the single configured zone. Validate has already
// rejected unknown names.
func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Reminders.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// buildExtraction returns the task extractor chain and the schedule
// suggester. The language model is used first when an API key is set.
func buildExtraction(cfg *config.Config, loc *time.Location, log logx.Logger) (extract.Extractor, extract.Suggester) {
	rules := extract.Rules{Location: loc}
	planner := extract.Planner{Location: loc}
	llm, err := extract.NewLLM(mapLLMConfig(cfg, loc))
	if err != nil {
		log.Info("language model disabled; using keyword rules", logx.Err(err))
		return extract.NewChain(log, rules), planner
	}
	return extract.NewChain(log, llm, rules), extract.Fallback{Primary: llm, Secondary: planner, Log: log}
}
