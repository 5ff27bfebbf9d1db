package config

import (
	"reflect"

	logx "remindbot/pkg/logx"
)

// Sections applied without a restart.
var hotSections = map[string]bool{
	"logging":  true,
	"owners":   true,
	"sweep":    true,
	"greeting": true,
	"notifier": true,
	"log_chat": true,
}

// SummarizeConfigChange lists the changed sections, safe log fields (never
// secrets) and the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
		restart []string
	)
	mark := func(section string, diff bool, f ...logx.Field) {
		if !diff {
			return
		}
		changed = append(changed, section)
		fields = append(fields, f...)
		if !hotSections[section] {
			restart = append(restart, section)
		}
	}

	o, n := oldCfg, newCfg
	mark("logging", o.Logging != n.Logging,
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.telegram", n.Logging.Telegram.Enabled))
	mark("owners", !reflect.DeepEqual(o.Telegram.OwnerUserIDs, n.Telegram.OwnerUserIDs),
		logx.Int("owners", len(n.Telegram.OwnerUserIDs)))
	mark("log_chat", o.Telegram.LogChatID != n.Telegram.LogChatID || o.Telegram.LogThreadID != n.Telegram.LogThreadID)
	mark("telegram", o.Telegram.Token != n.Telegram.Token || o.Telegram.PollTimeout != n.Telegram.PollTimeout,
		logx.Bool("telegram.token_changed", o.Telegram.Token != n.Telegram.Token))
	mark("sweep", o.Reminders.SweepInterval != n.Reminders.SweepInterval,
		logx.String("reminders.sweep_interval", n.Reminders.SweepInterval))
	mark("greeting", o.Reminders.Greeting != n.Reminders.Greeting,
		logx.String("reminders.greeting", n.Reminders.Greeting))
	mark("reminders", o.Reminders.Timezone != n.Reminders.Timezone ||
		o.Reminders.FireTimeout != n.Reminders.FireTimeout ||
		o.Reminders.ChatID != n.Reminders.ChatID ||
		o.Reminders.ThreadID != n.Reminders.ThreadID,
		logx.String("reminders.timezone", n.Reminders.Timezone))
	mark("notifier", o.Notifier != n.Notifier,
		logx.Int("notifier.rate_per_sec", n.Notifier.RatePerSec),
		logx.Int("notifier.retry_max", n.Notifier.RetryMax))
	mark("storage", o.Storage != n.Storage, logx.String("storage.driver", n.Storage.Driver))
	mark("engine", o.Engine != n.Engine, logx.Int("engine.workers", n.Engine.Workers))
	mark("openai", o.OpenAI != n.OpenAI,
		logx.String("openai.model", n.OpenAI.Model),
		logx.Bool("openai.key_set", n.OpenAI.APIKey != ""))
	mark("calendar", o.Calendar != n.Calendar, logx.Bool("calendar.enabled", n.Calendar.Enabled))
	mark("systemd", o.Systemd != n.Systemd)
	return changed, fields, restart
}
