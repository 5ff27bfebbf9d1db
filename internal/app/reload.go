package app

import (
	"context"
	"strings"

	"remindbot/internal/config"
	logx "remindbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts into the newest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

// applyConfig applies the hot-reloadable sections of next and reports the
// ones that need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.adapter.SetLogChat(logChat(next))
	a.logs.Apply(mapLoggingConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.notif.Apply(mapNotifierConfig(next))
	if err := a.sweeper.SetSchedule(sweepSchedule(next)); err != nil {
		a.log.Warn("sweep schedule not applied", logx.Err(err))
	}
	if prev == nil || prev.Reminders.Greeting != next.Reminders.Greeting {
		a.armGreeting(next)
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}
