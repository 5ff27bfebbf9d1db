// Package app wires the reminder bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/agenda"
	"remindbot/internal/audit"
	"remindbot/internal/bot"
	"remindbot/internal/calendar"
	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/sdnotify"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/store"
	"remindbot/internal/timer"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const greetingTimer = "daily.greeting"

// Adapter is the chat transport the app runs on.
type Adapter interface {
	transport.Adapter
	transport.CommandMenuUpdater
	logx.ChatSender
	SetLogChat(to transport.ChatTarget)
}

type App struct {
	cfgm *config.ConfigManager
	clk  clock.Clock
	loc  *time.Location

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	sd   *sdnotify.Notifier

	bus     *eventbus.MemBus
	store   store.Store
	adapter Adapter

	engine  *engine.Service
	timers  *timer.Service
	notif   *notifier.Service
	sched   *reminder.Scheduler
	sweeper *reminder.Sweeper
	agenda  *agenda.Service
	router  *router.Router
	bot     *bot.Bot
	audit   *audit.Recorder

	updates chan transport.Update
}

type Option func(*options)

type options struct {
	adapter Adapter
	clock   clock.Clock
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a Adapter) Option { return func(o *options) { o.adapter = a } }

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// New builds every component from the committed config of cfgm. Nothing
// runs until Start.
func New(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole(cfg.Logging.Level).Named("telegram")
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
			LogChat:     logChat(cfg),
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	a := &App{
		cfgm:    cfgm,
		clk:     o.clock,
		loc:     location(cfg),
		log:     log.Named("app"),
		logs:    logSvc,
		sd:      sdnotify.New(cfg.Systemd.Notify, log.Named("systemd")),
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan transport.Update, 256),
	}

	st, err := store.Open(mapStorageConfig(cfg), log.Named("store"))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.log.Info("store opened", logx.String("driver", cfg.Storage.Driver))

	a.engine = engine.New(mapEngineConfig(cfg), log.Named("engine"), a.bus)
	a.timers = timer.New(timer.Config{Timezone: cfg.Reminders.Timezone}, a.clk, a.engine, log.Named("timer"))
	a.notif = notifier.New(mapNotifierConfig(cfg), ad, log.Named("notifier"), a.bus)

	a.sched = reminder.NewScheduler(mapReminderConfig(cfg), reminder.Deps{
		Clock:      a.clk,
		Timers:     a.timers,
		Tasks:      st,
		Records:    st,
		Flags:      st,
		Dispatcher: bot.NewDispatcher(a.notif),
		Bus:        a.bus,
		Log:        log.Named("reminder"),
	})
	a.sweeper = reminder.NewSweeper(sweepSchedule(cfg), a.clk, st, a.timers, a.bus, log.Named("sweeper"))

	var exporter agenda.Exporter
	if cfg.Calendar.Enabled {
		g, err := calendar.NewGoogle(context.Background(), mapCalendarConfig(cfg), a.loc, log.Named("calendar"))
		if err != nil {
			a.log.Warn("calendar export disabled", logx.Err(err))
		} else {
			exporter = g
		}
	}
	a.agenda = agenda.New(agenda.Deps{
		Store:     st,
		Scheduler: a.sched,
		Exporter:  exporter,
		Bus:       a.bus,
		Clock:     a.clk,
		Log:       log.Named("agenda"),
		Location:  a.loc,
	})

	extractor, suggester := buildExtraction(cfg, a.loc, log.Named("extract"))
	a.router = router.New(log.Named("router"), ad, cfg.Telegram.OwnerUserIDs)
	a.bot = bot.New(bot.Deps{
		Agenda:    a.agenda,
		Extractor: extractor,
		Suggester: suggester,
		Notifier:  a.notif,
		Log:       log,
		Home:      homeChat(cfg),
	})
	a.bot.Register(a.router)
	a.audit = audit.New(st, log)
	return a, nil
}

// Done is closed when the app context ends, by Stop or a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores reminder jobs from the store and starts every loop. A
// failed restore is fatal.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	events, unsubscribe := a.bus.Subscribe(256)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsubscribe()
		a.audit.Run(c, events)
	})

	a.engine.Start(runCtx)
	a.notif.Start(runCtx)
	a.timers.Start()

	n, err := a.agenda.Restore(ctx)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("restore reminders: %w", err)
	}
	a.log.Info("reminders restored", logx.Int("tasks", n), logx.Int("jobs", a.sched.Len()))

	if err := a.sweeper.Start(); err != nil {
		a.sup.Cancel()
		return err
	}
	a.armGreeting(cfg)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start adapter: %w", err)
	}
	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("menu.publish", func(c context.Context) {
		if err := a.router.PublishMenu(c); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	})

	a.cfgm.SetLogger(a.log.Named("config"))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d reminder jobs scheduled", a.sched.Len()))
	a.log.Info("app started", logx.String("tz", a.loc.String()))
	return nil
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("timers", time.Second, func(context.Context) error {
		a.sweeper.Stop()
		a.sched.Close()
		a.timers.Stop()
		return nil
	})
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("store", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// armGreeting installs or replaces the daily greeting, or removes it when
// the greeting is off.
func (a *App) armGreeting(cfg *config.Config) {
	if !cfg.GreetingEnabled() {
		if a.timers.Remove(greetingTimer) {
			a.log.Info("daily greeting disabled")
		}
		return
	}
	if _, err := a.timers.Daily(greetingTimer, cfg.Reminders.Greeting, 30*time.Second, a.bot.Greet); err != nil {
		a.log.Error("daily greeting not scheduled", logx.Err(err))
	}
}
