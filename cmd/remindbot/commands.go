package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/calendar"
	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

const defaultConfigPath = "./config.json"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "remindbot",
		Short: "A Telegram task and reminder assistant",
		Long: `remindbot keeps a personal task list in Telegram and reminds you before
tasks are due, nagging every five minutes for urgent and high priority
tasks until they are done.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (json, yaml or toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the config file and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.NewConfigManager(cfgPath).Load()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✅ %s is valid\n", cfgPath)
				fmt.Fprintf(out, "owners: %d, storage: %s, timezone: %s\n",
					len(cfg.Telegram.OwnerUserIDs), cfg.Storage.Driver, orLocal(cfg.Reminders.Timezone))
				fmt.Fprintf(out, "sweep: %s, greeting: %s, llm: %t, calendar: %t\n",
					cfg.Reminders.SweepInterval, cfg.Reminders.Greeting, cfg.OpenAI.APIKey != "", cfg.Calendar.Enabled)
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Mark pending tasks past their due time as overdue, once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return sweepOnce(cmd, cfgPath)
			},
		},
		newCalendarCmd(&cfgPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "remindbot %s (%s)\n", version, commit)
			},
		},
	)
	return root
}

func newCalendarCmd(cfgPath *string) *cobra.Command {
	cal := &cobra.Command{
		Use:   "calendar",
		Short: "Google Calendar export helpers",
	}
	cal.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Authorize calendar access and store the OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Calendar.CredentialsFile) == "" {
				return errors.New("calendar.credentials_file is not set")
			}
			oc, err := calendar.OAuthConfig(cfg.Calendar.CredentialsFile)
			if err != nil {
				return err
			}
			return calendar.Login(cmd.Context(), oc, cfg.Calendar.TokenFile, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	return cal
}

// run starts the app and blocks until a signal or a fatal error.
func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgm := config.NewConfigManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(cfgm)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return stopErr
}

func sweepOnce(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, time.Second),
	}, log.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	sw := reminder.NewSweeper("", clock.Real(), st, nil, nil, log.Named("sweeper"))
	n, err := sw.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d task(s) marked overdue\n", n)
	return nil
}

func orLocal(tz string) string {
	if tz == "" {
		return "Local"
	}
	return tz
}
