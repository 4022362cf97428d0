// Package app wires the store, scheduler, channels, jobs and API into the daemon
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gmsas95/hemotrack/internal/api"
	"github.com/gmsas95/hemotrack/internal/channels/discord"
	"github.com/gmsas95/hemotrack/internal/channels/telegram"
	"github.com/gmsas95/hemotrack/internal/cloudsync"
	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/cron"
	"github.com/gmsas95/hemotrack/internal/device"
	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/export"
	"github.com/gmsas95/hemotrack/internal/healthdata"
	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/prophylaxis"
	"github.com/gmsas95/hemotrack/internal/remote"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/gmsas95/hemotrack/internal/weather"
	"go.uber.org/zap"
)

type App struct {
	Config    *config.Config
	Store     *store.Store
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Hub       *notify.Hub
	Notifier  *notify.Multi
	Alarms    *prophylaxis.TimerAlarms
	Scheduler *prophylaxis.Scheduler
	Sync      *cloudsync.Worker
	Jobs      *cron.Runner
	Remote    *remote.Client
	Weather   *weather.Collector
	Devices   *device.Gateway
	Exporter  *export.Exporter
	Health    *healthdata.Ingester
	Server    *api.Server

	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot

	Version string
}

// New builds every component that does not need the network. Channels, the
// device gateway and the API server are attached by Start.
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("reminders.timezone: %w", err))
	}

	m := metrics.New()
	hub := notify.NewHub()
	multi := notify.NewMulti(logger, m, notify.NewLogNotifier(logger), hub)

	alarms := prophylaxis.NewTimerAlarms(logger, func() bool {
		p, err := st.Permissions()
		return err == nil && p.ExactAlarms
	})

	app := &App{
		Config:   cfg,
		Store:    st,
		Logger:   logger,
		Metrics:  m,
		Hub:      hub,
		Notifier: multi,
		Alarms:   alarms,
		Scheduler: prophylaxis.NewScheduler(st, alarms, multi, logger, prophylaxis.Options{
			Location:         loc,
			LogInfusionOnYes: cfg.Reminders.LogInfusionOnYes,
			Metrics:          m,
		}),
		Jobs:     cron.NewRunner(cron.Config{}, logger, m),
		Remote:   remote.NewClient(cfg.Remote, st, logger),
		Exporter: export.NewExporter(st, logger),
		Health:   healthdata.NewIngester(st, logger),
		Version:  version,
	}

	if cfg.Sync.Enabled {
		mirror, err := cloudsync.NewMirror(cfg.Sync, logger)
		if err != nil {
			return nil, err
		}
		app.Sync = cloudsync.NewWorker(st, mirror, cfg.Sync.BatchSize, m, logger)
	}
	if cfg.Weather.Enabled {
		app.Weather = weather.NewCollector(cfg.Weather, st, logger)
	}

	if err := app.registerJobs(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *App) registerJobs() error {
	cfg := app.Config

	if app.Sync != nil {
		if err := app.Jobs.AddJob(cron.Job{
			Name: cron.JobSync,
			Spec: cfg.Sync.Schedule,
			Run: func(ctx context.Context) error {
				_, err := app.Sync.Run(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}

	if app.Weather != nil {
		if err := app.Jobs.AddJob(cron.Job{
			Name: cron.JobWeather,
			Spec: cfg.Weather.Schedule,
			Run: func(ctx context.Context) error {
				_, _, err := app.Weather.Collect(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}

	if cfg.Remote.LogUploadEnabled {
		if err := app.Jobs.AddJob(cron.Job{
			Name: cron.JobLogUpload,
			Spec: cfg.Remote.LogUploadSchedule,
			Run:  app.uploadLogs,
		}); err != nil {
			return err
		}
	}
	return nil
}

// uploadLogs ships queued logs; without a session there is nothing to do yet
func (app *App) uploadLogs(ctx context.Context) error {
	n, err := app.Remote.UploadLogs(ctx)
	if errors.Is(err, apperrors.ErrNoSession) {
		app.Logger.Debug("Log upload skipped, no remote session")
		return nil
	}
	if err != nil {
		return err
	}
	if n > 0 {
		app.Logger.Info("Logs uploaded", zap.Int("count", n))
	}
	return nil
}

// SeedPermissions stores the first-run permissions unless onboarding already did
func (app *App) SeedPermissions() error {
	ok, err := app.Store.HasPermissions()
	if err != nil || ok {
		return err
	}
	return app.Store.SetPermissions(store.Permissions{
		ExactAlarms:   app.Config.Reminders.ExactAlarms,
		Notifications: true,
	})
}

// Start attaches the channels and the device gateway, restores reminder
// alarms, starts the jobs and builds the API server
func (app *App) Start(ctx context.Context) error {
	if err := app.SeedPermissions(); err != nil {
		return fmt.Errorf("failed to seed permissions: %w", err)
	}

	app.startChannels()
	app.startDevices(ctx)

	if err := app.Scheduler.ScheduleAll(ctx); err != nil {
		app.Logger.Error("Some reminders could not be scheduled", zap.Error(err))
	}

	if err := app.Jobs.Start(); err != nil {
		return err
	}

	app.Server = api.New(api.Deps{
		Config:    app.Config,
		Store:     app.Store,
		Scheduler: app.Scheduler,
		Hub:       app.Hub,
		Metrics:   app.Metrics,
		Sync:      app.Sync,
		Jobs:      app.Jobs,
		Remote:    app.Remote,
		Exporter:  app.Exporter,
		Devices:   app.Devices,
		Health:    app.Health,
		Logger:    app.Logger,
	})

	config.Watch(app.Config.Path(), app.Logger, func() {
		app.Logger.Warn("Restart hemotrack to apply the edited configuration")
	})
	return nil
}

// startChannels adds the chat bots to the notifier. A bot that fails to start
// is logged and left out.
func (app *App) startChannels() {
	ch := app.Config.Channels

	if ch.Telegram.Enabled {
		bot, err := telegram.NewBot(ch.Telegram, app.Scheduler, app.Store, app.Logger)
		if err != nil {
			app.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			app.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		} else {
			app.TelegramBot = bot
			app.Notifier.Add(bot)
			app.Logger.Info("Telegram bot started")
		}
	}

	if ch.Discord.Enabled {
		bot, err := discord.NewBot(ch.Discord, app.Scheduler, app.Logger)
		if err != nil {
			app.Logger.Error("Failed to create Discord bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			app.Logger.Error("Failed to start Discord bot", zap.Error(err))
		} else {
			app.DiscordBot = bot
			app.Notifier.Add(bot)
			app.Logger.Info("Discord bot started")
		}
	}
}

func (app *App) startDevices(ctx context.Context) {
	if !app.Config.Device.Enabled {
		return
	}
	transport, err := device.DialMQTT(app.Config.Device, app.Logger)
	if err != nil {
		app.Logger.Error("Device gateway unavailable", zap.Error(err))
		return
	}
	gw := device.NewGateway(transport, app.Store, app.Config.Device.TopicPrefix, app.Metrics, app.Logger)
	if err := gw.Start(ctx); err != nil {
		app.Logger.Error("Failed to subscribe to device topics", zap.Error(err))
		gw.Close()
		return
	}
	app.Devices = gw
}

// Stop releases everything Start acquired
func (app *App) Stop() {
	if app.Server != nil {
		if err := app.Server.Shutdown(); err != nil {
			app.Logger.Error("Server shutdown error", zap.Error(err))
		}
	}
	app.Jobs.Stop()
	app.Alarms.Stop()

	if app.TelegramBot != nil {
		app.TelegramBot.Stop()
	}
	if app.DiscordBot != nil {
		if err := app.DiscordBot.Stop(); err != nil {
			app.Logger.Warn("Discord shutdown error", zap.Error(err))
		}
	}
	if app.Devices != nil {
		app.Devices.Close()
	}
	if app.Sync != nil {
		if err := app.Sync.Close(); err != nil {
			app.Logger.Warn("Failed to close sync mirror", zap.Error(err))
		}
	}
}

// RunServer starts the daemon and blocks until SIGINT or SIGTERM
func (app *App) RunServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.Start()
	}()

	app.Logger.Info("hemotrack started",
		zap.String("version", app.Version),
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.Int("pending_alarms", len(app.Scheduler.Pending())),
		zap.Int("jobs", len(app.Jobs.Jobs())),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		app.Logger.Error("Server error", zap.Error(serveErr))
	}

	app.Logger.Info("Shutting down...")
	app.Stop()
	if err := app.Store.Close(); err != nil {
		app.Logger.Warn("Failed to close store", zap.Error(err))
	}
	return serveErr
}
