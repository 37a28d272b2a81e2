package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/tazhate/memoalarm/config"
	"github.com/tazhate/memoalarm/internal/alarm"
	"github.com/tazhate/memoalarm/internal/bot"
	"github.com/tazhate/memoalarm/internal/platform"
	"github.com/tazhate/memoalarm/internal/scheduler"
	"github.com/tazhate/memoalarm/internal/service"
	"github.com/tazhate/memoalarm/internal/storage"
	"github.com/xlab/closer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.PathEnv+")")
	exportPath := flag.String("export", "", "write all events to an .ics file and exit")
	importPath := flag.String("import", "", "read events from an .ics file and exit")
	replace := flag.Bool("replace", false, "with -import, delete existing events first")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("unable to load config: %v", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("unable to initialize logger: %v", err)
	}

	store, err := storage.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatalw("unable to open storage", "path", cfg.DatabasePath, "err", err)
	}
	store.SetLocation(cfg.Location())
	closer.Bind(func() {
		if err := store.Close(); err != nil {
			logger.Errorw("failed to close storage", "err", err)
		}
	})

	perms := platform.NewSettingsPermissions(store, nil)

	// the bot joins the presenters once it exists
	presenters := platform.MultiPresenter{platform.NewLogPresenter(logger)}
	alarms := alarm.New(store, &presenters, logger)
	alarms.SetHorizon(cfg.Horizon)
	alarms.SetStaleAfter(cfg.RefreshInterval)
	alarms.SetLocation(cfg.Location())

	sched := scheduler.New(store, alarms, perms, logger, cfg.RefreshInterval)

	events := service.NewEventService(store, sched, logger)
	events.SetLocation(cfg.Location())

	ctx, cancel := context.WithCancel(context.Background())

	if *exportPath != "" || *importPath != "" {
		runFileCommand(ctx, logger, events, *exportPath, *importPath, *replace)
		cancel()
		closer.Close()
		return
	}

	closer.Bind(sched.Stop)
	closer.Bind(cancel)

	if cfg.BotEnabled() {
		tgBot, err := bot.New(cfg, events, sched, perms, logger)
		if err != nil {
			logger.Fatalw("unable to initialize bot", "err", err)
		}
		presenters = append(presenters, tgBot)
		perms.SetPrompter(tgBot)

		go func() {
			if err := tgBot.Start(ctx); err != nil {
				logger.Errorw("bot error", "err", err)
			}
		}()
	} else if cfg.AutoGrant {
		perms.SetPrompter(platform.StaticPrompter(true))
	} else {
		logger.Warnw("no permission prompter configured, notifications stay off until granted",
			"hint", "set TELEGRAM_BOT_TOKEN or NOTIFICATIONS_AUTO_GRANT=true")
	}

	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Errorw("scheduler error", "err", err)
		}
	}()

	go func() {
		granted, err := sched.Enable(ctx)
		if err != nil {
			logger.Errorw("unable to enable notifications", "err", err)
			return
		}
		if !granted {
			logger.Infow("notifications not enabled", "permission", "not granted")
		}
	}()

	logger.Infow("memoalarm started", "db", cfg.DatabasePath, "bot", cfg.BotEnabled())
	closer.Hold()
}

func runFileCommand(ctx context.Context, logger *zap.SugaredLogger, events *service.EventService, exportPath, importPath string, replace bool) {
	if exportPath != "" {
		f, err := os.Create(exportPath)
		if err != nil {
			logger.Fatalw("unable to create export file", "path", exportPath, "err", err)
		}
		defer f.Close()

		if err := events.ExportICS(ctx, f); err != nil {
			logger.Fatalw("export failed", "err", err)
		}
		logger.Infow("events exported", "path", exportPath)
	}

	if importPath != "" {
		f, err := os.Open(importPath)
		if err != nil {
			logger.Fatalw("unable to open import file", "path", importPath, "err", err)
		}
		defer f.Close()

		res, err := events.ImportICS(ctx, f, replace)
		if err != nil {
			logger.Fatalw("import failed", "err", err)
		}
		logger.Infow("events imported", "path", importPath, "added", res.Added, "updated", res.Updated, "skipped", res.Skipped)
	}
}

func initLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}

	var conf zap.Config
	if cfg.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
		conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	conf.Level = zap.NewAtomicLevelAt(level)

	logger, err := conf.Build()
	if err != nil {
		return nil, err
	}

	closer.Bind(func() {
		_ = logger.Sync()
	})

	return logger.Sugar(), nil
}
