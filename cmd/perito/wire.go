package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/compose"
	"github.com/zulandar/perito/internal/config"
	"github.com/zulandar/perito/internal/db"
	"github.com/zulandar/perito/internal/gemini"
	"github.com/zulandar/perito/internal/intake"
	"github.com/zulandar/perito/internal/logging"
	"github.com/zulandar/perito/internal/messaging"
	"github.com/zulandar/perito/internal/store"
	"github.com/zulandar/perito/internal/sweep"
	"github.com/zulandar/perito/internal/telegraph"
	"github.com/zulandar/perito/internal/telegraph/discord"
	"github.com/zulandar/perito/internal/telegraph/slack"
	"github.com/zulandar/perito/internal/window"
)

// app is every long-lived component, built once from config.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	store   store.Store
	window  *window.Policy
	disp    telegraph.Dispatcher
	staff   []telegraph.Notifier
	desk    *messaging.Desk
	engine  *intake.Engine
	sweeper *sweep.Sweeper
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectFromConfig loads config and opens the migrated SQL database only.
func connectFromConfig(path string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := db.Prepare(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, gdb, nil
}

// openStore opens the configured conversation store over gdb.
func openStore(ctx context.Context, cfg *config.Config, gdb *gorm.DB, log *zap.Logger) (store.Store, error) {
	opts := store.Options{
		Logger: log,
		DueAt:  sweep.NextDue(sweep.TimingFrom(cfg.Timing)),
	}
	if cfg.Storage.Backend == "bolt" {
		return store.OpenBolt(ctx, cfg.Storage.BoltPath, opts)
	}
	return store.NewSQL(ctx, gdb, opts)
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	var err error

	if a.db, err = db.Prepare(cfg.Database); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if a.store, err = openStore(ctx, cfg, a.db, a.log); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if a.window, err = window.New(cfg.SendWindow); err != nil {
		return err
	}
	if a.disp, err = newDispatcher(cfg.Transport, a.log); err != nil {
		return err
	}

	if a.staff, err = newNotifiers(cfg.Staff); err != nil {
		return err
	}
	a.desk = messaging.NewDesk(messaging.DeskOpts{
		DB:            a.db,
		Notifiers:     a.staff,
		NotifyCommand: cfg.Staff.NotifyCommand,
		Logger:        a.log.Named("desk"),
	})

	var (
		composer   compose.Composer
		classifier intake.Classifier
	)
	if cfg.GenAI.Enabled {
		client, err := gemini.NewClient(ctx, cfg.GenAI.APIKey, cfg.GenAI.Model)
		if err != nil {
			return err
		}
		composer = gemini.NewComposer(client, a.log.Named("gemini"))
		classifier = gemini.NewClassifier(client)
	}

	rules, offer := intake.RulesFrom(cfg.Claims)
	a.engine, err = intake.New(intake.Opts{
		Store:      a.store,
		Dispatcher: a.disp,
		Composer:   composer,
		Classifier: classifier,
		Window:     a.window,
		Handoffs:   a.desk,
		Rules:      rules,
		AdminOffer: offer,
		Timing:     intake.TimingFrom(cfg.Timing),
		Logger:     a.log.Named("intake"),
	})
	if err != nil {
		return err
	}

	a.sweeper, err = sweep.New(sweep.Opts{
		Store:               a.store,
		Dispatcher:          a.disp,
		Composer:            composer,
		Window:              a.window,
		Handoffs:            a.desk,
		Timing:              sweep.TimingFrom(cfg.Timing),
		MaxDispatchFailures: cfg.Timing.MaxDispatchFailures,
		DispatchTimeout:     cfg.Timing.DispatchTimeout.Duration,
		Concurrency:         cfg.Timing.SweepConcurrency,
		Logger:              a.log.Named("sweep"),
	})
	return err
}

func (a *app) digestOpts() telegraph.DigestOpts {
	return telegraph.DigestOpts{
		Schedule:  a.cfg.Staff.DigestSchedule,
		Store:     a.store,
		DB:        a.db,
		Notifiers: a.staff,
		Logger:    a.log.Named("digest"),
	}
}

func newDispatcher(cfg config.TransportConfig, log *zap.Logger) (telegraph.Dispatcher, error) {
	if cfg.Kind == "twilio" {
		return telegraph.NewTwilioDispatcher(telegraph.TwilioOpts{
			AccountSID: cfg.AccountSID,
			AuthToken:  cfg.AuthToken,
			From:       cfg.From,
		})
	}
	return telegraph.NewLogDispatcher(log.Named("transport")), nil
}

func newNotifiers(cfg config.StaffConfig) ([]telegraph.Notifier, error) {
	var out []telegraph.Notifier
	if s := cfg.Slack; s != nil {
		n, err := slack.New(slack.Opts{BotToken: s.BotToken, ChannelID: s.ChannelID})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if d := cfg.Discord; d != nil {
		n, err := discord.New(discord.Opts{BotToken: d.BotToken, ChannelID: d.ChannelID})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Close releases the store and database and flushes the logger. The SQL
// store owns the database handle; the bolt store leaves it to us.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
	if a.db != nil && (a.store == nil || a.cfg.Storage.Backend == "bolt") {
		db.Close(a.db)
	}
	a.log.Sync()
}
