package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgermatch-backend/internal/app"
	"github.com/angelmondragon/ledgermatch-backend/internal/cron"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/metrics"
	"github.com/angelmondragon/ledgermatch-backend/pkg/migrate"
	"github.com/angelmondragon/ledgermatch-backend/pkg/redis"
)

const lockKeyPrefix = "cron:cycle:"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := app.NewFileStore(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to open upload storage", err)
		os.Exit(1)
	}

	domain, err := app.Build(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Store:      store,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire domain", err)
		os.Exit(1)
	}

	lock, err := cron.NewLockerLock(domain.Locker, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()

	watchdog, err := cron.NewStaleJobWatchdog(cron.StaleJobWatchdogParams{
		Logger:     logg,
		Jobs:       domain.Jobs,
		Results:    domain.Results,
		StaleAfter: cfg.Ingest.StaleAfter,
	})
	if err != nil {
		logg.Error(ctx, "failed to create stale upload watchdog", err)
		os.Exit(1)
	}
	if err := registry.Register(watchdog); err != nil {
		logg.Error(ctx, "failed to register stale upload watchdog", err)
		os.Exit(1)
	}

	if cfg.Cron.RecomputeEnabled {
		recompute, err := cron.NewRecomputeJob(cron.RecomputeJobParams{
			Logger:  logg,
			Sweeper: domain.Coordinator,
		})
		if err != nil {
			logg.Error(ctx, "failed to create recompute job", err)
			os.Exit(1)
		}
		if err := registry.Register(recompute); err != nil {
			logg.Error(ctx, "failed to register recompute job", err)
			os.Exit(1)
		}
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"jobs":        registry.Names(),
	})

	if len(cfg.Cron.RunOnce) > 0 {
		ran, err := service.RunOnce(ctx, runOnceNames(cfg.Cron.RunOnce)...)
		if err != nil {
			logg.Error(ctx, "one-shot cron run failed", err)
			os.Exit(1)
		}
		logg.Info(logg.WithField(ctx, "ran", ran), "one-shot cron run finished")
		return
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func runOnceNames(names []string) []string {
	for _, name := range names {
		if name == "all" {
			return nil
		}
	}
	return names
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return lockKeyPrefix + env
}
