package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgermatch-backend/api/controllers"
	"github.com/angelmondragon/ledgermatch-backend/api/routes"
	"github.com/angelmondragon/ledgermatch-backend/internal/app"
	"github.com/angelmondragon/ledgermatch-backend/internal/auth"
	"github.com/angelmondragon/ledgermatch-backend/internal/ingest"
	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/pkg/auth/session"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/migrate"
	"github.com/angelmondragon/ledgermatch-backend/pkg/pubsub"
	"github.com/angelmondragon/ledgermatch-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(ctx, "failed to create session manager", err)
		os.Exit(1)
	}

	store, err := app.NewFileStore(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to open upload storage", err)
		os.Exit(1)
	}
	var storagePinger controllers.Pinger
	if p, ok := store.(controllers.Pinger); ok {
		storagePinger = p
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

	var dispatcher uploads.Dispatcher
	switch cfg.Ingest.Dispatch {
	case config.DispatchPubSub:
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		pubsubDispatcher, err := ingest.NewPubSubDispatcher(psClient.IngestPublisher(), logg)
		if err != nil {
			logg.Error(ctx, "failed to create pubsub dispatcher", err)
			os.Exit(1)
		}
		dispatcher = pubsubDispatcher
	default:
		localDispatcher, err := ingest.NewLocalDispatcher(domain.Pipeline, cfg.Ingest.Workers, logg)
		if err != nil {
			logg.Error(ctx, "failed to create local dispatcher", err)
			os.Exit(1)
		}
		defer func() {
			waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := localDispatcher.Wait(waitCtx); err != nil {
				logg.Warn(waitCtx, "in-flight ingestion did not finish before shutdown")
			}
		}()
		dispatcher = localDispatcher
	}

	uploadService, err := uploads.NewService(uploads.ServiceParams{
		Repo:           domain.Jobs,
		Store:          store,
		Locker:         domain.Locker,
		Dispatcher:     dispatcher,
		Logger:         logg,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes(),
		PreviewRows:    cfg.Ingest.PreviewRows,
		LockTTL:        cfg.Ingest.MappingLockTTL,
	})
	if err != nil {
		logg.Error(ctx, "failed to create upload service", err)
		os.Exit(1)
	}

	recordService, err := domain.RecordService(logg, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to create record service", err)
		os.Exit(1)
	}
	reconciliationService, err := domain.ReconciliationService(logg, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to create reconciliation service", err)
		os.Exit(1)
	}
	userService, err := domain.UserService(logg, dbClient, sessionManager)
	if err != nil {
		logg.Error(ctx, "failed to create user service", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       domain.Users,
		Tx:             dbClient,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(ctx, "failed to create auth service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		Storage:        storagePinger,
		Sessions:       sessionManager,
		Gatherer:       prometheus.DefaultGatherer,
		UserLoader:     domain.Users,
		Auth:           authService,
		Users:          userService,
		Uploads:        uploadService,
		Records:        recordService,
		Reconciliation: reconciliationService,
		Audit:          domain.Audit,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"dispatch": cfg.Ingest.Dispatch,
		"storage":  cfg.Storage.Driver,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "api server shutdown failed", err)
		}
		logg.Info(logCtx, "api server stopped")
	}
}
