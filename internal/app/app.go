// Package app assembles the reconciliation domain shared by the api, worker and cron binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/ingest"
	"github.com/angelmondragon/ledgermatch-backend/internal/matching"
	"github.com/angelmondragon/ledgermatch-backend/internal/reconciliation"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/internal/users"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db"
	"github.com/angelmondragon/ledgermatch-backend/pkg/lock"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/metrics"
	"github.com/angelmondragon/ledgermatch-backend/pkg/redis"
	"github.com/angelmondragon/ledgermatch-backend/pkg/storage"
	"github.com/angelmondragon/ledgermatch-backend/pkg/storage/gcs"
)

// Params carries the infrastructure clients a binary has already opened.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Store      storage.FileStore
	Registerer prometheus.Registerer
}

// Domain is the wired set of repositories, engine and services.
type Domain struct {
	Locker lock.Locker

	Users   users.Repository
	Jobs    uploads.Repository
	Records records.Repository
	Results reconciliation.ResultRepository

	Audit       audit.Service
	Engine      *matching.Engine
	Editor      *records.Editor
	Coordinator *reconciliation.Coordinator
	Pipeline    *ingest.Pipeline
}

// NewLocker returns a Redis-backed locker when a client is available and an in-process
// one otherwise.
func NewLocker(client *redis.Client, opts lock.Options) (lock.Locker, error) {
	if client == nil {
		return lock.NewLocalLocker(opts), nil
	}
	return lock.NewRedisLocker(redislock.New(client.Raw()), client, opts)
}

// NewFileStore opens the configured upload store.
func NewFileStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.FileStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverGCS:
		return gcs.NewClient(ctx, cfg.Storage, cfg.GCP, logg)
	case config.StorageDriverLocal, "":
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// Build wires the domain on top of the provided clients.
func Build(p Params) (*Domain, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Store == nil:
		return nil, errors.New("file store is required")
	}

	locker, err := NewLocker(p.Redis, lock.Options{Wait: p.Config.Ingest.MappingLockTTL})
	if err != nil {
		return nil, fmt.Errorf("create locker: %w", err)
	}

	conn := p.DB.DB()
	d := &Domain{
		Locker:  locker,
		Users:   users.NewRepository(conn),
		Jobs:    uploads.NewRepository(conn),
		Records: records.NewRepository(conn),
		Results: reconciliation.NewResultRepository(conn),
	}

	if d.Audit, err = audit.NewService(audit.NewRepository(conn)); err != nil {
		return nil, err
	}

	rules, err := matching.RuleSetFromConfig(p.Config.Match)
	if err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	if d.Engine, err = matching.NewEngine(rules); err != nil {
		return nil, err
	}
	if d.Editor, err = records.NewEditor(d.Records, d.Audit); err != nil {
		return nil, err
	}

	d.Coordinator, err = reconciliation.NewCoordinator(reconciliation.CoordinatorParams{
		Records: d.Records,
		Results: d.Results,
		Engine:  d.Engine,
		Audit:   d.Audit,
		Tx:      p.DB,
		Logger:  p.Logger,
		Metrics: metrics.NewRecomputeMetrics(p.Registerer),
		Locker:  locker,
	})
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	d.Pipeline, err = ingest.NewPipeline(ingest.PipelineParams{
		Jobs:    d.Jobs,
		Records: d.Records,
		Results: d.Results,
		Audit:   d.Audit,
		Engine:  d.Engine,
		Store:   p.Store,
		Tx:      p.DB,
		Locker:  locker,
		Logger:  p.Logger,
		Metrics: metrics.NewIngestMetrics(p.Registerer),
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	return d, nil
}

// RecordService builds the record CRUD service; edits trigger a full recompute.
func (d *Domain) RecordService(logg *logger.Logger, tx *db.Client) (records.Service, error) {
	return records.NewService(records.ServiceParams{
		Repo:       d.Records,
		Tx:         tx,
		Editor:     d.Editor,
		Audit:      d.Audit,
		Recomputer: d.Coordinator,
		Logger:     logg,
	})
}

// ReconciliationService builds the summary, correction and backfill service.
func (d *Domain) ReconciliationService(logg *logger.Logger, tx *db.Client) (reconciliation.Service, error) {
	return reconciliation.NewService(reconciliation.ServiceParams{
		Records:     d.Records,
		Results:     d.Results,
		Jobs:        d.Jobs,
		Editor:      d.Editor,
		Engine:      d.Engine,
		Coordinator: d.Coordinator,
		Audit:       d.Audit,
		Tx:          tx,
		Logger:      logg,
	})
}

// UserService builds the user management service; sessions may be nil.
func (d *Domain) UserService(logg *logger.Logger, tx *db.Client, sessions users.SessionRevoker) (users.Service, error) {
	return users.NewService(users.ServiceParams{
		Repo:     d.Users,
		Tx:       tx,
		Audit:    d.Audit,
		Sessions: sessions,
		Logger:   logg,
	})
}
