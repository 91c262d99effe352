package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/matching"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	"github.com/angelmondragon/ledgermatch-backend/pkg/lock"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/metrics"
)

const (
	defaultMaxAttempts  = 3
	defaultSweepLockTTL = 10 * time.Minute
	sweepLockRetry      = 100 * time.Millisecond

	// SweepLockKey serializes sweeps across every api, worker and cron replica.
	SweepLockKey = "recompute"
)

// errRecordGone marks a record deleted after the sweep loaded it.
var errRecordGone = errors.New("record deleted during sweep")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entries ...audit.Entry) error
}

// CoordinatorParams configure the recompute coordinator.
type CoordinatorParams struct {
	Records     records.Repository
	Results     ResultRepository
	Engine      *matching.Engine
	Audit       auditRecorder
	Tx          txRunner
	Logger      *logger.Logger
	Metrics     *metrics.RecomputeMetrics
	Locker      lock.Locker
	LockTTL     time.Duration
	MaxAttempts int
}

// Coordinator re-runs the matching engine over every record and settles stored
// results with the fresh classification.
type Coordinator struct {
	records     records.Repository
	results     ResultRepository
	engine      *matching.Engine
	audit       auditRecorder
	tx          txRunner
	logg        *logger.Logger
	metrics     *metrics.RecomputeMetrics
	locker      lock.Locker
	lockTTL     time.Duration
	maxAttempts int
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Evaluated    int `json:"evaluated"`
	Created      int `json:"created"`
	Transitioned int `json:"transitioned"`
	Unchanged    int `json:"unchanged"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeTransitioned
	outcomeSkipped
)

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.Records == nil {
		return nil, fmt.Errorf("records repository required")
	}
	if params.Results == nil {
		return nil, fmt.Errorf("results repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("matching engine required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	locker := params.Locker
	if locker == nil {
		locker = lock.NewLocalLocker(lock.Options{})
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultSweepLockTTL
	}
	return &Coordinator{
		records:     params.Records,
		results:     params.Results,
		engine:      params.Engine,
		audit:       params.Audit,
		tx:          params.Tx,
		logg:        params.Logger,
		metrics:     params.Metrics,
		locker:      locker,
		lockTTL:     ttl,
		maxAttempts: attempts,
	}, nil
}

// RecomputeAll satisfies records.Recomputer.
func (c *Coordinator) RecomputeAll(ctx context.Context, changedBy *uuid.UUID, source enums.AuditSource) error {
	_, err := c.Sweep(ctx, changedBy, source)
	return err
}

// Sweep classifies every live record against all others (itself excluded) and writes
// a result plus a reconciliationStatus audit entry wherever the status differs. Sweeps run
// one at a time; a caller waits for the running sweep so its own snapshot postdates every
// mutation that triggered it.
func (c *Coordinator) Sweep(ctx context.Context, changedBy *uuid.UUID, source enums.AuditSource) (SweepStats, error) {
	var stats SweepStats

	release, err := c.acquire(ctx)
	if err != nil {
		return stats, err
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			c.logg.Warn(ctx, "failed to release recompute lock: "+relErr.Error())
		}
	}()

	start := time.Now()

	recs, err := c.records.ListAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("load records: %w", err)
	}
	existing, err := c.results.ListAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("load results: %w", err)
	}
	byRecord := make(map[uuid.UUID]*models.ReconciliationResult, len(existing))
	for i := range existing {
		byRecord[existing[i].RecordID] = &existing[i]
	}

	idx := matching.NewIndex()
	for i := range recs {
		idx.Add(records.CandidateOf(&recs[i]))
	}

	var errs error
	for i := range recs {
		rec := &recs[i]
		stats.Evaluated++
		status, err := c.engine.Classify(ctx, idx, records.CandidateOf(rec), matching.ClassifyOptions{ExcludeID: rec.ID})
		if err != nil {
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("classify record %s: %w", rec.ID, err))
			continue
		}
		out, err := c.settle(ctx, rec, byRecord[rec.ID], status, changedBy, source)
		if err != nil {
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("settle record %s: %w", rec.ID, err))
			continue
		}
		switch out {
		case outcomeCreated:
			stats.Created++
			c.metrics.IncTransition(string(status))
		case outcomeTransitioned:
			stats.Transitioned++
			c.metrics.IncTransition(string(status))
		case outcomeSkipped:
			stats.Skipped++
		default:
			stats.Unchanged++
		}
	}

	c.metrics.ObserveSweep(time.Since(start), stats.Failed)
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"source":       source,
		"evaluated":    stats.Evaluated,
		"created":      stats.Created,
		"transitioned": stats.Transitioned,
		"skipped":      stats.Skipped,
		"failed":       stats.Failed,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	if errs != nil {
		c.logg.Warn(logCtx, "recompute sweep finished with errors")
	} else {
		c.logg.Info(logCtx, "recompute sweep finished")
	}
	return stats, errs
}

// settle writes status for rec, reloading and retrying when another writer raced it.
func (c *Coordinator) settle(ctx context.Context, rec *models.Record, current *models.ReconciliationResult, status enums.ReconciliationStatus, changedBy *uuid.UUID, source enums.AuditSource) (outcome, error) {
	for attempt := 1; ; attempt++ {
		if current != nil && current.Status == status {
			return outcomeUnchanged, nil
		}

		out := outcomeCreated
		err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
			results := c.results.WithTx(tx)
			if current == nil {
				if _, err := c.records.WithTx(tx).FindByID(ctx, rec.ID); err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return errRecordGone
					}
					return err
				}
				res := &models.ReconciliationResult{
					RecordID:    rec.ID,
					UploadJobID: rec.UploadJobID,
					Status:      status,
				}
				if err := results.Create(ctx, res); err != nil {
					if db.IsForeignKeyViolation(err) {
						return errRecordGone
					}
					return err
				}
				return c.audit.Record(ctx, tx, audit.StatusChange(rec.ID, rec.UploadJobID, nil, status, changedBy, source))
			}

			out = outcomeTransitioned
			from := current.Status
			if err := results.UpdateStatus(ctx, current.ID, status, current.Version); err != nil {
				return err
			}
			return c.audit.Record(ctx, tx, audit.StatusChange(rec.ID, rec.UploadJobID, &from, status, changedBy, source))
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, errRecordGone) {
			return outcomeSkipped, nil
		}
		if !errors.Is(err, ErrVersionConflict) && !db.IsUniqueViolation(err, "") {
			return outcomeUnchanged, err
		}
		if attempt >= c.maxAttempts {
			return outcomeUnchanged, err
		}

		current, err = c.results.FindByRecordID(ctx, rec.ID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return outcomeUnchanged, err
			}
			current = nil
		}
	}
}

// acquire waits for the sweep lock until ctx ends.
func (c *Coordinator) acquire(ctx context.Context) (lock.ReleaseFunc, error) {
	for {
		release, err := c.locker.Obtain(ctx, SweepLockKey, c.lockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, lock.ErrNotObtained) {
			return nil, fmt.Errorf("obtain recompute lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for recompute lock: %w", ctx.Err())
		case <-time.After(sweepLockRetry):
		}
	}
}
