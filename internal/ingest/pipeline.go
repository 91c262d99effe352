package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/matching"
	"github.com/angelmondragon/ledgermatch-backend/internal/reconciliation"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/lock"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/metrics"
	"github.com/angelmondragon/ledgermatch-backend/pkg/storage"
	"github.com/angelmondragon/ledgermatch-backend/pkg/tabular"
)

const (
	defaultProgressEvery = 200
	runLockTTL           = 15 * time.Minute

	rowsIngested = "ingested"
	rowsSkipped  = "skipped"
)

// InterruptedReason is the failure reason for a run that stopped partway through its file.
const InterruptedReason = "ingestion was interrupted before the file was fully processed"

var errJobLeftProcessing = errors.New("upload job left PROCESSING before completion")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entries ...audit.Entry) error
}

// PipelineParams groups the collaborators of the ingestion pipeline.
type PipelineParams struct {
	Jobs          uploads.Repository
	Records       records.Repository
	Results       reconciliation.ResultRepository
	Audit         auditRecorder
	Engine        *matching.Engine
	Store         storage.FileStore
	Tx            txRunner
	Locker        lock.Locker
	Logger        *logger.Logger
	Metrics       *metrics.IngestMetrics
	ProgressEvery int
}

// Pipeline turns a PROCESSING upload job into records, results, and audit entries.
type Pipeline struct {
	jobs          uploads.Repository
	records       records.Repository
	results       reconciliation.ResultRepository
	audit         auditRecorder
	engine        *matching.Engine
	store         storage.FileStore
	tx            txRunner
	locker        lock.Locker
	logg          *logger.Logger
	metrics       *metrics.IngestMetrics
	progressEvery int
}

// RunStats counts what one ingestion run did with the file's rows.
type RunStats struct {
	Total    int
	Ingested int
	Skipped  int
	ByStatus map[enums.ReconciliationStatus]int
}

func NewPipeline(params PipelineParams) (*Pipeline, error) {
	switch {
	case params.Jobs == nil:
		return nil, fmt.Errorf("upload repository required")
	case params.Records == nil:
		return nil, fmt.Errorf("record repository required")
	case params.Results == nil:
		return nil, fmt.Errorf("result repository required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	case params.Engine == nil:
		return nil, fmt.Errorf("matching engine required")
	case params.Store == nil:
		return nil, fmt.Errorf("file store required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	every := params.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}
	return &Pipeline{
		jobs:          params.Jobs,
		records:       params.Records,
		results:       params.Results,
		audit:         params.Audit,
		engine:        params.Engine,
		store:         params.Store,
		tx:            params.Tx,
		locker:        params.Locker,
		logg:          logg,
		metrics:       params.Metrics,
		progressEvery: every,
	}, nil
}

// Ingest processes one job. A PROCESSING job that already holds results was interrupted
// mid-file and is failed rather than resumed; its rows stay in place. Row-level problems are
// skipped; storage failures fail the job and leave earlier rows in place.
func (p *Pipeline) Ingest(ctx context.Context, jobID uuid.UUID) error {
	ctx = p.logg.WithJobID(ctx, jobID.String())

	if p.locker != nil {
		release, err := p.locker.Obtain(ctx, "ingest:"+jobID.String(), runLockTTL)
		if errors.Is(err, lock.ErrNotObtained) {
			p.logg.Warn(ctx, "ingestion already running elsewhere; skipping")
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "obtain ingestion lock")
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				p.logg.Warn(ctx, "failed to release ingestion lock: "+relErr.Error())
			}
		}()
	}

	job, err := p.jobs.FindByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "upload job not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load upload job")
	}

	switch job.Status {
	case enums.UploadJobStatusProcessing:
	case enums.UploadJobStatusCompleted, enums.UploadJobStatusFailed:
		p.logg.Info(p.logg.WithField(ctx, "status", job.Status.String()), "job already terminal; nothing to ingest")
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "upload job has no mapping yet")
	}

	partial, err := p.results.ExistsForJob(ctx, job.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing results")
	}
	if partial {
		failed, err := p.jobs.MarkFailed(ctx, job.ID, InterruptedReason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail interrupted job")
		}
		if failed {
			p.metrics.ObserveJob(enums.UploadJobStatusFailed.String(), 0)
			p.logg.Warn(ctx, "previous ingestion attempt was interrupted; job marked failed")
		}
		return nil
	}

	started := time.Now()
	stats, runErr := p.run(ctx, job)
	if runErr != nil {
		p.fail(ctx, job, stats, runErr)
		p.metrics.ObserveJob(enums.UploadJobStatusFailed.String(), time.Since(started))
		return runErr
	}

	// Counters and the COMPLETED flip land together so a PROCESSING job with results is
	// always an unfinished run.
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		jobs := p.jobs.WithTx(tx)
		if err := jobs.UpdateCounters(ctx, job.ID, stats.Total, stats.Ingested, stats.Skipped); err != nil {
			return err
		}
		completed, err := jobs.MarkCompleted(ctx, job.ID)
		if err == nil && !completed {
			return errJobLeftProcessing
		}
		return err
	})
	if errors.Is(err, errJobLeftProcessing) {
		p.logg.Warn(p.logg.WithField(ctx, "rows_ingested", stats.Ingested), "job left PROCESSING during ingestion; completion dropped")
		return nil
	}
	if err != nil {
		p.fail(ctx, job, stats, err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete upload job")
	}
	p.metrics.ObserveJob(enums.UploadJobStatusCompleted.String(), time.Since(started))

	p.logg.Info(p.logg.WithFields(ctx, map[string]any{
		"rows_total":    stats.Total,
		"rows_ingested": stats.Ingested,
		"rows_skipped":  stats.Skipped,
		"duration_ms":   time.Since(started).Milliseconds(),
	}), "ingestion completed")
	return nil
}

func (p *Pipeline) run(ctx context.Context, job *models.UploadJob) (RunStats, error) {
	stats := RunStats{ByStatus: make(map[enums.ReconciliationStatus]int)}

	if len(job.Mapping) == 0 {
		return stats, pkgerrors.New(pkgerrors.CodeStateConflict, "upload job mapping is missing")
	}
	format, err := tabular.FormatFor(job.OriginalFileName)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported source file")
	}

	src, err := p.store.Open(ctx, job.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "source file missing")
	}
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open source file")
	}
	defer src.Close()

	reader, err := tabular.Open(src, format)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse source file")
	}
	defer reader.Close()

	proj := newProjector(job.Mapping)
	seen := matching.NewSeenSet()
	for {
		if err := ctx.Err(); err != nil {
			return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ingestion interrupted")
		}
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read source file")
		}
		stats.Total++

		rec, ok := proj.project(row, job.ID)
		if !ok {
			stats.Skipped++
			p.metrics.AddRows(rowsSkipped, 1)
			continue
		}

		status, err := p.ingestRow(ctx, job, rec, seen)
		if err != nil {
			return stats, err
		}
		stats.Ingested++
		stats.ByStatus[status]++
		p.metrics.AddRows(rowsIngested, 1)

		if stats.Total%p.progressEvery == 0 {
			if err := p.jobs.UpdateCounters(ctx, job.ID, stats.Total, stats.Ingested, stats.Skipped); err != nil {
				p.logg.Warn(ctx, "failed to record ingestion progress: "+err.Error())
			}
		}
	}
	return stats, nil
}

// ingestRow classifies rec against the durable population plus this run's seen set, then
// writes the record, its result, and both audit entries in one transaction.
func (p *Pipeline) ingestRow(ctx context.Context, job *models.UploadJob, rec *models.Record, seen *matching.SeenSet) (enums.ReconciliationStatus, error) {
	cand := records.CandidateOf(rec)
	status, err := p.engine.Classify(ctx, p.records, cand, matching.ClassifyOptions{ExcludeID: rec.ID, Seen: seen})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "classify row")
	}

	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := p.records.WithTx(tx).Create(ctx, rec); err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		result := &models.ReconciliationResult{
			RecordID:    rec.ID,
			UploadJobID: rec.UploadJobID,
			Status:      status,
		}
		if err := p.results.WithTx(tx).Create(ctx, result); err != nil {
			return fmt.Errorf("create result: %w", err)
		}
		return p.audit.Record(ctx, tx,
			audit.RecordCreated(rec, job.UploadedBy, enums.AuditSourceUpload),
			audit.StatusChange(rec.ID, rec.UploadJobID, nil, status, job.UploadedBy, enums.AuditSourceReconciliation),
		)
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist row")
	}
	seen.Add(cand)
	return status, nil
}

func (p *Pipeline) fail(ctx context.Context, job *models.UploadJob, stats RunStats, cause error) {
	ctx = context.WithoutCancel(ctx)
	p.logg.Error(p.logg.WithFields(ctx, map[string]any{
		"rows_total":    stats.Total,
		"rows_ingested": stats.Ingested,
	}), "ingestion failed", cause)

	if err := p.jobs.UpdateCounters(ctx, job.ID, stats.Total, stats.Ingested, stats.Skipped); err != nil {
		p.logg.Error(ctx, "failed to record counters for failed job", err)
	}
	if _, err := p.jobs.MarkFailed(ctx, job.ID, failureReason(cause)); err != nil {
		p.logg.Error(ctx, "failed to mark job failed", err)
	}
}

func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		msg := typed.Message()
		if inner := errors.Unwrap(typed); inner != nil {
			msg += ": " + inner.Error()
		}
		return msg
	}
	return strings.TrimSpace(err.Error())
}
