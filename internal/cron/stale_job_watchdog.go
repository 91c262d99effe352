package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

const (
	defaultStaleAfter = 30 * time.Minute
	staleBatchSize    = 100
	staleReason       = "ingestion did not finish before the watchdog deadline"
	partialReason     = staleReason + "; rows ingested so far were kept"
)

type StaleJobWatchdogParams struct {
	Logger     *logger.Logger
	Jobs       staleJobRepo
	Results    resultChecker
	StaleAfter time.Duration
}

type staleJobRepo interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadJob, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

type resultChecker interface {
	ExistsForJob(ctx context.Context, uploadJobID uuid.UUID) (bool, error)
}

// NewStaleJobWatchdog builds the job that fails uploads stuck in PROCESSING. Rows an
// interrupted run already wrote stay in place, but the job is never COMPLETED and so never
// becomes a reuse source.
func NewStaleJobWatchdog(params StaleJobWatchdogParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("upload repository required")
	}
	if params.Results == nil {
		return nil, fmt.Errorf("result repository required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &staleJobWatchdog{
		logg:       params.Logger,
		jobs:       params.Jobs,
		results:    params.Results,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

type staleJobWatchdog struct {
	logg       *logger.Logger
	jobs       staleJobRepo
	results    resultChecker
	staleAfter time.Duration
	now        func() time.Time
}

func (j *staleJobWatchdog) Name() string { return "stale-upload-watchdog" }

func (j *staleJobWatchdog) Run(ctx context.Context) (Outcome, error) {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	stale, err := j.jobs.ListStaleProcessing(ctx, cutoff, staleBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale uploads: %w", err)
	}

	var (
		errs    error
		partial int
		failed  int
	)
	for _, job := range stale {
		jobCtx := j.logg.WithJobID(ctx, job.ID.String())
		hasRows, err := j.results.ExistsForJob(ctx, job.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		reason := staleReason
		if hasRows {
			reason = partialReason
		}
		ok, err := j.jobs.MarkFailed(ctx, job.ID, reason)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fail job %s: %w", job.ID, err))
			continue
		}
		if !ok {
			continue
		}
		failed++
		if hasRows {
			partial++
		}
		j.logg.Warn(j.logg.WithField(jobCtx, "partial_rows", hasRows), "stale upload marked failed")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"stale":   len(stale),
		"failed":  failed,
		"partial": partial,
	}), "stale upload sweep complete")
	return Outcome{"failed": failed, "partial": partial}, errs
}
