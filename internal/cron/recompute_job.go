package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgermatch-backend/internal/reconciliation"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type sweeper interface {
	Sweep(ctx context.Context, changedBy *uuid.UUID, source enums.AuditSource) (reconciliation.SweepStats, error)
}

type RecomputeJobParams struct {
	Logger  *logger.Logger
	Sweeper sweeper
}

// NewRecomputeJob runs a full-population recompute attributed to SYSTEM.
func NewRecomputeJob(params RecomputeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("recompute coordinator required")
	}
	return &recomputeJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type recomputeJob struct {
	logg    *logger.Logger
	sweeper sweeper
}

func (j *recomputeJob) Name() string { return "scheduled-recompute" }

func (j *recomputeJob) Run(ctx context.Context) (Outcome, error) {
	stats, err := j.sweeper.Sweep(ctx, nil, enums.AuditSourceSystem)
	outcome := Outcome{
		"created":      stats.Created,
		"transitioned": stats.Transitioned,
		"skipped":      stats.Skipped,
		"failed":       stats.Failed,
	}
	if err != nil {
		return outcome, fmt.Errorf("scheduled recompute: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "evaluated", stats.Evaluated), "scheduled recompute complete")
	return outcome, nil
}
