package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/matching"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type jobLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.UploadJob, error)
}

type auditStore interface {
	auditRecorder
	RecordIDsWithField(ctx context.Context, field string) (map[uuid.UUID]struct{}, error)
}

// Service exposes reconciliation reads and corrections.
type Service interface {
	JobReport(ctx context.Context, jobID uuid.UUID) (*JobReport, error)
	GlobalSummary(ctx context.Context, filter SummaryFilter) (*Summary, error)
	ManualCorrect(ctx context.Context, recordID uuid.UUID, input records.UpdateInput, actor *uuid.UUID) (*CorrectionResult, error)
	Backfill(ctx context.Context, actor *uuid.UUID) (*BackfillStats, error)
}

// ServiceParams groups the collaborators of the reconciliation service.
type ServiceParams struct {
	Records     records.Repository
	Results     ResultRepository
	Jobs        jobLoader
	Editor      *records.Editor
	Engine      *matching.Engine
	Coordinator *Coordinator
	Audit       auditStore
	Tx          txRunner
	Logger      *logger.Logger
}

type service struct {
	records     records.Repository
	results     ResultRepository
	jobs        jobLoader
	editor      *records.Editor
	engine      *matching.Engine
	coordinator *Coordinator
	audit       auditStore
	tx          txRunner
	logg        *logger.Logger
}

// SummaryFilter narrows the global summary by record creation time and status.
type SummaryFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Status    *enums.ReconciliationStatus
}

// JobReport is the per-upload reconciliation view.
type JobReport struct {
	JobID           uuid.UUID             `json:"jobId"`
	JobStatus       enums.UploadJobStatus `json:"jobStatus"`
	ReusedFromJobID *uuid.UUID            `json:"reusedFromJobId"`
	Summary         Summary               `json:"summary"`
	Chart           []ChartPoint          `json:"chart"`
	Records         []records.RecordView  `json:"records"`
}

// CorrectionResult reports a manual correction.
type CorrectionResult struct {
	Record         records.RecordView         `json:"record"`
	PreviousStatus enums.ReconciliationStatus `json:"previousStatus"`
	Status         enums.ReconciliationStatus `json:"status"`
}

// BackfillStats reports an audit backfill.
type BackfillStats struct {
	Examined int `json:"examined"`
	Written  int `json:"written"`
}

// NewService builds the reconciliation service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Records == nil:
		return nil, fmt.Errorf("records repository required")
	case params.Results == nil:
		return nil, fmt.Errorf("results repository required")
	case params.Jobs == nil:
		return nil, fmt.Errorf("upload job loader required")
	case params.Editor == nil:
		return nil, fmt.Errorf("record editor required")
	case params.Engine == nil:
		return nil, fmt.Errorf("matching engine required")
	case params.Coordinator == nil:
		return nil, fmt.Errorf("recompute coordinator required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit store required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		records:     params.Records,
		results:     params.Results,
		jobs:        params.Jobs,
		editor:      params.Editor,
		engine:      params.Engine,
		coordinator: params.Coordinator,
		audit:       params.Audit,
		tx:          params.Tx,
		logg:        params.Logger,
	}, nil
}

// JobReport resolves reused jobs to the job whose records they alias.
func (s *service) JobReport(ctx context.Context, jobID uuid.UUID) (*JobReport, error) {
	if jobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load upload job")
	}

	effective := job.EffectiveID()
	rows, err := s.records.ListRows(ctx, records.ListFilter{UploadJobID: &effective})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job records")
	}
	views := make([]records.RecordView, 0, len(rows))
	for _, row := range rows {
		views = append(views, records.ViewOf(row))
	}
	summary := Summarize(views)
	return &JobReport{
		JobID:           job.ID,
		JobStatus:       job.Status,
		ReusedFromJobID: job.ReusedFromJobID,
		Summary:         summary,
		Chart:           summary.Chart(),
		Records:         views,
	}, nil
}

func (s *service) GlobalSummary(ctx context.Context, filter SummaryFilter) (*Summary, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "endDate must not precede startDate")
	}
	rows, err := s.records.ListRows(ctx, records.ListFilter{
		Status:      filter.Status,
		CreatedFrom: filter.StartDate,
		CreatedTo:   filter.EndDate,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load records")
	}
	views := make([]records.RecordView, 0, len(rows))
	for _, row := range rows {
		views = append(views, records.ViewOf(row))
	}
	summary := Summarize(views)
	return &summary, nil
}

// ManualCorrect edits a reconciled record and reclassifies it in the same transaction,
// then sweeps the rest of the population.
func (s *service) ManualCorrect(ctx context.Context, recordID uuid.UUID, input records.UpdateInput, actor *uuid.UUID) (*CorrectionResult, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}

	var out CorrectionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		results := s.results.WithTx(tx)
		current, err := results.FindByRecordID(ctx, recordID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reconciliation result not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation result")
		}

		edit, err := s.editor.Apply(ctx, tx, recordID, input, actor, enums.AuditSourceManualEdit)
		if err != nil {
			return err
		}

		status, err := s.engine.Classify(ctx, s.records.WithTx(tx), records.CandidateOf(&edit.After), matching.ClassifyOptions{ExcludeID: recordID})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "classify record")
		}

		out.PreviousStatus = current.Status
		out.Status = status
		if status == current.Status {
			return nil
		}
		if err := results.UpdateStatus(ctx, current.ID, status, current.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return pkgerrors.New(pkgerrors.CodeConflict, "reconciliation result was modified by another request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reconciliation result")
		}
		from := current.Status
		return s.audit.Record(ctx, tx, audit.StatusChange(recordID, edit.After.UploadJobID, &from, status, actor, enums.AuditSourceManualEdit))
	})
	if err != nil {
		return nil, err
	}

	if err := s.coordinator.RecomputeAll(ctx, actor, enums.AuditSourceReconciliation); err != nil {
		s.logg.Error(s.logg.WithRecordID(ctx, recordID.String()), "recompute after manual correction failed", err)
	}

	rows, err := s.records.ListRows(ctx, records.ListFilter{RecordID: &recordID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload record")
	}
	if len(rows) > 0 {
		out.Record = records.ViewOf(rows[0])
		out.Status = out.Record.Status
	}
	return &out, nil
}

// Backfill writes a SYSTEM reconciliationStatus entry for every result that has none.
func (s *service) Backfill(ctx context.Context, actor *uuid.UUID) (*BackfillStats, error) {
	covered, err := s.audit.RecordIDsWithField(ctx, audit.FieldReconciliationStatus)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load audited records")
	}
	results, err := s.results.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation results")
	}

	stats := &BackfillStats{Examined: len(results)}
	var entries []audit.Entry
	for _, res := range results {
		if _, ok := covered[res.RecordID]; ok {
			continue
		}
		entries = append(entries, audit.StatusChange(res.RecordID, res.UploadJobID, nil, res.Status, actor, enums.AuditSourceSystem))
	}
	if len(entries) == 0 {
		return stats, nil
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.audit.Record(ctx, tx, entries...)
	}); err != nil {
		return nil, err
	}
	stats.Written = len(entries)
	s.logg.Info(s.logg.WithField(ctx, "written", stats.Written), "audit backfill complete")
	return stats, nil
}
