package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Recomputer re-runs matching over the whole population after a mutation.
type Recomputer interface {
	RecomputeAll(ctx context.Context, changedBy *uuid.UUID, source enums.AuditSource) error
}

// Service defines record-level operations exposed to callers.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*RecordView, error)
	List(ctx context.Context, filter ListFilter) ([]UploadGroup, error)
	Create(ctx context.Context, input CreateInput, actor *uuid.UUID) (*RecordView, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput, actor *uuid.UUID) (*RecordView, error)
	Delete(ctx context.Context, id uuid.UUID, actor *uuid.UUID) error
}

// ServiceParams groups the collaborators of the record service.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Editor     *Editor
	Audit      auditRecorder
	Recomputer Recomputer
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	tx         txRunner
	editor     *Editor
	audit      auditRecorder
	recomputer Recomputer
	logg       *logger.Logger
}

// CreateInput is a manually entered record.
type CreateInput struct {
	TransactionID   string
	Amount          decimal.Decimal
	ReferenceNumber string
	TransactionDate time.Time
}

// RecordView is the API shape of a record and its current status.
type RecordView struct {
	ID              uuid.UUID                  `json:"id"`
	TransactionID   string                     `json:"transactionId"`
	Amount          decimal.Decimal            `json:"amount"`
	ReferenceNumber string                     `json:"referenceNumber"`
	TransactionDate string                     `json:"transactionDate"`
	UploadJobID     *uuid.UUID                 `json:"uploadJobId,omitempty"`
	Status          enums.ReconciliationStatus `json:"status"`
	Version         int                        `json:"version"`
	CreatedAt       time.Time                  `json:"createdAt"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
}

// UploadGroup is one section of the grouped record listing.
type UploadGroup struct {
	UploadJobID *uuid.UUID   `json:"uploadJobId"`
	FileName    string       `json:"fileName"`
	UploadedBy  *uuid.UUID   `json:"uploadedBy,omitempty"`
	UploadedAt  *time.Time   `json:"uploadedAt,omitempty"`
	Records     []RecordView `json:"records"`
}

// ManualGroupName labels records that did not come from an upload.
const ManualGroupName = "Manual entries"

// NewService builds the record service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("records repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Editor == nil {
		return nil, fmt.Errorf("record editor required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Recomputer == nil {
		return nil, fmt.Errorf("recomputer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		editor:     params.Editor,
		audit:      params.Audit,
		recomputer: params.Recomputer,
		logg:       params.Logger,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*RecordView, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}
	rows, err := s.repo.ListRows(ctx, ListFilter{RecordID: &id})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load record")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
	}
	view := ViewOf(rows[0])
	return &view, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]UploadGroup, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	rows, err := s.repo.ListRows(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list records")
	}
	return GroupByUpload(rows), nil
}

func (s *service) Create(ctx context.Context, input CreateInput, actor *uuid.UUID) (*RecordView, error) {
	input.TransactionID = strings.TrimSpace(input.TransactionID)
	if input.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transactionId is required")
	}
	if input.TransactionDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transactionDate is required")
	}

	rec := &models.Record{
		TransactionID:   input.TransactionID,
		Amount:          input.Amount,
		ReferenceNumber: strings.TrimSpace(input.ReferenceNumber),
		TransactionDate: DateOnly(input.TransactionDate),
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, rec); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create record")
		}
		return s.audit.Record(ctx, tx, audit.RecordCreated(rec, actor, enums.AuditSourceManualEdit))
	}); err != nil {
		return nil, err
	}

	s.recompute(ctx, rec.ID, actor)
	return s.Get(ctx, rec.ID)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput, actor *uuid.UUID) (*RecordView, error) {
	var result *EditResult
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.editor.Apply(ctx, tx, id, input, actor, enums.AuditSourceManualEdit)
		return err
	}); err != nil {
		return nil, err
	}

	if result.Changed() {
		s.recompute(ctx, id, actor)
	}
	return s.Get(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID, actor *uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rec, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load record")
		}
		if err := s.audit.Record(ctx, tx, audit.RecordDeleted(rec, actor, enums.AuditSourceManualEdit)); err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete record")
		}
		return nil
	}); err != nil {
		return err
	}

	s.recompute(ctx, id, actor)
	return nil
}

// recompute runs after the mutation committed. A failed sweep is logged rather than
// surfaced; the scheduled recompute converges the population later.
func (s *service) recompute(ctx context.Context, recordID uuid.UUID, actor *uuid.UUID) {
	if err := s.recomputer.RecomputeAll(ctx, actor, enums.AuditSourceReconciliation); err != nil {
		logCtx := s.logg.WithRecordID(ctx, recordID.String())
		s.logg.Error(logCtx, "recompute after record mutation failed", err)
	}
}

// ViewOf renders a joined row; a record without a result reads as UNMATCHED.
func ViewOf(row Row) RecordView {
	status := enums.ReconciliationStatusUnmatched
	if row.Status != nil {
		status = *row.Status
	}
	return RecordView{
		ID:              row.ID,
		TransactionID:   row.TransactionID,
		Amount:          row.Amount,
		ReferenceNumber: row.ReferenceNumber,
		TransactionDate: audit.NormalizeDate(row.TransactionDate),
		UploadJobID:     row.UploadJobID,
		Status:          status,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// GroupByUpload buckets rows per upload job, newest upload first, manual entries last.
func GroupByUpload(rows []Row) []UploadGroup {
	index := map[string]int{}
	var groups []UploadGroup
	for _, row := range rows {
		key := ""
		if row.UploadJobID != nil {
			key = row.UploadJobID.String()
		}
		pos, ok := index[key]
		if !ok {
			g := UploadGroup{UploadJobID: row.UploadJobID, FileName: ManualGroupName}
			if row.UploadJobID != nil {
				if row.OriginalFileName != nil {
					g.FileName = *row.OriginalFileName
				}
				g.UploadedBy = row.UploadedBy
				g.UploadedAt = row.UploadedAt
			}
			groups = append(groups, g)
			pos = len(groups) - 1
			index[key] = pos
		}
		groups[pos].Records = append(groups[pos].Records, ViewOf(row))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.UploadJobID == nil || b.UploadJobID == nil {
			return b.UploadJobID == nil && a.UploadJobID != nil
		}
		if a.UploadedAt == nil || b.UploadedAt == nil {
			return a.UploadedAt != nil
		}
		return a.UploadedAt.After(*b.UploadedAt)
	})
	return groups
}
