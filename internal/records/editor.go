package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entries ...audit.Entry) error
}

// UpdateInput carries a partial edit. Nil fields are left unchanged. Version, when set,
// must equal the stored version.
type UpdateInput struct {
	TransactionID   *string
	Amount          *decimal.Decimal
	ReferenceNumber *string
	TransactionDate *time.Time
	Version         *int
}

func (in UpdateInput) empty() bool {
	return in.TransactionID == nil && in.Amount == nil && in.ReferenceNumber == nil && in.TransactionDate == nil
}

// EditResult describes what an edit changed.
type EditResult struct {
	Before  models.Record
	After   models.Record
	Changes []audit.Entry
}

func (r EditResult) Changed() bool {
	return len(r.Changes) > 0
}

// Editor applies record edits with an optimistic version check and writes one audit
// entry per changed tracked field in the caller's transaction.
type Editor struct {
	repo  Repository
	audit auditRecorder
}

func NewEditor(repo Repository, recorder auditRecorder) (*Editor, error) {
	if repo == nil {
		return nil, errors.New("records repository required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder required")
	}
	return &Editor{repo: repo, audit: recorder}, nil
}

func (e *Editor) Apply(ctx context.Context, tx *gorm.DB, id uuid.UUID, in UpdateInput, actor *uuid.UUID, source enums.AuditSource) (*EditResult, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}
	if in.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}
	if in.TransactionID != nil && strings.TrimSpace(*in.TransactionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transactionId cannot be empty")
	}

	repo := e.repo.WithTx(tx)
	rec, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load record")
	}
	if in.Version != nil && *in.Version != rec.Version {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "record was modified by another request").
			WithDetails(map[string]int{"currentVersion": rec.Version})
	}

	before := *rec
	after := *rec
	if in.TransactionID != nil {
		after.TransactionID = strings.TrimSpace(*in.TransactionID)
	}
	if in.Amount != nil {
		after.Amount = *in.Amount
	}
	if in.ReferenceNumber != nil {
		after.ReferenceNumber = strings.TrimSpace(*in.ReferenceNumber)
	}
	if in.TransactionDate != nil {
		after.TransactionDate = DateOnly(*in.TransactionDate)
	}

	changes := audit.FieldDiff(rec.ID, rec.UploadJobID, audit.SnapshotOf(&before), audit.SnapshotOf(&after), actor, source)
	result := &EditResult{Before: before, After: after, Changes: changes}
	if !result.Changed() {
		return result, nil
	}

	if err := repo.UpdateFields(ctx, &after, before.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "record was modified by another request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update record")
	}
	result.After = after

	if err := e.audit.Record(ctx, tx, changes...); err != nil {
		return nil, err
	}
	return result, nil
}
