package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/matching"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// ErrVersionConflict is returned when an optimistic update loses a race.
var ErrVersionConflict = errors.New("record version conflict")

// Repository manages persistence for records. It also answers matching population
// queries against the durable store.
type Repository interface {
	matching.Population

	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, rec *models.Record) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	UpdateFields(ctx context.Context, rec *models.Record, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListAll(ctx context.Context) ([]models.Record, error)
	ListByUploadJob(ctx context.Context, uploadJobID uuid.UUID) ([]models.Record, error)
	ListRows(ctx context.Context, filter ListFilter) ([]Row, error)
}

// ListFilter narrows ListRows.
type ListFilter struct {
	RecordID    *uuid.UUID
	UploadJobID *uuid.UUID
	Status      *enums.ReconciliationStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Row is a record joined with its current status and upload metadata.
type Row struct {
	models.Record
	Status           *enums.ReconciliationStatus `gorm:"column:status"`
	OriginalFileName *string                     `gorm:"column:original_file_name"`
	UploadedBy       *uuid.UUID                  `gorm:"column:uploaded_by"`
	UploadedAt       *time.Time                  `gorm:"column:uploaded_at"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a record repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, rec *models.Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	var rec models.Record
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateFields writes the tracked fields and bumps the version when the stored version
// still equals expectedVersion.
func (r *repository) UpdateFields(ctx context.Context, rec *models.Record, expectedVersion int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Record{}).
		Where("id = ? AND version = ?", rec.ID, expectedVersion).
		Updates(map[string]any{
			"transaction_id":   rec.TransactionID,
			"amount":           rec.Amount,
			"reference_number": rec.ReferenceNumber,
			"transaction_date": rec.TransactionDate,
			"version":          expectedVersion + 1,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	return nil
}

// Delete removes the record and its reconciliation result.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("record_id = ?", id).Delete(&models.ReconciliationResult{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&models.Record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListAll(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	if err := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListByUploadJob(ctx context.Context, uploadJobID uuid.UUID) ([]models.Record, error) {
	var out []models.Record
	if err := r.db.WithContext(ctx).
		Where("upload_job_id = ?", uploadJobID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ListRows(ctx context.Context, filter ListFilter) ([]Row, error) {
	q := r.db.WithContext(ctx).
		Table("records AS r").
		Select(`r.*, rr.status AS status, uj.original_file_name AS original_file_name,
			uj.uploaded_by AS uploaded_by, uj.created_at AS uploaded_at`).
		Joins("LEFT JOIN reconciliation_results rr ON rr.record_id = r.id").
		Joins("LEFT JOIN upload_jobs uj ON uj.id = r.upload_job_id")
	if filter.RecordID != nil {
		q = q.Where("r.id = ?", *filter.RecordID)
	}
	if filter.UploadJobID != nil {
		q = q.Where("r.upload_job_id = ?", *filter.UploadJobID)
	}
	if filter.Status != nil {
		if *filter.Status == enums.ReconciliationStatusUnmatched {
			q = q.Where("(rr.status = ? OR rr.status IS NULL)", *filter.Status)
		} else {
			q = q.Where("rr.status = ?", *filter.Status)
		}
	}
	if filter.CreatedFrom != nil {
		q = q.Where("r.created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		q = q.Where("r.created_at <= ?", *filter.CreatedTo)
	}

	var rows []Row
	if err := q.Order("r.created_at ASC").Order("r.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) scoped(ctx context.Context, scope matching.Scope) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Record{})
	if scope.ExcludeID != uuid.Nil {
		q = q.Where("id <> ?", scope.ExcludeID)
	}
	if scope.JobScoped {
		if scope.UploadJobID == nil {
			q = q.Where("upload_job_id IS NULL")
		} else {
			q = q.Where("upload_job_id = ?", *scope.UploadJobID)
		}
	}
	return q
}

func exists(q *gorm.DB) (bool, error) {
	var ids []uuid.UUID
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *repository) HasTransactionID(ctx context.Context, transactionID string, scope matching.Scope) (bool, error) {
	return exists(r.scoped(ctx, scope).Where("transaction_id = ?", transactionID))
}

func (r *repository) HasExact(ctx context.Context, transactionID string, amount decimal.Decimal, scope matching.Scope) (bool, error) {
	return exists(r.scoped(ctx, scope).Where("transaction_id = ? AND amount = ?", transactionID, amount))
}

func (r *repository) HasReferenceInRange(ctx context.Context, reference string, low, high decimal.Decimal, scope matching.Scope) (bool, error) {
	if reference == "" {
		return false, nil
	}
	return exists(r.scoped(ctx, scope).Where("reference_number = ? AND amount BETWEEN ? AND ?", reference, low, high))
}

// CandidateOf projects a record for the matching engine.
func CandidateOf(rec *models.Record) matching.Candidate {
	return matching.Candidate{
		ID:              rec.ID,
		UploadJobID:     rec.UploadJobID,
		TransactionID:   rec.TransactionID,
		Amount:          rec.Amount,
		ReferenceNumber: rec.ReferenceNumber,
	}
}
