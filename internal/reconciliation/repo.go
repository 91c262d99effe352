package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// ErrVersionConflict is returned when a status write loses an optimistic race.
var ErrVersionConflict = errors.New("reconciliation result version conflict")

// ResultRepository manages persistence for reconciliation results.
type ResultRepository interface {
	WithTx(tx *gorm.DB) ResultRepository
	Create(ctx context.Context, res *models.ReconciliationResult) error
	FindByRecordID(ctx context.Context, recordID uuid.UUID) (*models.ReconciliationResult, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.ReconciliationStatus, expectedVersion int) error
	ExistsForJob(ctx context.Context, uploadJobID uuid.UUID) (bool, error)
	ListAll(ctx context.Context) ([]models.ReconciliationResult, error)
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository returns a result repository bound to the provided database.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) WithTx(tx *gorm.DB) ResultRepository {
	if tx == nil {
		return r
	}
	return &resultRepository{db: tx}
}

func (r *resultRepository) Create(ctx context.Context, res *models.ReconciliationResult) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *resultRepository) FindByRecordID(ctx context.Context, recordID uuid.UUID) (*models.ReconciliationResult, error) {
	var res models.ReconciliationResult
	if err := r.db.WithContext(ctx).Where("record_id = ?", recordID).First(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *resultRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.ReconciliationStatus, expectedVersion int) error {
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"status":     status,
			"version":    expectedVersion + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *resultRepository) ExistsForJob(ctx context.Context, uploadJobID uuid.UUID) (bool, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.ReconciliationResult{}).
		Where("upload_job_id = ?", uploadJobID).
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *resultRepository) ListAll(ctx context.Context) ([]models.ReconciliationResult, error) {
	var out []models.ReconciliationResult
	if err := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
