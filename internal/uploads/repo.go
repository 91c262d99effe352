package uploads

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

const defaultListLimit = 100

// Repository persists upload jobs. Status changes are compare-and-set on the current status
// so a job never leaves COMPLETED or FAILED.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.UploadJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.UploadJob, error)
	List(ctx context.Context, filter ListFilter) ([]models.UploadJob, error)
	FindReuseSource(ctx context.Context, fileHash, mappingHash string, exclude uuid.UUID) (*models.UploadJob, error)
	FindProcessing(ctx context.Context, fileHash, mappingHash string, exclude uuid.UUID) (*models.UploadJob, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadJob, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, mapping map[string]string, mappingHash string) (bool, error)
	MarkReused(ctx context.Context, id uuid.UUID, mapping map[string]string, mappingHash string, source uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	UpdateCounters(ctx context.Context, id uuid.UUID, total, ingested, skipped int) error
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	UploadedBy *uuid.UUID
	Status     *enums.UploadJobStatus
	Limit      int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an upload job repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *models.UploadJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	var job models.UploadJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.UploadJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := r.db.WithContext(ctx).Model(&models.UploadJob{})
	if filter.UploadedBy != nil {
		q = q.Where("uploaded_by = ?", *filter.UploadedBy)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	var jobs []models.UploadJob
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// FindReuseSource returns the most recent COMPLETED job that ingested the same pair itself.
// Aliased jobs are skipped so reuse never chains.
func (r *repository) FindReuseSource(ctx context.Context, fileHash, mappingHash string, exclude uuid.UUID) (*models.UploadJob, error) {
	return r.findByPair(ctx, fileHash, mappingHash, exclude, enums.UploadJobStatusCompleted, true)
}

func (r *repository) FindProcessing(ctx context.Context, fileHash, mappingHash string, exclude uuid.UUID) (*models.UploadJob, error) {
	return r.findByPair(ctx, fileHash, mappingHash, exclude, enums.UploadJobStatusProcessing, false)
}

func (r *repository) findByPair(ctx context.Context, fileHash, mappingHash string, exclude uuid.UUID, status enums.UploadJobStatus, ownResultsOnly bool) (*models.UploadJob, error) {
	q := r.db.WithContext(ctx).
		Where("file_hash = ? AND mapping_hash = ? AND status = ? AND id <> ?", fileHash, mappingHash, status, exclude)
	if ownResultsOnly {
		q = q.Where("reused_from_job_id IS NULL")
	}
	var job models.UploadJob
	err := q.Order("completed_at DESC").Order("created_at DESC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var jobs []models.UploadJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.UploadJobStatusProcessing, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) MarkProcessing(ctx context.Context, id uuid.UUID, mapping map[string]string, mappingHash string) (bool, error) {
	hash := mappingHash
	return r.transition(ctx, id, []enums.UploadJobStatus{enums.UploadJobStatusUploaded}, &models.UploadJob{
		Status:      enums.UploadJobStatusProcessing,
		Mapping:     mapping,
		MappingHash: &hash,
	}, "status", "mapping", "mapping_hash")
}

func (r *repository) MarkReused(ctx context.Context, id uuid.UUID, mapping map[string]string, mappingHash string, source uuid.UUID) (bool, error) {
	hash := mappingHash
	now := time.Now().UTC()
	return r.transition(ctx, id, []enums.UploadJobStatus{enums.UploadJobStatusUploaded}, &models.UploadJob{
		Status:          enums.UploadJobStatusCompleted,
		Mapping:         mapping,
		MappingHash:     &hash,
		ReusedFromJobID: &source,
		CompletedAt:     &now,
	}, "status", "mapping", "mapping_hash", "reused_from_job_id", "completed_at")
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	return r.transition(ctx, id, []enums.UploadJobStatus{enums.UploadJobStatusUploaded, enums.UploadJobStatusProcessing}, &models.UploadJob{
		Status:      enums.UploadJobStatusCompleted,
		CompletedAt: &now,
	}, "status", "completed_at")
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	now := time.Now().UTC()
	return r.transition(ctx, id, []enums.UploadJobStatus{enums.UploadJobStatusUploaded, enums.UploadJobStatusProcessing}, &models.UploadJob{
		Status:        enums.UploadJobStatusFailed,
		FailureReason: &reason,
		CompletedAt:   &now,
	}, "status", "failure_reason", "completed_at")
}

func (r *repository) transition(ctx context.Context, id uuid.UUID, from []enums.UploadJobStatus, values *models.UploadJob, columns ...string) (bool, error) {
	values.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.UploadJob{}).
		Where("id = ? AND status IN ?", id, from).
		Select(append(columns, "updated_at")).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpdateCounters(ctx context.Context, id uuid.UUID, total, ingested, skipped int) error {
	return r.db.WithContext(ctx).
		Model(&models.UploadJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"rows_total":    total,
			"rows_ingested": ingested,
			"rows_skipped":  skipped,
			"updated_at":    time.Now().UTC(),
		}).Error
}
