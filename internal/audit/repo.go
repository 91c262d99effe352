package audit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// Repository appends and reads audit entries. It deliberately has no update or delete.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	CreateBatch(ctx context.Context, entries []models.AuditLogEntry) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]models.AuditLogEntry, error)
	List(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error)
	RecordIDsWithField(ctx context.Context, field string) (map[uuid.UUID]struct{}, error)
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	RecordID     *uuid.UUID
	UploadJobID  *uuid.UUID
	TargetUserID *uuid.UUID
	EntityType   *enums.AuditEntityType
	Source       *enums.AuditSource
	Field        string
	Limit        int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) CreateBatch(ctx context.Context, entries []models.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	if err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLogEntry{})
	if filter.RecordID != nil {
		q = q.Where("record_id = ?", *filter.RecordID)
	}
	if filter.UploadJobID != nil {
		q = q.Where("upload_job_id = ?", *filter.UploadJobID)
	}
	if filter.TargetUserID != nil {
		q = q.Where("target_user_id = ?", *filter.TargetUserID)
	}
	if filter.EntityType != nil {
		q = q.Where("entity_type = ?", *filter.EntityType)
	}
	if filter.Source != nil {
		q = q.Where("source = ?", *filter.Source)
	}
	if filter.Field != "" {
		q = q.Where("field = ?", filter.Field)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var entries []models.AuditLogEntry
	if err := q.Order("created_at DESC").Order("id DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) RecordIDsWithField(ctx context.Context, field string) (map[uuid.UUID]struct{}, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.AuditLogEntry{}).
		Where("field = ? AND record_id IS NOT NULL", field).
		Distinct().
		Pluck("record_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}
