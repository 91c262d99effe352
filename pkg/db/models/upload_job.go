package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// UploadJob is one attempt to ingest a stored file under a column mapping.
type UploadJob struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OriginalFileName string                `gorm:"column:original_file_name;type:text;not null"`
	StorageKey       string                `gorm:"column:storage_key;type:text;not null"`
	FileHash         string                `gorm:"column:file_hash;type:text;not null"`
	MappingHash      *string               `gorm:"column:mapping_hash;type:text"`
	Mapping          map[string]string     `gorm:"column:mapping;type:jsonb;serializer:json"`
	Headers          []string              `gorm:"column:headers;type:jsonb;serializer:json"`
	Status           enums.UploadJobStatus `gorm:"column:status;type:text;not null"`
	ReusedFromJobID  *uuid.UUID            `gorm:"column:reused_from_job_id;type:uuid"`
	UploadedBy       *uuid.UUID            `gorm:"column:uploaded_by;type:uuid"`
	FailureReason    *string               `gorm:"column:failure_reason;type:text"`
	RowsTotal        int                   `gorm:"column:rows_total;not null;default:0"`
	RowsIngested     int                   `gorm:"column:rows_ingested;not null;default:0"`
	RowsSkipped      int                   `gorm:"column:rows_skipped;not null;default:0"`
	CompletedAt      *time.Time            `gorm:"column:completed_at"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (UploadJob) TableName() string { return "upload_jobs" }

// BeforeCreate GORM hook
func (j *UploadJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// EffectiveID is the job whose records answer reads for this job.
func (j *UploadJob) EffectiveID() uuid.UUID {
	if j.ReusedFromJobID != nil {
		return *j.ReusedFromJobID
	}
	return j.ID
}
