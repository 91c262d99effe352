package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// ReconciliationResult holds the current classification of exactly one record.
type ReconciliationResult struct {
	ID          uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	RecordID    uuid.UUID                  `gorm:"column:record_id;type:uuid;not null;uniqueIndex"`
	UploadJobID *uuid.UUID                 `gorm:"column:upload_job_id;type:uuid"`
	Status      enums.ReconciliationStatus `gorm:"column:status;type:text;not null"`
	Version     int                        `gorm:"column:version;not null;default:1"`
	CreatedAt   time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ReconciliationResult) TableName() string { return "reconciliation_results" }

// BeforeCreate GORM hook
func (r *ReconciliationResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}
