package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Record is a single canonical bank transaction line.
type Record struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID   string          `gorm:"column:transaction_id;type:text;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,6);not null"`
	ReferenceNumber string          `gorm:"column:reference_number;type:text;not null;default:''"`
	TransactionDate time.Time       `gorm:"column:transaction_date;type:date;not null"`
	UploadJobID     *uuid.UUID      `gorm:"column:upload_job_id;type:uuid"`
	Version         int             `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Record) TableName() string { return "records" }

// BeforeCreate GORM hook
func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}
