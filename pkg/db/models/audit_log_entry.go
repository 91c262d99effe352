package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/ledgermatch-backend/pkg/db/types"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// AuditLogEntry is an immutable historical fact. References are plain ids with no
// foreign keys so entries outlive the rows they describe.
type AuditLogEntry struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	RecordID     *uuid.UUID            `gorm:"column:record_id;type:uuid"`
	UploadJobID  *uuid.UUID            `gorm:"column:upload_job_id;type:uuid"`
	TargetUserID *uuid.UUID            `gorm:"column:target_user_id;type:uuid"`
	EntityType   enums.AuditEntityType `gorm:"column:entity_type;type:text;not null"`
	Field        string                `gorm:"column:field;type:text;not null"`
	OldValue     dbtypes.JSONValue     `gorm:"column:old_value;type:jsonb"`
	NewValue     dbtypes.JSONValue     `gorm:"column:new_value;type:jsonb"`
	ChangedBy    *uuid.UUID            `gorm:"column:changed_by;type:uuid"`
	Source       enums.AuditSource     `gorm:"column:source;type:text;not null"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (AuditLogEntry) TableName() string { return "audit_log_entries" }

// BeforeCreate assigns a time-ordered id so entries sharing a timestamp keep insertion order.
func (e *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		e.ID = id
	}
	return nil
}
