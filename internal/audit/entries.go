package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

// Field names written to audit_log_entries.field.
const (
	FieldTransactionID        = "transactionId"
	FieldAmount               = "amount"
	FieldReferenceNumber      = "referenceNumber"
	FieldTransactionDate      = "transactionDate"
	FieldRecordCreated        = "recordCreated"
	FieldRecordDeleted        = "recordDeleted"
	FieldReconciliationStatus = "reconciliationStatus"
	FieldRole                 = "role"
	FieldIsActive             = "isActive"
)

// TrackedFields are compared by FieldDiff, in emission order.
var TrackedFields = []string{
	FieldTransactionID,
	FieldAmount,
	FieldReferenceNumber,
	FieldTransactionDate,
}

// DateLayout renders transaction dates in audit values and API payloads.
const DateLayout = "2006-01-02"

// Entry is one audit fact before persistence. OldValue and NewValue are marshalled as JSON.
type Entry struct {
	RecordID     *uuid.UUID
	UploadJobID  *uuid.UUID
	TargetUserID *uuid.UUID
	EntityType   enums.AuditEntityType
	Field        string
	OldValue     any
	NewValue     any
	ChangedBy    *uuid.UUID
	Source       enums.AuditSource
}

// Snapshot is the tracked state of a record at one point in time.
type Snapshot struct {
	TransactionID   string
	Amount          decimal.Decimal
	ReferenceNumber string
	TransactionDate time.Time
}

func SnapshotOf(r *models.Record) Snapshot {
	return Snapshot{
		TransactionID:   r.TransactionID,
		Amount:          r.Amount,
		ReferenceNumber: r.ReferenceNumber,
		TransactionDate: r.TransactionDate,
	}
}

// Values renders every tracked field with the normalisation FieldDiff compares on:
// trimmed strings, amounts without trailing zeros, dates as UTC calendar days.
func (s Snapshot) Values() map[string]string {
	return map[string]string{
		FieldTransactionID:   strings.TrimSpace(s.TransactionID),
		FieldAmount:          NormalizeAmount(s.Amount),
		FieldReferenceNumber: strings.TrimSpace(s.ReferenceNumber),
		FieldTransactionDate: NormalizeDate(s.TransactionDate),
	}
}

func NormalizeAmount(d decimal.Decimal) string {
	return d.String()
}

func NormalizeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// FieldDiff emits one MANUAL_EDIT-style entry per tracked field whose normalised value
// changed between before and after.
func FieldDiff(recordID uuid.UUID, uploadJobID *uuid.UUID, before, after Snapshot, changedBy *uuid.UUID, source enums.AuditSource) []Entry {
	oldVals, newVals := before.Values(), after.Values()
	var out []Entry
	for _, field := range TrackedFields {
		if oldVals[field] == newVals[field] {
			continue
		}
		out = append(out, Entry{
			RecordID:    uuidPtr(recordID),
			UploadJobID: uploadJobID,
			EntityType:  enums.AuditEntityRecord,
			Field:       field,
			OldValue:    oldVals[field],
			NewValue:    newVals[field],
			ChangedBy:   changedBy,
			Source:      source,
		})
	}
	return out
}

func RecordCreated(r *models.Record, changedBy *uuid.UUID, source enums.AuditSource) Entry {
	return Entry{
		RecordID:    uuidPtr(r.ID),
		UploadJobID: r.UploadJobID,
		EntityType:  enums.AuditEntityRecord,
		Field:       FieldRecordCreated,
		NewValue:    SnapshotOf(r).Values(),
		ChangedBy:   changedBy,
		Source:      source,
	}
}

// RecordDeleted keeps the last state of a removed record.
func RecordDeleted(r *models.Record, changedBy *uuid.UUID, source enums.AuditSource) Entry {
	return Entry{
		RecordID:    uuidPtr(r.ID),
		UploadJobID: r.UploadJobID,
		EntityType:  enums.AuditEntityRecord,
		Field:       FieldRecordDeleted,
		OldValue:    SnapshotOf(r).Values(),
		ChangedBy:   changedBy,
		Source:      source,
	}
}

// StatusChange records a reconciliation status transition; a nil from means the result
// did not exist before.
func StatusChange(recordID uuid.UUID, uploadJobID *uuid.UUID, from *enums.ReconciliationStatus, to enums.ReconciliationStatus, changedBy *uuid.UUID, source enums.AuditSource) Entry {
	var old any
	if from != nil {
		old = string(*from)
	}
	return Entry{
		RecordID:    uuidPtr(recordID),
		UploadJobID: uploadJobID,
		EntityType:  enums.AuditEntityRecord,
		Field:       FieldReconciliationStatus,
		OldValue:    old,
		NewValue:    string(to),
		ChangedBy:   changedBy,
		Source:      source,
	}
}

func RoleChange(targetUserID uuid.UUID, from, to enums.UserRole, changedBy *uuid.UUID) Entry {
	return Entry{
		TargetUserID: uuidPtr(targetUserID),
		EntityType:   enums.AuditEntityUser,
		Field:        FieldRole,
		OldValue:     string(from),
		NewValue:     string(to),
		ChangedBy:    changedBy,
		Source:       enums.AuditSourceUserManagement,
	}
}

func ActiveChange(targetUserID uuid.UUID, from, to bool, changedBy *uuid.UUID) Entry {
	return Entry{
		TargetUserID: uuidPtr(targetUserID),
		EntityType:   enums.AuditEntityUser,
		Field:        FieldIsActive,
		OldValue:     from,
		NewValue:     to,
		ChangedBy:    changedBy,
		Source:       enums.AuditSourceUserManagement,
	}
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
