package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/ledgermatch-backend/pkg/db/types"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 500
)

// Service is the only write path into the audit log.
type Service interface {
	// Record appends entries inside tx (or standalone when tx is nil). Any failure must
	// abort the caller's mutation.
	Record(ctx context.Context, tx *gorm.DB, entries ...Entry) error
	Timeline(ctx context.Context, recordID uuid.UUID) ([]models.AuditLogEntry, error)
	Search(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error)
	RecordIDsWithField(ctx context.Context, field string) (map[uuid.UUID]struct{}, error)
}

type service struct {
	repo Repository
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]models.AuditLogEntry, 0, len(entries))
	for i, e := range entries {
		row, err := toModel(e)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("invalid audit entry %d", i))
		}
		rows = append(rows, row)
	}
	if err := s.repo.WithTx(tx).CreateBatch(ctx, rows); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit log")
	}
	return nil
}

func (s *service) Timeline(ctx context.Context, recordID uuid.UUID) ([]models.AuditLogEntry, error) {
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id is required")
	}
	entries, err := s.repo.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load audit timeline")
	}
	return entries, nil
}

func (s *service) Search(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultSearchLimit
	case filter.Limit > MaxSearchLimit:
		filter.Limit = MaxSearchLimit
	}
	if filter.Source != nil && !filter.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid audit source")
	}
	if filter.EntityType != nil && !filter.EntityType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid audit entity type")
	}
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search audit log")
	}
	return entries, nil
}

func (s *service) RecordIDsWithField(ctx context.Context, field string) (map[uuid.UUID]struct{}, error) {
	return s.repo.RecordIDsWithField(ctx, field)
}

func toModel(e Entry) (models.AuditLogEntry, error) {
	if !e.EntityType.IsValid() {
		return models.AuditLogEntry{}, fmt.Errorf("invalid entity type %q", e.EntityType)
	}
	if !e.Source.IsValid() {
		return models.AuditLogEntry{}, fmt.Errorf("invalid source %q", e.Source)
	}
	if !e.EntityType.Allows(e.Source) {
		return models.AuditLogEntry{}, fmt.Errorf("source %s cannot describe %s", e.Source, e.EntityType)
	}
	if strings.TrimSpace(e.Field) == "" {
		return models.AuditLogEntry{}, fmt.Errorf("field is required")
	}
	if e.EntityType == enums.AuditEntityRecord && e.RecordID == nil {
		return models.AuditLogEntry{}, fmt.Errorf("record entries need a record id")
	}
	if e.EntityType == enums.AuditEntityUser && e.TargetUserID == nil {
		return models.AuditLogEntry{}, fmt.Errorf("user entries need a target user id")
	}

	oldVal, err := dbtypes.NewJSONValue(e.OldValue)
	if err != nil {
		return models.AuditLogEntry{}, err
	}
	newVal, err := dbtypes.NewJSONValue(e.NewValue)
	if err != nil {
		return models.AuditLogEntry{}, err
	}

	return models.AuditLogEntry{
		RecordID:     e.RecordID,
		UploadJobID:  e.UploadJobID,
		TargetUserID: e.TargetUserID,
		EntityType:   e.EntityType,
		Field:        e.Field,
		OldValue:     oldVal,
		NewValue:     newVal,
		ChangedBy:    e.ChangedBy,
		Source:       e.Source,
	}, nil
}
