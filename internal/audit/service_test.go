package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

func newService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, conn
}

func sampleRecord() *models.Record {
	job := uuid.New()
	return &models.Record{
		ID:              uuid.New(),
		TransactionID:   "TX-1",
		Amount:          decimal.RequireFromString("100.50"),
		ReferenceNumber: "REF-1",
		TransactionDate: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		UploadJobID:     &job,
	}
}

func TestRecordAndTimelineOrder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	rec := sampleRecord()
	actor := uuid.New()
	matched := enums.ReconciliationStatusUnmatched

	require.NoError(t, svc.Record(ctx, nil,
		RecordCreated(rec, &actor, enums.AuditSourceUpload),
		StatusChange(rec.ID, rec.UploadJobID, nil, enums.ReconciliationStatusUnmatched, &actor, enums.AuditSourceReconciliation),
	))
	require.NoError(t, svc.Record(ctx, nil,
		StatusChange(rec.ID, rec.UploadJobID, &matched, enums.ReconciliationStatusMatched, nil, enums.AuditSourceReconciliation),
	))

	timeline, err := svc.Timeline(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, FieldRecordCreated, timeline[0].Field)
	assert.Equal(t, FieldReconciliationStatus, timeline[1].Field)
	assert.True(t, timeline[1].OldValue.IsNull())
	assert.JSONEq(t, `"UNMATCHED"`, string(timeline[1].NewValue))
	assert.JSONEq(t, `"UNMATCHED"`, string(timeline[2].OldValue))
	assert.JSONEq(t, `"MATCHED"`, string(timeline[2].NewValue))
	assert.Nil(t, timeline[2].ChangedBy)

	var created map[string]string
	require.NoError(t, timeline[0].NewValue.Decode(&created))
	assert.Equal(t, "100.5", created[FieldAmount])
	assert.Equal(t, "2025-03-14", created[FieldTransactionDate])
}

func TestRecordRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	svc, conn := newService(t)
	rec := sampleRecord()

	cases := map[string]Entry{
		"unknown source":     {RecordID: &rec.ID, EntityType: enums.AuditEntityRecord, Field: "amount", Source: "ROBOT"},
		"user source record": {RecordID: &rec.ID, EntityType: enums.AuditEntityRecord, Field: "amount", Source: enums.AuditSourceUserManagement},
		"record source user": {TargetUserID: &rec.ID, EntityType: enums.AuditEntityUser, Field: "role", Source: enums.AuditSourceUpload},
		"missing field":      {RecordID: &rec.ID, EntityType: enums.AuditEntityRecord, Source: enums.AuditSourceSystem},
		"missing record id":  {EntityType: enums.AuditEntityRecord, Field: "amount", Source: enums.AuditSourceSystem},
		"missing target":     {EntityType: enums.AuditEntityUser, Field: "role", Source: enums.AuditSourceUserManagement},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			err := svc.Record(ctx, nil, RecordCreated(rec, nil, enums.AuditSourceUpload), entry)
			require.Error(t, err)
		})
	}

	var count int64
	require.NoError(t, conn.Model(&models.AuditLogEntry{}).Count(&count).Error)
	assert.Zero(t, count, "a rejected batch must not partially persist")
}

func TestEntriesCannotBeMutated(t *testing.T) {
	ctx := context.Background()
	svc, conn := newService(t)
	rec := sampleRecord()
	require.NoError(t, svc.Record(ctx, nil, RecordCreated(rec, nil, enums.AuditSourceUpload)))

	entries, err := svc.Timeline(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]

	err = conn.Model(&models.AuditLogEntry{}).Where("id = ?", entry.ID).Update("field", "tampered").Error
	require.Error(t, err)
	err = conn.Where("id = ?", entry.ID).Delete(&models.AuditLogEntry{}).Error
	require.Error(t, err)

	after, err := svc.Timeline(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, FieldRecordCreated, after[0].Field)
}

func TestRecordRollsBackWithEnclosingTransaction(t *testing.T) {
	ctx := context.Background()
	svc, conn := newService(t)
	rec := sampleRecord()

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Record(ctx, tx, RecordCreated(rec, nil, enums.AuditSourceUpload)); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "mutation failed")
	})
	require.Error(t, err)

	entries, err := svc.Timeline(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSearchFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	recA, recB := sampleRecord(), sampleRecord()
	target := uuid.New()

	require.NoError(t, svc.Record(ctx, nil,
		RecordCreated(recA, nil, enums.AuditSourceUpload),
		RecordCreated(recB, nil, enums.AuditSourceUpload),
		StatusChange(recB.ID, recB.UploadJobID, nil, enums.ReconciliationStatusDuplicate, nil, enums.AuditSourceReconciliation),
		RoleChange(target, enums.UserRoleViewer, enums.UserRoleAnalyst, nil),
	))

	all, err := svc.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, FieldRole, all[0].Field, "newest first")

	source := enums.AuditSourceUpload
	uploads, err := svc.Search(ctx, Filter{Source: &source})
	require.NoError(t, err)
	assert.Len(t, uploads, 2)

	byJob, err := svc.Search(ctx, Filter{UploadJobID: recB.UploadJobID})
	require.NoError(t, err)
	assert.Len(t, byJob, 2)

	limited, err := svc.Search(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	bad := enums.AuditSource("nope")
	_, err = svc.Search(ctx, Filter{Source: &bad})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	ids, err := svc.RecordIDsWithField(ctx, FieldReconciliationStatus)
	require.NoError(t, err)
	assert.Contains(t, ids, recB.ID)
	assert.NotContains(t, ids, recA.ID)
}

func TestTimelineRequiresRecordID(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Timeline(context.Background(), uuid.Nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type captureRepo struct {
	Repository
	limit int
}

func (c *captureRepo) List(_ context.Context, f Filter) ([]models.AuditLogEntry, error) {
	c.limit = f.Limit
	return nil, nil
}

func TestSearchClampsLimit(t *testing.T) {
	repo := &captureRepo{}
	svc, err := NewService(repo)
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), Filter{Limit: 10_000})
	require.NoError(t, err)
	assert.Equal(t, MaxSearchLimit, repo.limit)

	_, err = svc.Search(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSearchLimit, repo.limit)
}
