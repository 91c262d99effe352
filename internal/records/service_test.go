package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type fakeRecomputer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRecomputer) RecomputeAll(_ context.Context, _ *uuid.UUID, _ enums.AuditSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeRecomputer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc        Service
	repo       Repository
	audit      audit.Service
	recomputer *fakeRecomputer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)

	repo := NewRepository(conn)
	editor, err := NewEditor(repo, auditSvc)
	require.NoError(t, err)

	f := &fixture{repo: repo, audit: auditSvc, recomputer: &fakeRecomputer{}}
	f.svc, err = NewService(ServiceParams{
		Repo:       repo,
		Tx:         client,
		Editor:     editor,
		Audit:      auditSvc,
		Recomputer: f.recomputer,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, txn string, amount string) *RecordView {
	t.Helper()
	view, err := f.svc.Create(context.Background(), CreateInput{
		TransactionID:   txn,
		Amount:          decimal.RequireFromString(amount),
		ReferenceNumber: "REF-" + txn,
		TransactionDate: time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC),
	}, nil)
	require.NoError(t, err)
	return view
}

func (f *fixture) entries(t *testing.T, recordID uuid.UUID, field string) int {
	t.Helper()
	got, err := f.audit.Search(context.Background(), audit.Filter{RecordID: &recordID, Field: field})
	require.NoError(t, err)
	return len(got)
}

func ptr[T any](v T) *T { return &v }

func TestCreateWritesAuditAndRecomputes(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, " TX-1 ", "100.50")

	assert.Equal(t, "TX-1", view.TransactionID)
	assert.Equal(t, "2024-03-01", view.TransactionDate)
	assert.Equal(t, enums.ReconciliationStatusUnmatched, view.Status)
	assert.Equal(t, 1, view.Version)
	assert.Equal(t, 1, f.entries(t, view.ID, audit.FieldRecordCreated))
	assert.Equal(t, 1, f.recomputer.count())
}

func TestCreateRequiresTransactionID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{
		TransactionID:   "  ",
		TransactionDate: time.Now(),
	}, nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Zero(t, f.recomputer.count())
}

func TestUpdateAuditsEachChangedField(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "TX-1", "100")
	actor := uuid.New()

	amount := decimal.RequireFromString("120")
	updated, err := f.svc.Update(context.Background(), view.ID, UpdateInput{
		Amount:          &amount,
		ReferenceNumber: ptr("NEW-REF"),
		TransactionID:   ptr("TX-1"),
		Version:         ptr(1),
	}, &actor)
	require.NoError(t, err)

	assert.True(t, updated.Amount.Equal(amount))
	assert.Equal(t, "NEW-REF", updated.ReferenceNumber)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 1, f.entries(t, view.ID, audit.FieldAmount))
	assert.Equal(t, 1, f.entries(t, view.ID, audit.FieldReferenceNumber))
	assert.Zero(t, f.entries(t, view.ID, audit.FieldTransactionID))
	assert.Equal(t, 2, f.recomputer.count())
}

func TestUpdateWithoutChangesSkipsRecompute(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "TX-1", "100")

	same := decimal.RequireFromString("100.00")
	updated, err := f.svc.Update(context.Background(), view.ID, UpdateInput{Amount: &same}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, updated.Version)
	assert.Zero(t, f.entries(t, view.ID, audit.FieldAmount))
	assert.Equal(t, 1, f.recomputer.count())
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "TX-1", "100")

	_, err := f.svc.Update(context.Background(), view.ID, UpdateInput{
		ReferenceNumber: ptr("X"),
		Version:         ptr(7),
	}, nil)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Zero(t, f.entries(t, view.ID, audit.FieldReferenceNumber))
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "TX-1", "100")

	_, err := f.svc.Update(context.Background(), view.ID, UpdateInput{}, nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.Update(context.Background(), view.ID, UpdateInput{TransactionID: ptr(" ")}, nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.Update(context.Background(), uuid.New(), UpdateInput{ReferenceNumber: ptr("X")}, nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestDeleteKeepsAuditHistory(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "TX-1", "100")

	require.NoError(t, f.svc.Delete(context.Background(), view.ID, nil))

	_, err := f.svc.Get(context.Background(), view.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Equal(t, 1, f.entries(t, view.ID, audit.FieldRecordCreated))
	assert.Equal(t, 1, f.entries(t, view.ID, audit.FieldRecordDeleted))
	assert.Equal(t, 2, f.recomputer.count())

	err = f.svc.Delete(context.Background(), view.ID, nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestMutationSucceedsWhenRecomputeFails(t *testing.T) {
	f := newFixture(t)
	f.recomputer.err = errors.New("sweep failed")

	view := f.create(t, "TX-1", "100")
	assert.Equal(t, "TX-1", view.TransactionID)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	f.create(t, "TX-1", "100")

	bad := enums.ReconciliationStatus("BOGUS")
	_, err := f.svc.List(context.Background(), ListFilter{Status: &bad})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	unmatched := enums.ReconciliationStatusUnmatched
	groups, err := f.svc.List(context.Background(), ListFilter{Status: &unmatched})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, ManualGroupName, groups[0].FileName)
	assert.Len(t, groups[0].Records, 1)

	matched := enums.ReconciliationStatusMatched
	groups, err = f.svc.List(context.Background(), ListFilter{Status: &matched})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroupByUploadOrdersNewestFirstManualLast(t *testing.T) {
	older, newer := uuid.New(), uuid.New()
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	row := func(job *uuid.UUID, name string, at *time.Time) Row {
		r := Row{UploadedAt: at}
		r.ID = uuid.New()
		r.TransactionID = "T"
		r.UploadJobID = job
		if name != "" {
			r.OriginalFileName = &name
		}
		return r
	}

	groups := GroupByUpload([]Row{
		row(nil, "", nil),
		row(&older, "old.csv", &t1),
		row(&newer, "new.csv", &t2),
		row(&older, "old.csv", &t1),
	})

	require.Len(t, groups, 3)
	assert.Equal(t, "new.csv", groups[0].FileName)
	assert.Equal(t, "old.csv", groups[1].FileName)
	assert.Len(t, groups[1].Records, 2)
	assert.Equal(t, ManualGroupName, groups[2].FileName)
}

func TestRepositoryUpdateFieldsDetectsRace(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "TX-1", "100")
	ctx := context.Background()

	rec, err := f.repo.FindByID(ctx, view.ID)
	require.NoError(t, err)
	rec.ReferenceNumber = "A"
	require.NoError(t, f.repo.UpdateFields(ctx, rec, 1))
	assert.Equal(t, 2, rec.Version)

	rec.ReferenceNumber = "B"
	assert.ErrorIs(t, f.repo.UpdateFields(ctx, rec, 1), ErrVersionConflict)

	err = f.repo.Delete(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
