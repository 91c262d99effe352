package reconciliation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/matching"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

type env struct {
	conn        *gorm.DB
	tx          txRunner
	records     records.Repository
	results     ResultRepository
	audit       audit.Service
	coordinator *Coordinator
	svc         Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	client, conn := dbtest.Client(t)
	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	engine, err := matching.NewEngine(matching.DefaultRuleSet())
	require.NoError(t, err)

	e := &env{
		conn:    conn,
		tx:      client,
		records: records.NewRepository(conn),
		results: NewResultRepository(conn),
		audit:   auditSvc,
	}
	editor, err := records.NewEditor(e.records, auditSvc)
	require.NoError(t, err)

	e.coordinator, err = NewCoordinator(CoordinatorParams{
		Records: e.records,
		Results: e.results,
		Engine:  engine,
		Audit:   auditSvc,
		Tx:      client,
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)

	e.svc, err = NewService(ServiceParams{
		Records:     e.records,
		Results:     e.results,
		Jobs:        uploads.NewRepository(conn),
		Editor:      editor,
		Engine:      engine,
		Coordinator: e.coordinator,
		Audit:       auditSvc,
		Tx:          client,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	return e
}

func (e *env) job(t *testing.T, reusedFrom *uuid.UUID) uuid.UUID {
	t.Helper()
	job := &models.UploadJob{
		OriginalFileName: "statement.csv",
		StorageKey:       "uploads/statement.csv",
		FileHash:         uuid.NewString(),
		Status:           enums.UploadJobStatusCompleted,
		ReusedFromJobID:  reusedFrom,
	}
	require.NoError(t, e.conn.Create(job).Error)
	return job.ID
}

func (e *env) record(t *testing.T, job uuid.UUID, txn, amount, ref string) uuid.UUID {
	t.Helper()
	rec := &models.Record{
		TransactionID:   txn,
		Amount:          decimal.RequireFromString(amount),
		ReferenceNumber: ref,
		TransactionDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		UploadJobID:     &job,
	}
	require.NoError(t, e.records.Create(context.Background(), rec))
	return rec.ID
}

func (e *env) status(t *testing.T, id uuid.UUID) enums.ReconciliationStatus {
	t.Helper()
	res, err := e.results.FindByRecordID(context.Background(), id)
	require.NoError(t, err)
	return res.Status
}

func (e *env) statusEntries(t *testing.T, id uuid.UUID) []models.AuditLogEntry {
	t.Helper()
	got, err := e.audit.Search(context.Background(), audit.Filter{RecordID: &id, Field: audit.FieldReconciliationStatus})
	require.NoError(t, err)
	return got
}

// population seeds an exact pair across jobs, a partial pair across jobs and one orphan.
type population struct {
	j1, j2                          uuid.UUID
	exactA, exactB, partC, partD, e uuid.UUID
}

func seed(t *testing.T, e *env) population {
	t.Helper()
	p := population{j1: e.job(t, nil), j2: e.job(t, nil)}
	p.exactA = e.record(t, p.j1, "TX1", "100", "R1")
	p.exactB = e.record(t, p.j2, "TX1", "100", "R2")
	p.partC = e.record(t, p.j2, "TX9", "200", "R5")
	p.partD = e.record(t, p.j1, "TX8", "201", "R5")
	p.e = e.record(t, p.j1, "TX7", "50", "R7")
	return p
}

func TestSweepClassifiesWholePopulation(t *testing.T) {
	e := newEnv(t)
	p := seed(t, e)

	stats, err := e.coordinator.Sweep(context.Background(), nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Evaluated: 5, Created: 5}, stats)

	assert.Equal(t, enums.ReconciliationStatusMatched, e.status(t, p.exactA))
	assert.Equal(t, enums.ReconciliationStatusMatched, e.status(t, p.exactB))
	assert.Equal(t, enums.ReconciliationStatusPartial, e.status(t, p.partC))
	assert.Equal(t, enums.ReconciliationStatusPartial, e.status(t, p.partD))
	assert.Equal(t, enums.ReconciliationStatusUnmatched, e.status(t, p.e))

	entries := e.statusEntries(t, p.exactA)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.AuditSourceReconciliation, entries[0].Source)
}

func TestSweepIsIdempotent(t *testing.T) {
	e := newEnv(t)
	p := seed(t, e)
	ctx := context.Background()

	_, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	stats, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceSystem)
	require.NoError(t, err)

	assert.Equal(t, SweepStats{Evaluated: 5, Unchanged: 5}, stats)
	assert.Len(t, e.statusEntries(t, p.partC), 1)
}

func TestSweepDemotesPartnerOfDeletedRecord(t *testing.T) {
	e := newEnv(t)
	p := seed(t, e)
	ctx := context.Background()

	_, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	require.NoError(t, e.records.Delete(ctx, p.exactB))

	stats, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transitioned)
	assert.Equal(t, enums.ReconciliationStatusUnmatched, e.status(t, p.exactA))
	assert.Len(t, e.statusEntries(t, p.exactA), 2)
}

// snapshotHook runs once, right after a sweep has loaded its record snapshot.
type snapshotHook struct {
	records.Repository
	once sync.Once
	fn   func()
}

func (h *snapshotHook) ListAll(ctx context.Context) ([]models.Record, error) {
	recs, err := h.Repository.ListAll(ctx)
	h.once.Do(h.fn)
	return recs, err
}

func TestOverlappingSweepsConverge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.record(t, e.job(t, nil), "X1", "100", "R")
	b := e.record(t, e.job(t, nil), "X2", "100", "R")

	_, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	require.Equal(t, enums.ReconciliationStatusPartial, e.status(t, a))
	require.Equal(t, enums.ReconciliationStatusPartial, e.status(t, b))

	engine, err := matching.NewEngine(matching.DefaultRuleSet())
	require.NoError(t, err)
	hook := &snapshotHook{Repository: e.records}
	slow, err := NewCoordinator(CoordinatorParams{
		Records: hook,
		Results: e.results,
		Engine:  engine,
		Audit:   e.audit,
		Tx:      e.tx,
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)

	type sweepResult struct {
		stats SweepStats
		err   error
	}
	later := make(chan sweepResult, 1)
	hook.fn = func() {
		require.NoError(t, e.records.Delete(ctx, b))
		go func() {
			stats, err := slow.Sweep(ctx, nil, enums.AuditSourceReconciliation)
			later <- sweepResult{stats, err}
		}()
	}

	stats, err := slow.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped, "deleted record must not get a result")

	second := <-later
	require.NoError(t, second.err)
	assert.Equal(t, 1, second.stats.Evaluated)

	assert.Equal(t, enums.ReconciliationStatusUnmatched, e.status(t, a))
	var left int64
	require.NoError(t, e.conn.Model(&models.ReconciliationResult{}).Where("record_id = ?", b).Count(&left).Error)
	assert.Zero(t, left)
}

func TestSweepMarksSameJobRepeatsDuplicate(t *testing.T) {
	e := newEnv(t)
	job := e.job(t, nil)
	first := e.record(t, job, "TX1", "100", "R1")
	second := e.record(t, job, "TX1", "100", "R1")

	_, err := e.coordinator.Sweep(context.Background(), nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationStatusDuplicate, e.status(t, first))
	assert.Equal(t, enums.ReconciliationStatusDuplicate, e.status(t, second))
}

func TestManualCorrectReclassifiesAndSweeps(t *testing.T) {
	e := newEnv(t)
	p := seed(t, e)
	ctx := context.Background()
	_, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)

	actor := uuid.New()
	txn := "TX9"
	amount := decimal.RequireFromString("200")
	out, err := e.svc.ManualCorrect(ctx, p.e, records.UpdateInput{TransactionID: &txn, Amount: &amount}, &actor)
	require.NoError(t, err)

	assert.Equal(t, enums.ReconciliationStatusUnmatched, out.PreviousStatus)
	assert.Equal(t, enums.ReconciliationStatusMatched, out.Status)
	assert.Equal(t, "TX9", out.Record.TransactionID)
	assert.Equal(t, enums.ReconciliationStatusMatched, e.status(t, p.partC))

	entries := e.statusEntries(t, p.e)
	require.Len(t, entries, 2)
	assert.Equal(t, enums.AuditSourceManualEdit, entries[0].Source)
	require.NotNil(t, entries[0].ChangedBy)
	assert.Equal(t, actor, *entries[0].ChangedBy)
}

func TestManualCorrectRequiresResult(t *testing.T) {
	e := newEnv(t)
	id := e.record(t, e.job(t, nil), "TX1", "10", "R1")
	ref := "R2"

	_, err := e.svc.ManualCorrect(context.Background(), id, records.UpdateInput{ReferenceNumber: &ref}, nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = e.svc.ManualCorrect(context.Background(), uuid.Nil, records.UpdateInput{ReferenceNumber: &ref}, nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestBackfillFillsMissingStatusHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.job(t, nil)
	id := e.record(t, job, "TX1", "10", "R1")
	require.NoError(t, e.results.Create(ctx, &models.ReconciliationResult{
		RecordID:    id,
		UploadJobID: &job,
		Status:      enums.ReconciliationStatusUnmatched,
	}))

	stats, err := e.svc.Backfill(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, &BackfillStats{Examined: 1, Written: 1}, stats)

	entries := e.statusEntries(t, id)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.AuditSourceSystem, entries[0].Source)

	stats, err = e.svc.Backfill(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Written)
}

func TestJobReportFollowsReusedJob(t *testing.T) {
	e := newEnv(t)
	p := seed(t, e)
	ctx := context.Background()
	_, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)

	reused := e.job(t, &p.j1)
	report, err := e.svc.JobReport(ctx, reused)
	require.NoError(t, err)

	assert.Equal(t, reused, report.JobID)
	require.NotNil(t, report.ReusedFromJobID)
	assert.Equal(t, p.j1, *report.ReusedFromJobID)
	assert.Equal(t, Summary{Total: 3, Matched: 1, Partial: 1, Unmatched: 1, Accuracy: 66.67}, report.Summary)
	assert.Len(t, report.Records, 3)
	assert.Len(t, report.Chart, 4)

	_, err = e.svc.JobReport(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestGlobalSummary(t *testing.T) {
	e := newEnv(t)
	seed(t, e)
	ctx := context.Background()
	_, err := e.coordinator.Sweep(ctx, nil, enums.AuditSourceReconciliation)
	require.NoError(t, err)

	summary, err := e.svc.GlobalSummary(ctx, SummaryFilter{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 5, Matched: 2, Partial: 2, Unmatched: 1, Accuracy: 80}, *summary)

	partial := enums.ReconciliationStatusPartial
	summary, err = e.svc.GlobalSummary(ctx, SummaryFilter{Status: &partial})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)

	start := time.Now().Add(time.Hour)
	end := start.Add(-2 * time.Hour)
	_, err = e.svc.GlobalSummary(ctx, SummaryFilter{StartDate: &start, EndDate: &end})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestAccuracy(t *testing.T) {
	assert.Zero(t, Accuracy(0, 0))
	assert.Equal(t, 66.67, Accuracy(2, 3))
	assert.Equal(t, 12.5, Accuracy(1, 8))
	assert.Equal(t, 100.0, Accuracy(4, 4))
}
