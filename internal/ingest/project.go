package ingest

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/pkg/db/models"
	"github.com/angelmondragon/ledgermatch-backend/pkg/tabular"
)

// projector maps a file row onto record fields using the job's column mapping.
type projector struct {
	txnCol  string
	amtCol  string
	refCol  string
	dateCol string
}

func newProjector(mapping map[string]string) projector {
	return projector{
		txnCol:  mapping[uploads.FieldTransactionID],
		amtCol:  mapping[uploads.FieldAmount],
		refCol:  mapping[uploads.FieldReferenceNumber],
		dateCol: mapping[uploads.FieldTransactionDate],
	}
}

// project returns false for rows that are skipped: no transaction id, a non-numeric
// amount, or an unreadable date.
func (p projector) project(row tabular.Row, jobID uuid.UUID) (*models.Record, bool) {
	txn := strings.TrimSpace(row.Get(p.txnCol))
	if txn == "" {
		return nil, false
	}
	amount, err := records.ParseAmount(row.Get(p.amtCol))
	if err != nil {
		return nil, false
	}
	date, err := records.ParseSheetDate(row.Get(p.dateCol))
	if err != nil {
		return nil, false
	}
	job := jobID
	return &models.Record{
		ID:              uuid.New(),
		TransactionID:   txn,
		Amount:          amount,
		ReferenceNumber: strings.TrimSpace(row.Get(p.refCol)),
		TransactionDate: date,
		UploadJobID:     &job,
	}, true
}
