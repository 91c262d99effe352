package reconciliation

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// Summary counts records per status.
type Summary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Partial   int `json:"partial"`
	Unmatched int `json:"unmatched"`
	Duplicate int `json:"duplicate"`
	// Accuracy is (matched+partial)/total as a percentage rounded to two decimals.
	Accuracy float64 `json:"accuracy"`
}

// ChartPoint is one bar of the status chart.
type ChartPoint struct {
	Status enums.ReconciliationStatus `json:"status"`
	Count  int                        `json:"count"`
}

// Summarize counts views by status. Records without a result count as UNMATCHED.
func Summarize(views []records.RecordView) Summary {
	var s Summary
	for _, v := range views {
		s.Total++
		switch v.Status {
		case enums.ReconciliationStatusMatched:
			s.Matched++
		case enums.ReconciliationStatusPartial:
			s.Partial++
		case enums.ReconciliationStatusDuplicate:
			s.Duplicate++
		default:
			s.Unmatched++
		}
	}
	s.Accuracy = Accuracy(s.Matched+s.Partial, s.Total)
	return s
}

// Accuracy returns good/total*100 rounded half-up to two decimals, 0 for an empty set.
func Accuracy(good, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(good)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(2)
	return pct.InexactFloat64()
}

// Chart returns the counts in fixed status order.
func (s Summary) Chart() []ChartPoint {
	return []ChartPoint{
		{Status: enums.ReconciliationStatusMatched, Count: s.Matched},
		{Status: enums.ReconciliationStatusPartial, Count: s.Partial},
		{Status: enums.ReconciliationStatusUnmatched, Count: s.Unmatched},
		{Status: enums.ReconciliationStatusDuplicate, Count: s.Duplicate},
	}
}
