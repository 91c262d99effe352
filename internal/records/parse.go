package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// AmountScale matches the numeric(20,6) amount column.
const AmountScale = 6

var maxAmount = decimal.New(1, 20-AmountScale)

// Spreadsheet day serials accepted by ParseSheetDate: 1954-10-03 through 2119-01-11.
const (
	minSheetSerial = 20000
	maxSheetSerial = 80000
)

var amountReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "")

// ParseAmount accepts bank-export amounts such as "$1,234.50" or "(12.00)". Values are
// rounded to AmountScale places so the stored amount is the one that was matched and audited.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := amountReplacer.Replace(strings.TrimSpace(raw))
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q is not numeric", raw)
	}
	if negative {
		d = d.Neg()
	}
	d = d.Round(AmountScale)
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return decimal.Decimal{}, fmt.Errorf("amount %q is out of range", raw)
	}
	return d, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	// spreadsheet display formats with two-digit years
	"01-02-06",
	"1/2/06 15:04",
	"1/2/06",
	"2-Jan-06",
}

// ParseDate accepts the common export layouts and returns the UTC calendar day.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not recognised", raw)
}

// ParseSheetDate is ParseDate for ingested files. It also accepts the bare day serials
// spreadsheets store for date cells.
func ParseSheetDate(raw string) (time.Time, error) {
	t, err := ParseDate(raw)
	if err == nil {
		return t, nil
	}
	serial, convErr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if convErr != nil || serial < minSheetSerial || serial > maxSheetSerial {
		return time.Time{}, err
	}
	t, convErr = excelize.ExcelDateToTime(serial, false)
	if convErr != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}

// DateOnly truncates t to midnight UTC of its own calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
