package enums

import "fmt"

// ReconciliationStatus is the classification assigned to a record by the matching engine.
type ReconciliationStatus string

const (
	ReconciliationStatusMatched   ReconciliationStatus = "MATCHED"
	ReconciliationStatusPartial   ReconciliationStatus = "PARTIAL"
	ReconciliationStatusUnmatched ReconciliationStatus = "UNMATCHED"
	ReconciliationStatusDuplicate ReconciliationStatus = "DUPLICATE"
)

var validReconciliationStatuses = []ReconciliationStatus{
	ReconciliationStatusMatched,
	ReconciliationStatusPartial,
	ReconciliationStatusUnmatched,
	ReconciliationStatusDuplicate,
}

// ReconciliationStatuses returns every status in display order.
func ReconciliationStatuses() []ReconciliationStatus {
	out := make([]ReconciliationStatus, len(validReconciliationStatuses))
	copy(out, validReconciliationStatuses)
	return out
}

// String implements fmt.Stringer.
func (s ReconciliationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconciliationStatus.
func (s ReconciliationStatus) IsValid() bool {
	for _, candidate := range validReconciliationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReconciliationStatus converts raw input into a ReconciliationStatus.
func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	for _, candidate := range validReconciliationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation status %q", value)
}
