package uploads

import (
	"fmt"
	"sort"
	"strings"
)

// Mapping keys: each names a record field and maps to a column header of the upload.
const (
	FieldTransactionID   = "transactionId"
	FieldAmount          = "amount"
	FieldReferenceNumber = "referenceNumber"
	FieldTransactionDate = "transactionDate"
)

// RequiredFields must all be present in a submitted mapping.
var RequiredFields = []string{FieldTransactionID, FieldAmount, FieldReferenceNumber, FieldTransactionDate}

var fieldAliases = map[string]string{
	"date": FieldTransactionDate,
}

// MappingError lists every problem found in a submitted mapping.
type MappingError struct {
	Problems []string
}

func (e *MappingError) Error() string {
	return "invalid mapping: " + strings.Join(e.Problems, "; ")
}

// NormalizeMapping trims keys and columns, resolves aliases, and checks that every required
// field maps to one of headers.
func NormalizeMapping(raw map[string]string, headers []string) (map[string]string, error) {
	known := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		known[strings.TrimSpace(h)] = struct{}{}
	}

	out := make(map[string]string, len(RequiredFields))
	reported := make(map[string]bool)
	var problems []string
	for key, column := range raw {
		field := strings.TrimSpace(key)
		if alias, ok := fieldAliases[field]; ok {
			field = alias
		}
		if !isRequiredField(field) {
			problems = append(problems, fmt.Sprintf("unknown field %q", key))
			continue
		}
		if _, dup := out[field]; dup || reported[field] {
			problems = append(problems, fmt.Sprintf("field %q mapped more than once", field))
			reported[field] = true
			continue
		}
		column = strings.TrimSpace(column)
		if column == "" {
			continue
		}
		if _, ok := known[column]; !ok {
			problems = append(problems, fmt.Sprintf("column %q for %s is not a header of the upload", column, field))
			reported[field] = true
			continue
		}
		out[field] = column
	}
	for _, field := range RequiredFields {
		if _, ok := out[field]; !ok && !reported[field] {
			problems = append(problems, fmt.Sprintf("%s is required", field))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &MappingError{Problems: problems}
	}
	return out, nil
}

func isRequiredField(field string) bool {
	for _, f := range RequiredFields {
		if f == field {
			return true
		}
	}
	return false
}
