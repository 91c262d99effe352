package enums

import (
	"fmt"
	"strings"
)

// DuplicateScope limits the population the duplicate rule inspects.
type DuplicateScope string

const (
	// DuplicateScopeJob only flags repeats of a transaction id inside one upload job.
	DuplicateScopeJob DuplicateScope = "job"
	// DuplicateScopeGlobal flags repeats across every persisted record.
	DuplicateScopeGlobal DuplicateScope = "global"
)

func (s DuplicateScope) IsValid() bool {
	return s == DuplicateScopeJob || s == DuplicateScopeGlobal
}

// ParseDuplicateScope is case-insensitive; empty input yields the job scope.
func ParseDuplicateScope(value string) (DuplicateScope, error) {
	v := DuplicateScope(strings.ToLower(strings.TrimSpace(value)))
	if v == "" {
		return DuplicateScopeJob, nil
	}
	if !v.IsValid() {
		return "", fmt.Errorf("invalid duplicate scope %q", value)
	}
	return v, nil
}
