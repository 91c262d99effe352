package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique constraint violation from Postgres or
// SQLite. When constraintName is set, the error must also name that constraint.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	if pkgerrors.ViolationOf(err) == pkgerrors.ViolationUnique {
		return true
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a foreign key violation, such as a
// reconciliation result written for a record that was deleted concurrently.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.ViolationOf(err) == pkgerrors.ViolationForeignKey {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "violates foreign key constraint") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}
