package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Violation names the class of integrity constraint a database error tripped.
type Violation string

const (
	ViolationNone       Violation = ""
	ViolationUnique     Violation = "unique"
	ViolationForeignKey Violation = "foreign_key"
	ViolationCheck      Violation = "check"
	ViolationNotNull    Violation = "not_null"
)

var pgViolations = map[string]Violation{
	"23505": ViolationUnique,
	"23503": ViolationForeignKey,
	"23514": ViolationCheck,
	"23502": ViolationNotNull,
}

var sqliteViolations = map[sqlite3.ErrNoExtended]Violation{
	sqlite3.ErrConstraintUnique:     ViolationUnique,
	sqlite3.ErrConstraintPrimaryKey: ViolationUnique,
	sqlite3.ErrConstraintForeignKey: ViolationForeignKey,
	sqlite3.ErrConstraintCheck:      ViolationCheck,
	sqlite3.ErrConstraintNotNull:    ViolationNotNull,
}

// ErrorDump flattens an error chain for request and job logs, including the driver
// detail of whichever database (Postgres or the dev SQLite file) produced it.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	Violation Violation `json:"violation,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`

	SQLiteCode string `json:"sqlite_code,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGColumn = pgxErr.ColumnName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
		d.Violation = pgViolations[d.PGCode]
		return d
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGColumn = pqErr.Column
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
		d.Violation = pgViolations[d.PGCode]
		return d
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		d.SQLiteCode = liteErr.ExtendedCode.Error()
		d.Violation = sqliteViolations[liteErr.ExtendedCode]
	}

	return d
}

// ViolationOf reports which integrity constraint err tripped, if any.
func ViolationOf(err error) Violation {
	return Dump(err).Violation
}
