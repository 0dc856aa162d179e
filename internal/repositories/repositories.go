package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound        = fmt.Errorf("record not found")
	ErrDuplicate       = fmt.Errorf("duplicate record")
	ErrVersionConflict = fmt.Errorf("record was modified concurrently")
)

// scanner is satisfied by both [sql.Row] and [sql.Rows].
type scanner interface {
	Scan(dest ...any) error
}

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// Sequence numbers provide human-readable ordering for entities (e.g., account #42, playlist #15).
// They are NOT exposed in API output but used internally for sorting and debugging.
func NextSequence(ctx context.Context, db *sql.DB, table string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequenceTable := table + "_sequence"

	_, err = tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", sequenceTable))
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE id = 1", sequenceTable)).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence transaction: %w", err)
	}

	return sequence, nil
}

// IsDuplicate reports whether err is a unique violation on the given column.
// An empty column matches any unique violation.
func IsDuplicate(err error, column string) bool {
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		return false
	}
	return column == "" || dup.Column == column
}

// DuplicateError is returned when a write violates a unique constraint.
type DuplicateError struct {
	Table  string
	Column string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s.%s", ErrDuplicate, e.Table, e.Column)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// mapConstraint converts a sqlite unique violation into a [DuplicateError].
// Other errors are returned unchanged.
func mapConstraint(err error) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return err
	}
	if serr.ExtendedCode != sqlite3.ErrConstraintUnique && serr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return err
	}

	// "UNIQUE constraint failed: accounts.email"
	msg := serr.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	target, _, _ := strings.Cut(msg, ",")
	table, column, ok := strings.Cut(strings.TrimSpace(target), ".")
	if !ok {
		return &DuplicateError{Column: table}
	}
	return &DuplicateError{Table: table, Column: column}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// affected returns [ErrNotFound] when an update touched no rows.
func affected(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return nil
}
