package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// sqlite reports a violated unique index by its column list, not its name.
var sqliteUniqueColumns = map[string]string{
	"loans_one_active_per_user_book": "loans.user_id, loans.book_id",
	"users_username_key":             "users.username",
	"users_email_key":                "users.email",
}

// IsUniqueViolation reports whether err is a unique constraint violation from
// Postgres or sqlite. When constraintName is provided the violation must come from
// that constraint; a primary key or other index collision does not match.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, ok := sqlState(err); ok {
		if code != sqlStateUniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName || strings.Contains(err.Error(), constraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName == "" || strings.Contains(msg, constraintName) {
		return true
	}
	cols, ok := sqliteUniqueColumns[constraintName]
	return ok && strings.Contains(msg, "UNIQUE constraint failed: "+cols)
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := sqlState(err); ok {
		return code == sqlStateCheckViolation
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// IsForeignKeyViolation reports whether err is a refused reference, for example
// deleting a user that loans still point at.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := sqlState(err); ok {
		return code == sqlStateForeignKeyViolation
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// IsSerializationFailure reports whether the transaction lost a concurrency race
// (serialization failure or deadlock) and is safe to run again from the start.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := sqlState(err); ok {
		return code == sqlStateSerializationFailure || code == sqlStateDeadlockDetected
	}
	return false
}

func sqlState(err error) (code, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}
