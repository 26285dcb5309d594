// Package sqlgraph classifies driver errors into the failure kinds the
// provider reports: constraint violations, lock failures and timeouts.
package sqlgraph

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error, pgx, and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgLockNotAvailable    = "55P03"
	pgDeadlockDetected    = "40P01"
	pgQueryCanceled       = "57014"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
	mysqlLockNowait             = 3572
	mysqlStatementTimeout       = 3024 // max_execution_time exceeded
)

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgUniqueViolation || mysqlNumber(err) == mysqlDuplicateEntry {
		return true
	}
	if c := sqliteCode(err); c == sqlite3.SQLITE_CONSTRAINT_UNIQUE || c == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return true
	}
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgForeignKeyViolation {
		return true
	}
	if n := mysqlNumber(err); n == mysqlForeignKeyParent || n == mysqlForeignKeyChild {
		return true
	}
	if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgCheckViolation || mysqlNumber(err) == mysqlCheckConstraintViolate {
		return true
	}
	if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_CHECK {
		return true
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// IsLockTimeoutError reports if the database gave up waiting for a row
// lock, or a NOWAIT lock request found the row locked.
func IsLockTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgLockNotAvailable {
		return true
	}
	if n := mysqlNumber(err); n == mysqlLockWaitTimeout || n == mysqlLockNowait {
		return true
	}
	if c := sqliteCode(err); c == sqlite3.SQLITE_BUSY || c == sqlite3.SQLITE_LOCKED {
		return true
	}
	return containsAny(err.Error(),
		"Error 1205",            // MySQL
		"could not obtain lock", // Postgres
		"database is locked",    // SQLite
	)
}

// IsStatementTimeoutError reports if the statement was cut short by its
// context deadline or a server-side statement timeout.
func IsStatementTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgCode(err) == pgQueryCanceled {
		return true
	}
	return mysqlNumber(err) == mysqlStatementTimeout
}

// IsDeadlockError reports if the database aborted the statement to break
// a deadlock.
func IsDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgDeadlockDetected || mysqlNumber(err) == mysqlDeadlock {
		return true
	}
	return containsAny(err.Error(),
		"Error 1213",        // MySQL
		"deadlock detected", // Postgres
	)
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState()
	}
	return ""
}

func mysqlNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

func sqliteCode(err error) int {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()
	}
	return 0
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
