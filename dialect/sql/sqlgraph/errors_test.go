package sqlgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestConstraintClassification(t *testing.T) {
	tests := []struct {
		name                  string
		err                   error
		unique, fk, check, is bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("connection refused")},
		{name: "pq_unique", err: &pq.Error{Code: "23505"}, unique: true, is: true},
		{name: "pq_fk_wrapped", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23503"}), fk: true, is: true},
		{name: "pq_check", err: &pq.Error{Code: "23514"}, check: true, is: true},
		{name: "mysql_duplicate", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, unique: true, is: true},
		{name: "mysql_fk_child", err: &mysql.MySQLError{Number: 1452}, fk: true, is: true},
		{name: "mysql_check", err: &mysql.MySQLError{Number: 3819}, check: true, is: true},
		{name: "sqlite_unique_text", err: errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), unique: true, is: true},
		{name: "sqlite_fk_text", err: errors.New("FOREIGN KEY constraint failed"), fk: true, is: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err), "unique")
			assert.Equal(t, tt.fk, IsForeignKeyConstraintError(tt.err), "foreign key")
			assert.Equal(t, tt.check, IsCheckConstraintError(tt.err), "check")
			assert.Equal(t, tt.is, IsConstraintError(tt.err), "constraint")
		})
	}
}

func TestLockClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timeout  bool
		deadlock bool
		stmt     bool
	}{
		{name: "nil", err: nil},
		{name: "deadline", err: fmt.Errorf("dialect/sql: query: %w", context.DeadlineExceeded), stmt: true},
		{name: "pq_query_canceled", err: &pq.Error{Code: "57014"}, stmt: true},
		{name: "mysql_max_execution_time", err: &mysql.MySQLError{Number: 3024}, stmt: true},
		{name: "pq_lock_not_available", err: &pq.Error{Code: "55P03"}, timeout: true},
		{name: "pq_deadlock", err: &pq.Error{Code: "40P01"}, deadlock: true},
		{name: "mysql_lock_wait", err: &mysql.MySQLError{Number: 1205}, timeout: true},
		{name: "mysql_nowait", err: &mysql.MySQLError{Number: 3572}, timeout: true},
		{name: "mysql_deadlock", err: &mysql.MySQLError{Number: 1213}, deadlock: true},
		{name: "sqlite_busy_text", err: errors.New("database is locked (5) (SQLITE_BUSY)"), timeout: true},
		{name: "canceled", err: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.timeout, IsLockTimeoutError(tt.err), "timeout")
			assert.Equal(t, tt.deadlock, IsDeadlockError(tt.err), "deadlock")
			assert.Equal(t, tt.stmt, IsStatementTimeoutError(tt.err), "statement timeout")
		})
	}
}
