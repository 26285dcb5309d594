package dialect

import (
	"context"
	"fmt"
	"strings"
)

// Dialect names for external usage.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two methods statements are executed through.
//
// Exec runs a statement that returns no rows. v is nil or a *sql.Result.
// Query runs a statement that returns rows. v is a *sql.Rows from the
// dialect/sql package.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for a
// database connection pool.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in a transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// Normalize maps driver names to dialect names: "sqlite3" and
// "postgresql" are accepted, as are names carrying a suffix added by
// instrumentation wrappers such as "postgres-otel".
func Normalize(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(n, Postgres):
		return Postgres, nil
	case strings.HasPrefix(n, MySQL):
		return MySQL, nil
	case strings.HasPrefix(n, SQLite):
		return SQLite, nil
	}
	return "", fmt.Errorf("dialect: unsupported dialect %q", name)
}
