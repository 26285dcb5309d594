// Package dialect names the databases persist can talk to and defines the
// driver interfaces the provider executes statements through.
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
//	type Driver interface {
//	    ExecQuerier
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// Tx extends Driver with Commit and Rollback. Both Driver and Tx implement
// ExecQuerier, so statement code does not care whether it runs inside a
// transaction:
//
//	type ExecQuerier interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	}
//
// # Sub-packages
//
//   - dialect/sql: database/sql driver, statement builders and statistics
//   - dialect/sql/schema: DDL generation for mapped types
//   - dialect/sql/sqlgraph: classification of driver errors
package dialect
