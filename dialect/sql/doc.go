// Package sql is the database/sql side of persist: a dialect.Driver over a
// connection pool, transactions pinned to a single connection, small
// statement builders and statement statistics.
//
// # Driver
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//	    return err
//	}
//	defer drv.Close()
//
// BeginTx takes a connection from the pool and keeps it until the
// transaction ends, so the provider can hand that same connection to
// user callbacks:
//
//	tx, err := drv.BeginTx(ctx, nil)
//	conn := tx.SQLConn() // valid until Commit or Rollback
//
// # Builders
//
// Builders quote identifiers and number placeholders per dialect:
//
//	sql.Select(dialect.Postgres, "id", "name").From("users").WhereEQ("id", 1).ForUpdate().Query()
//	// SELECT "id", "name" FROM "users" WHERE "id" = $1 FOR UPDATE
//
// Hand-written queries use '?' and go through Rebind.
//
// # Session Variables
//
// WithVar attaches variables that are SET before each statement, and reset
// afterwards when the statement ran on a pooled connection:
//
//	ctx = sql.WithVar(ctx, "lock_timeout", "2s")
//
// # Statistics
//
//	stats := sql.NewStats(sql.WithSlowThreshold(200*time.Millisecond), sql.WithShowSQL(true))
//	eq := stats.Wrap(drv)
//	fmt.Println(stats.Snapshot())
package sql
