package provider

import (
	"context"
	stdsql "database/sql"

	"github.com/syssam/persist"
)

// RunWithConnection calls fn with the connection of the manager's current
// transaction, or with a pooled connection that is released when fn
// returns. Calls on one manager are serialised. The error of fn is
// returned as is.
func RunWithConnection(ctx context.Context, em *EntityManager, fn persist.ConnectionConsumer[*stdsql.Conn]) error {
	_, err := CallWithConnection(ctx, em, fn.Func())
	return err
}

// CallWithConnection is RunWithConnection for functions with a result.
//
//	n, err := provider.CallWithConnection(ctx, em, func(ctx context.Context, conn *sql.Conn) (int, error) {
//	    var n int
//	    return n, conn.QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&n)
//	})
func CallWithConnection[T any](ctx context.Context, em *EntityManager, fn persist.ConnectionFunction[*stdsql.Conn, T]) (T, error) {
	var zero T
	if err := em.check(); err != nil {
		return zero, err
	}
	em.connMu.Lock()
	defer em.connMu.Unlock()
	if w := em.current(ctx); w != nil {
		return fn.Apply(ctx, w.conn())
	}
	conn, err := em.f.drv.SQLConn(ctx)
	if err != nil {
		return zero, err
	}
	defer conn.Close()
	return fn.Apply(ctx, conn)
}
