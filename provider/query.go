package provider

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"

	stdsql "database/sql"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metadata"
)

var (
	tupleType   = reflect.TypeFor[persist.Tuple]()
	timeType    = reflect.TypeFor[time.Time]()
	scannerType = reflect.TypeFor[stdsql.Scanner]()
	valuerType  = reflect.TypeFor[driver.Valuer]()
)

// TypedQuery is an executable query with results of type R. Positional
// parameters are written as '?' for every dialect.
//
// R selects how rows are read:
//   - a managed struct type, or a pointer to one: columns map to attributes
//     by column name and each row becomes a managed entity;
//   - persist.Tuple: each row becomes a tuple;
//   - anything else: the single column converts to R.
type TypedQuery[R any] struct {
	em     *EntityManager
	name   string
	query  string
	entity *metadata.ManagedType
	hints  map[string]any
	params []any
	set    []bool
	first  int
	max    int
	err    error
}

// CreateQuery creates a query from a named query of the unit. The hints of
// the reference override those of the named query.
func CreateQuery[R any](em *EntityManager, ref persist.TypedQueryReference[R]) (*TypedQuery[R], error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	nq, ok := em.f.namedQuery(ref.Name())
	if !ok {
		return nil, fmt.Errorf("persist: no named query %q", ref.Name())
	}
	q := newQuery[R](em, nq.Query)
	q.name = nq.Name
	maps.Copy(q.hints, nq.Hints)
	maps.Copy(q.hints, ref.Hints())
	rt := ref.ResultType()
	if rt.Kind() == reflect.Interface && rt.NumMethod() == 0 && nq.ResultType != nil {
		// Untyped references read the rows of the declaring type.
		rt = nq.ResultType
	}
	if err := q.resolve(rt); err != nil {
		return nil, err
	}
	if nq.ResultType != nil && q.entity != nil && indirect(nq.ResultType) != q.entity.Type {
		return nil, fmt.Errorf("persist: query %q returns %s, not %s", nq.Name, nq.ResultType, rt)
	}
	return q, nil
}

// CreateNativeQuery creates a query from SQL.
func CreateNativeQuery[R any](em *EntityManager, query string) *TypedQuery[R] {
	q := newQuery[R](em, query)
	q.err = errors.Join(em.check(), q.resolve(reflect.TypeFor[R]()))
	return q
}

// CreateTupleQuery creates a query returning tuples whose elements carry
// the column's Go type and name.
func CreateTupleQuery(em *EntityManager, query string) *TypedQuery[persist.Tuple] {
	return CreateNativeQuery[persist.Tuple](em, query)
}

func newQuery[R any](em *EntityManager, query string) *TypedQuery[R] {
	return &TypedQuery[R]{em: em, query: query, hints: make(map[string]any)}
}

// resolve decides whether rows map to entities of rt. The only interface
// results are tuples, either as persist.Tuple or as any.
func (q *TypedQuery[R]) resolve(rt reflect.Type) error {
	t := indirect(rt)
	if t.Kind() == reflect.Interface {
		if t != tupleType && t.NumMethod() > 0 {
			return fmt.Errorf("persist: unsupported result type %s", t)
		}
		return nil
	}
	if t.Kind() != reflect.Struct || t == timeType || reflect.PointerTo(t).Implements(scannerType) || t.Implements(valuerType) {
		return nil
	}
	mt, err := q.em.f.meta.TypeOf(t)
	if err != nil {
		return err
	}
	q.entity = mt
	return nil
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// SetParameter binds the parameter at position pos, starting at 1.
func (q *TypedQuery[R]) SetParameter(pos int, v any) *TypedQuery[R] {
	if pos < 1 {
		q.err = errors.Join(q.err, fmt.Errorf("persist: parameter position %d, positions start at 1", pos))
		return q
	}
	for len(q.params) < pos {
		q.params = append(q.params, nil)
		q.set = append(q.set, false)
	}
	q.params[pos-1], q.set[pos-1] = v, true
	return q
}

// SetHint sets a query hint such as persist.HintQueryTimeout.
func (q *TypedQuery[R]) SetHint(name string, v any) *TypedQuery[R] {
	q.hints[name] = v
	return q
}

// Hints returns a copy of the query hints.
func (q *TypedQuery[R]) Hints() map[string]any { return maps.Clone(q.hints) }

// SetFirstResult skips the first n rows.
func (q *TypedQuery[R]) SetFirstResult(n int) *TypedQuery[R] {
	q.first = max(n, 0)
	return q
}

// SetMaxResults limits the result to n rows. Zero means no limit.
func (q *TypedQuery[R]) SetMaxResults(n int) *TypedQuery[R] {
	q.max = max(n, 0)
	return q
}

// ResultList runs the query and returns all results.
func (q *TypedQuery[R]) ResultList(ctx context.Context) ([]R, error) {
	list, err := q.list(ctx, 0, false)
	if err != nil {
		return nil, persist.NewQueryError(q.label(), "list", err)
	}
	return list, nil
}

// SingleResult runs the query and returns its only result:
// persist.ErrNoResult and persist.ErrNonUniqueResult report zero or
// several rows.
func (q *TypedQuery[R]) SingleResult(ctx context.Context) (R, error) {
	var zero R
	list, err := q.list(ctx, 2, true)
	switch {
	case err != nil:
		return zero, persist.NewQueryError(q.label(), "single", err)
	case len(list) == 0:
		return zero, persist.NewQueryError(q.label(), "single", persist.ErrNoResult)
	}
	return list[0], nil
}

// ExecuteUpdate runs an UPDATE or DELETE statement in the current
// transaction and returns the number of affected rows. The shared cache is
// cleared when the transaction ends.
func (q *TypedQuery[R]) ExecuteUpdate(ctx context.Context) (int64, error) {
	args, err := q.args()
	if err != nil {
		return 0, persist.NewQueryError(q.label(), "execute", err)
	}
	w := q.em.current(ctx)
	if w == nil {
		return 0, persist.NewQueryError(q.label(), "execute", persist.ErrTransactionRequired)
	}
	ctx, cancel, err := q.timeout(ctx)
	if err != nil {
		return 0, persist.NewQueryError(q.label(), "execute", err)
	}
	defer cancel()
	n, err := execAffected(ctx, w.exec(), sql.Rebind(q.em.f.dialect(), q.query), args)
	if err != nil {
		return 0, persist.NewQueryError(q.label(), "execute", timeoutError(ctx, err))
	}
	w.touchAll()
	q.em.f.evictAll(ctx)
	return n, nil
}

func (q *TypedQuery[R]) label() string {
	if q.name != "" {
		return q.name
	}
	return q.query
}

func (q *TypedQuery[R]) args() ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	for i, ok := range q.set {
		if !ok {
			return nil, fmt.Errorf("persist: parameter %d is not set", i+1)
		}
	}
	return append([]any{}, q.params...), nil
}

// timeout applies persist.query.timeout, from the hints or the unit.
func (q *TypedQuery[R]) timeout(ctx context.Context) (context.Context, context.CancelFunc, error) {
	d := q.em.f.queryTimeout
	if v, ok := q.hints[persist.HintQueryTimeout]; ok {
		var err error
		if d, err = hintDuration(v); err != nil {
			return nil, nil, fmt.Errorf("hint %s: %w", persist.HintQueryTimeout, err)
		}
	}
	if d <= 0 {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, cancel, nil
}

func timeoutError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", persist.ErrQueryTimeout, err)
	}
	return err
}

func (q *TypedQuery[R]) storeMode() (persist.CacheStoreMode, error) {
	switch v := q.hints[persist.HintCacheStoreMode].(type) {
	case nil:
		return persist.CacheStoreUse, nil
	case persist.CacheStoreMode:
		return v, nil
	case string:
		return persist.ParseCacheStoreMode(v)
	default:
		return 0, fmt.Errorf("hint %s: invalid value %T", persist.HintCacheStoreMode, v)
	}
}

func (q *TypedQuery[R]) fetchGraph() (*persist.Graph, error) {
	switch v := q.hints[persist.HintFetchGraph].(type) {
	case nil:
		return nil, nil
	case *persist.Graph:
		return v, nil
	case string:
		g, ok := q.em.f.NamedEntityGraph(v)
		if !ok {
			return nil, fmt.Errorf("hint %s: no entity graph %q", persist.HintFetchGraph, v)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("hint %s: invalid value %T", persist.HintFetchGraph, v)
	}
}

// statement returns the SQL to run, with first and max results applied
// by wrapping the query.
func (q *TypedQuery[R]) statement() string {
	d := q.em.f.dialect()
	query := strings.TrimRight(strings.TrimSpace(q.query), "; ")
	if q.first == 0 && q.max == 0 {
		return sql.Rebind(d, query)
	}
	var b strings.Builder
	b.WriteString("SELECT * FROM (" + query + ") AS q")
	switch {
	case q.max > 0:
		b.WriteString(" LIMIT " + strconv.Itoa(q.max))
	case d == dialect.MySQL:
		b.WriteString(" LIMIT 18446744073709551615")
	case d == dialect.SQLite:
		b.WriteString(" LIMIT -1")
	}
	if q.first > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(q.first))
	}
	return sql.Rebind(d, b.String())
}

// list runs the query and reads at most limit rows, all when limit is 0.
// Rows are read in full before entities are materialised, since loading
// relations needs the connection. With unique, more than one row gives
// persist.ErrNonUniqueResult before any row is materialised.
func (q *TypedQuery[R]) list(ctx context.Context, limit int, unique bool) ([]R, error) {
	if err := q.em.check(); err != nil {
		return nil, err
	}
	args, err := q.args()
	if err != nil {
		return nil, err
	}
	store, err := q.storeMode()
	if err != nil {
		return nil, err
	}
	graph, err := q.fetchGraph()
	if err != nil {
		return nil, err
	}
	for name := range q.hints {
		switch name {
		case persist.HintQueryTimeout, persist.HintCacheStoreMode, persist.HintFetchGraph:
		default:
			q.em.f.log.DebugContext(ctx, "ignoring unsupported hint", "query", q.label(), "hint", name)
		}
	}
	qctx, cancel, err := q.timeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	ex, w := q.em.reader(ctx)
	var rows sql.Rows
	if err := ex.Query(qctx, q.statement(), args, &rows); err != nil {
		return nil, timeoutError(qctx, err)
	}
	switch {
	case q.entity != nil:
		data, complete, err := readEntityRows(q.entity, &rows, limit)
		if err != nil {
			return nil, timeoutError(qctx, err)
		}
		if unique && len(data) > 1 {
			return nil, persist.ErrNonUniqueResult
		}
		if !complete {
			store = persist.CacheStoreBypass
		}
		return q.materialize(ctx, w, data, store, graph)
	case reflect.TypeFor[R]().Kind() == reflect.Interface:
		tuples, err := readTuples(&rows, limit)
		if err != nil {
			return nil, timeoutError(qctx, err)
		}
		if unique && len(tuples) > 1 {
			return nil, persist.ErrNonUniqueResult
		}
		list := make([]R, len(tuples))
		for i, t := range tuples {
			r, ok := any(t).(R)
			if !ok {
				return nil, fmt.Errorf("persist: tuples are not %s", reflect.TypeFor[R]())
			}
			list[i] = r
		}
		return list, nil
	default:
		list, err := readScalars[R](&rows, limit)
		if err == nil && unique && len(list) > 1 {
			return nil, persist.ErrNonUniqueResult
		}
		return list, timeoutError(qctx, err)
	}
}

func (q *TypedQuery[R]) materialize(ctx context.Context, w unitOfWork, data [][]reflect.Value, store persist.CacheStoreMode, graph *persist.Graph) ([]R, error) {
	mt := q.entity
	asValue := reflect.TypeFor[R]().Kind() == reflect.Struct
	list := make([]R, 0, len(data))
	for _, row := range data {
		ptr, err := q.em.materialize(ctx, mt, row, options{store: store, retrieve: persist.CacheRetrieveUse, graph: graph})
		if err != nil {
			return nil, err
		}
		if key := cacheKey(mt, mt.IDOf(ptr)); w == nil || !w.dirty() {
			q.em.cacheRow(ctx, key, row, store)
		}
		v := ptr
		if asValue {
			v = ptr.Elem()
		}
		list = append(list, v.Interface().(R))
	}
	return list, nil
}

// readEntityRows scans rows into per-attribute destinations. Columns that
// map to no attribute are skipped; the id column is required. complete
// reports whether every attribute was selected.
func readEntityRows(mt *metadata.ManagedType, rows *sql.Rows, limit int) (data [][]reflect.Value, complete bool, err error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}
	index := make([]int, len(columns))
	seen := make(map[int]bool, len(columns))
	hasID := false
	for i, c := range columns {
		a, j, ok := mt.AttributeByColumn(c)
		index[i] = j
		if ok {
			seen[j] = true
			hasID = hasID || a.ID
		}
	}
	if !hasID {
		return nil, false, fmt.Errorf("persist: %s rows need the id column %s", mt.Name, mt.ID.Column)
	}
	complete = len(seen) == len(mt.Attributes)
	for rows.Next() && (limit == 0 || len(data) < limit) {
		row := newRow(mt)
		dests := make([]any, len(columns))
		for i, j := range index {
			if j < 0 {
				dests[i] = new(any)
			} else {
				dests[i] = row[j].Interface()
			}
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, false, err
		}
		data = append(data, row)
	}
	return data, complete, rows.Err()
}

// readTuples reads rows as tuples. Element types come from the driver's
// column scan types.
func readTuples(rows *sql.Rows, limit int) ([]persist.Tuple, error) {
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	elems := make([]persist.TupleElement[any], len(types))
	for i, ct := range types {
		elems[i] = persist.NewElementOf(ct.ScanType(), ct.Name())
	}
	var tuples []persist.Tuple
	for rows.Next() && (limit == 0 || len(tuples) < limit) {
		values := make([]any, len(elems))
		dests := make([]any, len(elems))
		for i := range values {
			dests[i] = &values[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		t, err := persist.NewTuple(elems, values)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, rows.Err()
}

// readScalars reads a single column as R. Types implementing sql.Scanner
// scan directly; others convert with persist.ConvertValue.
func readScalars[R any](rows *sql.Rows, limit int) ([]R, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(columns) != 1 {
		return nil, fmt.Errorf("persist: %s results need one column, got %d", reflect.TypeFor[R](), len(columns))
	}
	scans := reflect.PointerTo(reflect.TypeFor[R]()).Implements(scannerType)
	var list []R
	for rows.Next() && (limit == 0 || len(list) < limit) {
		var v R
		if scans {
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
		} else {
			var src any
			if err := rows.Scan(&src); err != nil {
				return nil, err
			}
			if v, err = persist.ConvertValue[R](src); err != nil {
				return nil, err
			}
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
