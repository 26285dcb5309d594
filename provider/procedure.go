package provider

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
)

// StoredProcedureQuery calls a stored procedure. Parameters are registered
// by position, starting at 1, before the call.
//
// On PostgreSQL the procedure runs with CALL and OUT, INOUT and REF_CURSOR
// values come back in the row CALL returns; each cursor is then fetched,
// which needs a transaction. On MySQL, OUT and INOUT parameters go through
// session variables and a REF_CURSOR parameter stands for the result set
// the procedure selects; it binds no argument. SQLite has no procedures.
type StoredProcedureQuery struct {
	em     *EntityManager
	name   string
	params []*procParam
	hints  map[string]any
	err    error

	executed bool
	hasRows  bool
	results  []persist.Tuple
	count    int64
	outputs  map[int]any
}

type procParam struct {
	pos   int
	typ   reflect.Type
	mode  persist.ParameterMode
	value any
	set   bool
}

// procCall is the statements of one procedure call.
type procCall struct {
	// setup runs first, on the same connection.
	setup []procStmt
	call  procStmt
	// returns lists the positions whose values come back in the row of
	// the call, in order.
	returns []int
	// fetch reads the values of the fetched positions after the call.
	fetch   string
	fetched []int
}

type procStmt struct {
	query string
	args  []any
}

// CreateStoredProcedureQuery returns a query calling the named procedure.
func (em *EntityManager) CreateStoredProcedureQuery(name string) *StoredProcedureQuery {
	return &StoredProcedureQuery{em: em, name: name, hints: make(map[string]any), err: em.check()}
}

// RegisterParameter declares the parameter at position pos.
func (q *StoredProcedureQuery) RegisterParameter(pos int, typ reflect.Type, mode persist.ParameterMode) *StoredProcedureQuery {
	switch {
	case pos < 1:
		q.err = errors.Join(q.err, fmt.Errorf("persist: parameter position %d, positions start at 1", pos))
	case !mode.IsValid():
		q.err = errors.Join(q.err, fmt.Errorf("persist: parameter %d: invalid mode %v", pos, mode))
	default:
		for len(q.params) < pos {
			q.params = append(q.params, nil)
		}
		q.params[pos-1] = &procParam{pos: pos, typ: typ, mode: mode}
	}
	return q
}

// SetParameter binds the value of an IN or INOUT parameter.
func (q *StoredProcedureQuery) SetParameter(pos int, v any) *StoredProcedureQuery {
	p, err := q.param(pos)
	switch {
	case err != nil:
		q.err = errors.Join(q.err, err)
	case !p.mode.IsInput():
		q.err = errors.Join(q.err, fmt.Errorf("persist: parameter %d is %v", pos, p.mode))
	default:
		p.value, p.set = v, true
	}
	return q
}

// SetHint sets a hint. persist.query.timeout is recognised.
func (q *StoredProcedureQuery) SetHint(name string, v any) *StoredProcedureQuery {
	q.hints[name] = v
	return q
}

func (q *StoredProcedureQuery) param(pos int) (*procParam, error) {
	if pos < 1 || pos > len(q.params) || q.params[pos-1] == nil {
		return nil, fmt.Errorf("persist: parameter %d is not registered", pos)
	}
	return q.params[pos-1], nil
}

// Execute calls the procedure. It reports whether the call produced a
// result set, read with ResultList.
func (q *StoredProcedureQuery) Execute(ctx context.Context) (bool, error) {
	if err := q.execute(ctx); err != nil {
		return false, persist.NewQueryError(q.name, "execute", err)
	}
	return q.hasRows, nil
}

// ResultList returns the rows of the result set, calling the procedure
// first if needed.
func (q *StoredProcedureQuery) ResultList(ctx context.Context) ([]persist.Tuple, error) {
	if !q.executed {
		if _, err := q.Execute(ctx); err != nil {
			return nil, err
		}
	}
	if !q.hasRows {
		return nil, persist.NewQueryError(q.name, "list", errors.New("procedure returned no result set"))
	}
	return q.results, nil
}

// UpdateCount returns the number of rows the call affected, or -1 when it
// was not executed or produced a result set.
func (q *StoredProcedureQuery) UpdateCount() int64 {
	if !q.executed || q.hasRows {
		return -1
	}
	return q.count
}

// OutputParameter returns the value of an OUT or INOUT parameter,
// converted to the registered type when the driver value allows it.
func (q *StoredProcedureQuery) OutputParameter(pos int) (any, error) {
	p, err := q.param(pos)
	if err != nil {
		return nil, err
	}
	if !p.mode.IsOutput() {
		return nil, fmt.Errorf("persist: parameter %d is %v", pos, p.mode)
	}
	if !q.executed {
		return nil, fmt.Errorf("persist: procedure %s was not executed", q.name)
	}
	return outputValue(q.outputs[pos], p.typ), nil
}

func outputValue(v any, typ reflect.Type) any {
	if v == nil || typ == nil {
		return v
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	rv := reflect.ValueOf(v)
	from, to := rv.Kind(), typ.Kind()
	same := from == to || isInteger(from) && isInteger(to) ||
		isFloat(from) && (isFloat(to) || isInteger(to)) || isInteger(from) && isFloat(to)
	if same && rv.CanConvert(typ) {
		return rv.Convert(typ).Interface()
	}
	return v
}

func isFloat(k reflect.Kind) bool { return k == reflect.Float32 || k == reflect.Float64 }

// OutputValue returns an output parameter converted to T.
func OutputValue[T any](q *StoredProcedureQuery, pos int) (T, error) {
	v, err := q.OutputParameter(pos)
	if err != nil {
		var zero T
		return zero, err
	}
	return persist.ConvertValue[T](v)
}

func (q *StoredProcedureQuery) execute(ctx context.Context) error {
	if q.err != nil {
		return q.err
	}
	if err := q.em.check(); err != nil {
		return err
	}
	f := q.em.f
	c, err := procedureCall(f.dialect(), q.name, q.params)
	if err != nil {
		return err
	}
	d, err := q.timeout(ctx)
	if err != nil {
		return err
	}
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	w := q.em.current(ctx)
	if w == nil && len(c.returns) > 0 && q.hasCursor() {
		return fmt.Errorf("%w: REF_CURSOR parameters of %s", persist.ErrTransactionRequired, q.name)
	}
	var ex dialect.ExecQuerier
	if w != nil {
		ex = w.exec()
	} else {
		// Session variables and cursors need one connection throughout.
		conn, err := f.drv.SQLConn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		ex = f.stats.Wrap(sql.NewConn(f.dialect(), conn))
	}
	q.results, q.outputs, q.hasRows, q.count = nil, make(map[int]any), false, 0
	for _, s := range c.setup {
		if err := ex.Exec(ctx, s.query, s.args, nil); err != nil {
			return timeoutError(ctx, err)
		}
	}
	if err := q.call(ctx, ex, w, c); err != nil {
		return timeoutError(ctx, err)
	}
	if c.fetch != "" {
		var rows sql.Rows
		if err := ex.Query(ctx, c.fetch, []any{}, &rows); err != nil {
			return timeoutError(ctx, err)
		}
		values, err := readTuples(&rows, 1)
		if err != nil {
			return err
		}
		if len(values) == 1 {
			q.collect(c.fetched, values[0].Values())
		}
	}
	// The procedure may have written anything.
	if w != nil {
		w.touchAll()
	}
	f.evictAll(ctx)
	q.executed = true
	return nil
}

func (q *StoredProcedureQuery) call(ctx context.Context, ex dialect.ExecQuerier, w unitOfWork, c *procCall) error {
	cursor := q.hasCursor()
	if len(c.returns) == 0 && !cursor {
		n, err := execAffected(ctx, ex, c.call.query, c.call.args)
		q.count = n
		return err
	}
	var rows sql.Rows
	if err := ex.Query(ctx, c.call.query, c.call.args, &rows); err != nil {
		return err
	}
	tuples, err := readTuples(&rows, 0)
	if err != nil {
		return err
	}
	if len(c.returns) == 0 {
		q.results, q.hasRows = tuples, true
		return nil
	}
	if len(tuples) != 1 {
		return fmt.Errorf("procedure %s returned %d output rows", q.name, len(tuples))
	}
	q.collect(c.returns, tuples[0].Values())
	if !cursor {
		return nil
	}
	b := sql.Dialect(q.em.f.dialect())
	for _, p := range q.params {
		if p.mode != persist.ParamRefCursor {
			continue
		}
		name, ok := q.outputs[p.pos].(string)
		if !ok {
			if bs, isBytes := q.outputs[p.pos].([]byte); isBytes {
				name, ok = string(bs), true
			}
		}
		if !ok || name == "" {
			return fmt.Errorf("procedure %s returned no cursor for parameter %d", q.name, p.pos)
		}
		var rows sql.Rows
		if err := ex.Query(ctx, "FETCH ALL FROM "+b.Quote(name), []any{}, &rows); err != nil {
			return err
		}
		tuples, err := readTuples(&rows, 0)
		if err != nil {
			return err
		}
		q.results, q.hasRows = append(q.results, tuples...), true
	}
	return nil
}

func (q *StoredProcedureQuery) collect(positions []int, values []any) {
	for i, pos := range positions {
		if i < len(values) {
			q.outputs[pos] = values[i]
		}
	}
}

func (q *StoredProcedureQuery) hasCursor() bool {
	for _, p := range q.params {
		if p != nil && p.mode == persist.ParamRefCursor {
			return true
		}
	}
	return false
}

func (q *StoredProcedureQuery) timeout(ctx context.Context) (time.Duration, error) {
	d := q.em.f.queryTimeout
	for name, v := range q.hints {
		if name != persist.HintQueryTimeout {
			q.em.f.log.DebugContext(ctx, "ignoring unsupported hint", "procedure", q.name, "hint", name)
			continue
		}
		var err error
		if d, err = hintDuration(v); err != nil {
			return 0, fmt.Errorf("hint %s: %w", persist.HintQueryTimeout, err)
		}
	}
	return d, nil
}

// procedureCall builds the statements calling procedure name with params.
func procedureCall(d, name string, params []*procParam) (*procCall, error) {
	if d != dialect.Postgres && d != dialect.MySQL {
		return nil, fmt.Errorf("stored procedures are not supported by %s", d)
	}
	c := &procCall{}
	b := sql.Dialect(d)
	b.WriteString("CALL ").Ident(name).WriteString("(")
	var vars []string
	n := 0
	for i, p := range params {
		if p == nil {
			return nil, fmt.Errorf("persist: parameter %d is not registered", i+1)
		}
		if p.mode.IsInput() && !p.set {
			return nil, fmt.Errorf("persist: parameter %d is not set", p.pos)
		}
		if d == dialect.MySQL && p.mode == persist.ParamRefCursor {
			continue
		}
		if n > 0 {
			b.WriteString(", ")
		}
		n++
		switch {
		case p.mode == persist.ParamIn:
			b.Arg(p.value)
		case d == dialect.Postgres && p.mode == persist.ParamInOut:
			b.Arg(p.value)
			c.returns = append(c.returns, p.pos)
		case d == dialect.Postgres:
			b.WriteString("NULL")
			c.returns = append(c.returns, p.pos)
		default:
			v := "@p" + strconv.Itoa(p.pos)
			if p.mode == persist.ParamInOut {
				c.setup = append(c.setup, procStmt{query: "SET " + v + " = ?", args: []any{p.value}})
			}
			b.WriteString(v)
			vars = append(vars, v)
			c.fetched = append(c.fetched, p.pos)
		}
	}
	b.WriteString(")")
	c.call.query, c.call.args = b.Query()
	if c.call.args == nil {
		c.call.args = []any{}
	}
	if len(vars) > 0 {
		c.fetch = "SELECT " + strings.Join(vars, ", ")
	}
	return c, nil
}
