package sql

import (
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/syssam/persist/dialect"
)

// Builder is a SQL string builder that quotes identifiers and numbers
// placeholders according to the dialect.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// Dialect returns a new Builder for the given dialect.
func Dialect(name string) *Builder {
	return &Builder{dialect: name}
}

// Ident writes a quoted identifier. Qualified names (schema.table) are
// quoted part by part.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.Quote(s))
	return b
}

// Quote returns the quoted form of an identifier.
func (b *Builder) Quote(s string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	parts := strings.Split(s, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// IdentComma writes a comma-separated list of quoted identifiers.
func (b *Builder) IdentComma(names ...string) *Builder {
	for i, n := range names {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(n)
	}
	return b
}

// WriteString writes s as is.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg writes a placeholder for v and records the argument.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args writes a comma-separated list of placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Query returns the statement and its arguments.
func (b *Builder) Query() (string, []any) {
	return b.sb.String(), b.args
}

// String returns the statement.
func (b *Builder) String() string { return b.sb.String() }

// Rebind rewrites '?' placeholders in a hand-written query to the
// dialect's placeholder style.
func Rebind(d, query string) string {
	if d == dialect.Postgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// LockStrength is the row lock requested by a SELECT.
type LockStrength uint8

const (
	LockNone LockStrength = iota
	LockShare
	LockUpdate
)

// SelectBuilder builds single-table SELECT statements.
type SelectBuilder struct {
	dialect string
	table   string
	columns []string
	where   []pred
	lock    LockStrength
	nowait  bool
}

type pred struct {
	column string
	value  any
	in     []any
}

// Select starts a SELECT of the given columns.
func Select(d string, columns ...string) *SelectBuilder {
	return &SelectBuilder{dialect: d, columns: columns}
}

// From sets the table.
func (s *SelectBuilder) From(table string) *SelectBuilder {
	s.table = table
	return s
}

// WhereEQ adds an equality predicate. Predicates are joined with AND.
func (s *SelectBuilder) WhereEQ(column string, v any) *SelectBuilder {
	s.where = append(s.where, pred{column: column, value: v})
	return s
}

// WhereIn adds a membership predicate. An empty list matches no rows.
func (s *SelectBuilder) WhereIn(column string, vs ...any) *SelectBuilder {
	s.where = append(s.where, pred{column: column, in: append([]any{}, vs...)})
	return s
}

// ForShare requests a shared row lock.
func (s *SelectBuilder) ForShare() *SelectBuilder {
	s.lock = LockShare
	return s
}

// ForUpdate requests an exclusive row lock.
func (s *SelectBuilder) ForUpdate() *SelectBuilder {
	s.lock = LockUpdate
	return s
}

// Lock requests the given lock strength.
func (s *SelectBuilder) Lock(l LockStrength) *SelectBuilder {
	s.lock = l
	return s
}

// NoWait makes the lock request fail instead of waiting.
func (s *SelectBuilder) NoWait() *SelectBuilder {
	s.nowait = true
	return s
}

// Query returns the statement and its arguments. SQLite has no row locks,
// so lock clauses are dropped for it.
func (s *SelectBuilder) Query() (string, []any) {
	b := Dialect(s.dialect)
	b.WriteString("SELECT ").IdentComma(s.columns...).WriteString(" FROM ").Ident(s.table)
	writeWhere(b, s.where)
	if s.lock != LockNone && s.dialect != dialect.SQLite {
		if s.lock == LockShare {
			b.WriteString(" FOR SHARE")
		} else {
			b.WriteString(" FOR UPDATE")
		}
		if s.nowait {
			b.WriteString(" NOWAIT")
		}
	}
	return b.Query()
}

// InsertBuilder builds INSERT statements.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    []any
	returning []string
}

// Insert starts an INSERT into table.
func Insert(d, table string) *InsertBuilder {
	return &InsertBuilder{dialect: d, table: table}
}

// Set adds a column value.
func (i *InsertBuilder) Set(column string, v any) *InsertBuilder {
	i.columns = append(i.columns, column)
	i.values = append(i.values, v)
	return i
}

// Returning sets the RETURNING columns. It is only honoured by Postgres.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the statement and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := Dialect(i.dialect)
	b.WriteString("INSERT INTO ").Ident(i.table)
	if len(i.columns) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES (").Args(i.values...).WriteString(")")
	}
	if len(i.returning) > 0 && i.dialect == dialect.Postgres {
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
	return b.Query()
}

// UpdateBuilder builds UPDATE statements.
type UpdateBuilder struct {
	dialect string
	table   string
	set     []pred
	exprs   []string
	where   []pred
}

// Update starts an UPDATE of table.
func Update(d, table string) *UpdateBuilder {
	return &UpdateBuilder{dialect: d, table: table}
}

// Set assigns a value to a column.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.set = append(u.set, pred{column: column, value: v})
	return u
}

// Increment adds 1 to an integer column.
func (u *UpdateBuilder) Increment(column string) *UpdateBuilder {
	u.exprs = append(u.exprs, column)
	return u
}

// WhereEQ adds an equality predicate.
func (u *UpdateBuilder) WhereEQ(column string, v any) *UpdateBuilder {
	u.where = append(u.where, pred{column: column, value: v})
	return u
}

// Query returns the statement and its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := Dialect(u.dialect)
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	n := 0
	for _, p := range u.set {
		if n > 0 {
			b.WriteString(", ")
		}
		b.Ident(p.column).WriteString(" = ").Arg(p.value)
		n++
	}
	for _, c := range u.exprs {
		if n > 0 {
			b.WriteString(", ")
		}
		b.Ident(c).WriteString(" = ").Ident(c).WriteString(" + 1")
		n++
	}
	writeWhere(b, u.where)
	return b.Query()
}

// DeleteBuilder builds DELETE statements.
type DeleteBuilder struct {
	dialect string
	table   string
	where   []pred
}

// Delete starts a DELETE from table.
func Delete(d, table string) *DeleteBuilder {
	return &DeleteBuilder{dialect: d, table: table}
}

// WhereEQ adds an equality predicate.
func (d *DeleteBuilder) WhereEQ(column string, v any) *DeleteBuilder {
	d.where = append(d.where, pred{column: column, value: v})
	return d
}

// Query returns the statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := Dialect(d.dialect)
	b.WriteString("DELETE FROM ").Ident(d.table)
	writeWhere(b, d.where)
	return b.Query()
}

func writeWhere(b *Builder, where []pred) {
	for i, p := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		switch {
		case p.in == nil:
			b.Ident(p.column).WriteString(" = ").Arg(p.value)
		case len(p.in) == 0:
			b.WriteString("1 = 0")
		default:
			b.Ident(p.column).WriteString(" IN (").Args(p.in...).WriteString(")")
		}
	}
}
