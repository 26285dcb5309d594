// Package schema derives table definitions from managed types and creates
// them in the database.
package schema

import (
	"context"
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metadata"
)

// DefaultStringSize is the size of string columns on dialects that need
// one.
const DefaultStringSize = 255

type (
	// Table is a table definition.
	Table struct {
		Name        string
		Columns     []*Column
		PrimaryKey  []*Column
		Indexes     []*Index
		ForeignKeys []*ForeignKey
	}

	// Column is a column definition. Type holds the dialect type.
	Column struct {
		Name      string
		Type      string
		Size      int64
		Nullable  bool
		Unique    bool
		Increment bool
	}

	// Index is an index on one or more columns.
	Index struct {
		Name    string
		Unique  bool
		Columns []*Column
	}

	// ForeignKey is a foreign key constraint.
	ForeignKey struct {
		Symbol     string
		Columns    []*Column
		RefTable   *Table
		RefColumns []*Column
	}
)

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Tables returns the table definitions of the managed types for dialect
// d. Relations get a foreign key unless their ConstraintMode, resolved
// against def, is NO_CONSTRAINT. Their join column is created either way.
func Tables(d string, def persist.ConstraintMode, types ...*metadata.ManagedType) ([]*Table, error) {
	tables := make([]*Table, 0, len(types))
	byType := make(map[*metadata.ManagedType]*Table, len(types))
	for _, mt := range types {
		t := &Table{Name: mt.Table}
		for _, a := range mt.Attributes {
			c := &Column{
				Name:     a.Column,
				Nullable: a.Nullable,
				Unique:   a.Unique,
			}
			if a.ID {
				c.Increment = a.Generated == metadata.GenerateIdentity
			}
			if _, ok := nullWrapped(a.ColumnType()); ok {
				c.Nullable = true
			}
			typ, size, err := columnType(d, a.ColumnType())
			if err != nil {
				return nil, &persist.MappingError{Type: mt.Name, Attribute: a.Name, Err: err}
			}
			c.Type, c.Size = typ, size
			t.Columns = append(t.Columns, c)
			if a.ID {
				t.PrimaryKey = []*Column{c}
			}
		}
		tables = append(tables, t)
		byType[mt] = t
	}
	for _, mt := range types {
		t := byType[mt]
		for _, a := range mt.Relations() {
			c, _ := t.Column(a.Column)
			t.Indexes = append(t.Indexes, &Index{
				Name:    fmt.Sprintf("%s_%s", t.Name, c.Name),
				Columns: []*Column{c},
			})
			if a.Constraint.Resolve(def) == persist.NoConstraint {
				continue
			}
			ref, ok := byType[a.Target]
			if !ok {
				return nil, &persist.MappingError{Type: mt.Name, Attribute: a.Name, Err: fmt.Errorf("target %s is not part of the schema", a.Target.Name)}
			}
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Symbol:     fmt.Sprintf("%s_%s_fkey", t.Name, c.Name),
				Columns:    []*Column{c},
				RefTable:   ref,
				RefColumns: ref.PrimaryKey,
			})
		}
	}
	if res := ValidateSchema(tables); res.HasErrors() {
		return nil, fmt.Errorf("schema: invalid schema:\n%s", res)
	}
	return tables, nil
}

// Statements returns the DDL creating tables. Tables are ordered so that
// referenced tables come first. Foreign keys that close a cycle between
// tables are added by ALTER TABLE afterwards, except on SQLite, which
// accepts forward references.
func Statements(d string, tables []*Table) []string {
	var (
		stmts    []string
		deferred []string
		created  = make(map[*Table]bool, len(tables))
	)
	for _, t := range order(tables) {
		b := sql.Dialect(d)
		b.WriteString("CREATE TABLE IF NOT EXISTS ").Ident(t.Name).WriteString(" (")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			writeColumn(b, d, t, c)
		}
		if len(t.PrimaryKey) > 0 && !inlinePrimaryKey(d, t) {
			b.WriteString(", PRIMARY KEY (").IdentComma(names(t.PrimaryKey)...).WriteString(")")
		}
		for _, fk := range t.ForeignKeys {
			if d != dialect.SQLite && fk.RefTable != t && !created[fk.RefTable] {
				deferred = append(deferred, alterForeignKey(d, t, fk))
				continue
			}
			b.WriteString(", ")
			writeForeignKey(b, fk)
		}
		if d == dialect.MySQL {
			for _, idx := range t.Indexes {
				b.WriteString(", INDEX ").Ident(idx.Name).WriteString(" (").IdentComma(names(idx.Columns)...).WriteString(")")
			}
		}
		b.WriteString(")")
		stmts = append(stmts, b.String())
		created[t] = true
		if d != dialect.MySQL {
			for _, idx := range t.Indexes {
				b := sql.Dialect(d).WriteString("CREATE INDEX IF NOT EXISTS ").Ident(idx.Name).
					WriteString(" ON ").Ident(t.Name).WriteString(" (").IdentComma(names(idx.Columns)...).WriteString(")")
				stmts = append(stmts, b.String())
			}
		}
	}
	return append(stmts, deferred...)
}

// CreateTables creates the tables of the managed types that do not exist
// yet.
func CreateTables(ctx context.Context, eq dialect.ExecQuerier, d string, def persist.ConstraintMode, types ...*metadata.ManagedType) error {
	tables, err := Tables(d, def, types...)
	if err != nil {
		return err
	}
	for _, stmt := range Statements(d, tables) {
		if err := eq.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("schema: %s: %w", stmt, err)
		}
	}
	return nil
}

func writeColumn(b *sql.Builder, d string, t *Table, c *Column) {
	b.Ident(c.Name).WriteString(" " + c.Type)
	if inlinePrimaryKey(d, t) && t.PrimaryKey[0] == c {
		b.WriteString(" PRIMARY KEY AUTOINCREMENT")
		return
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Increment {
		switch d {
		case dialect.MySQL:
			b.WriteString(" AUTO_INCREMENT")
		case dialect.Postgres:
			b.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
		}
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
}

func writeForeignKey(b *sql.Builder, fk *ForeignKey) {
	b.WriteString("CONSTRAINT ").Ident(fk.Symbol).
		WriteString(" FOREIGN KEY (").IdentComma(names(fk.Columns)...).
		WriteString(") REFERENCES ").Ident(fk.RefTable.Name).
		WriteString(" (").IdentComma(names(fk.RefColumns)...).WriteString(")")
}

func alterForeignKey(d string, t *Table, fk *ForeignKey) string {
	b := sql.Dialect(d).WriteString("ALTER TABLE ").Ident(t.Name).WriteString(" ADD ")
	writeForeignKey(b, fk)
	return b.String()
}

// inlinePrimaryKey reports whether the primary key is declared on the
// column itself. SQLite only auto-increments an INTEGER PRIMARY KEY
// column.
func inlinePrimaryKey(d string, t *Table) bool {
	return d == dialect.SQLite && len(t.PrimaryKey) == 1 && t.PrimaryKey[0].Increment
}

// order sorts tables so that every table follows the tables it
// references, as far as cycles allow.
func order(tables []*Table) []*Table {
	var (
		sorted  = make([]*Table, 0, len(tables))
		visited = make(map[*Table]bool, len(tables))
		visit   func(*Table)
	)
	visit = func(t *Table) {
		if visited[t] {
			return
		}
		visited[t] = true
		for _, fk := range t.ForeignKeys {
			visit(fk.RefTable)
		}
		sorted = append(sorted, t)
	}
	for _, t := range tables {
		visit(t)
	}
	return sorted
}

func names(cols []*Column) []string {
	ns := make([]string, len(cols))
	for i, c := range cols {
		ns[i] = c.Name
	}
	return ns
}

var (
	timeType   = reflect.TypeFor[time.Time]()
	bytesType  = reflect.TypeFor[[]byte]()
	uuidType   = reflect.TypeFor[uuid.UUID]()
	valuerType = reflect.TypeFor[driver.Valuer]()
)

// columnType returns the dialect type of a Go column type.
func columnType(d string, t reflect.Type) (string, int64, error) {
	if inner, ok := nullWrapped(t); ok {
		return columnType(d, inner)
	}
	switch t {
	case bytesType:
		return pick(d, "blob", "bytea", "blob"), 0, nil
	case timeType:
		return pick(d, "datetime(6)", "timestamp with time zone", "datetime"), 0, nil
	case uuidType:
		return pick(d, "char(36)", "uuid", "text"), 36, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean", 0, nil
	case reflect.Int8, reflect.Int16, reflect.Uint8, reflect.Uint16:
		return pick(d, "smallint", "smallint", "integer"), 0, nil
	case reflect.Int32, reflect.Uint32:
		return pick(d, "int", "integer", "integer"), 0, nil
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		return pick(d, "bigint", "bigint", "integer"), 0, nil
	case reflect.Float32:
		return pick(d, "float", "real", "real"), 0, nil
	case reflect.Float64:
		return pick(d, "double", "double precision", "real"), 0, nil
	case reflect.String:
		return pick(d, fmt.Sprintf("varchar(%d)", DefaultStringSize), "text", "text"), DefaultStringSize, nil
	}
	if t.Implements(valuerType) {
		return "text", 0, nil
	}
	return "", 0, fmt.Errorf("no %s column type for %s", d, t)
}

// nullWrapped unwraps sql.NullString and friends: structs holding a value
// and a Valid flag.
func nullWrapped(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct || t.NumField() != 2 {
		return nil, false
	}
	if v := t.Field(1); v.Name != "Valid" || v.Type.Kind() != reflect.Bool {
		return nil, false
	}
	return t.Field(0).Type, true
}

func pick(d, mysql, postgres, sqlite string) string {
	switch d {
	case dialect.MySQL:
		return mysql
	case dialect.Postgres:
		return postgres
	default:
		return sqlite
	}
}
