package schema

import (
	"fmt"
	"strings"
)

// ValidationError is a problem found in a table definition.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

func (r *ValidationResult) errorf(table, column, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) warnf(table, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	if !r.HasErrors() && !r.HasWarnings() {
		return "No issues found"
	}
	var sb strings.Builder
	for _, section := range []struct {
		title string
		errs  []*ValidationError
	}{
		{"Errors", r.Errors},
		{"Warnings", r.Warnings},
	} {
		if len(section.errs) == 0 {
			continue
		}
		sb.WriteString(section.title + ":\n")
		for _, e := range section.errs {
			sb.WriteString("  - " + e.Error() + "\n")
		}
	}
	return sb.String()
}

// ValidateTable validates a single table definition.
func ValidateTable(t *Table) *ValidationResult {
	result := &ValidationResult{}
	if len(t.PrimaryKey) == 0 {
		result.warnf(t.Name, "", "table has no primary key")
	}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if cols[c.Name] {
			result.errorf(t.Name, c.Name, "duplicate column name")
		}
		cols[c.Name] = true
		if c.Type == "" {
			result.errorf(t.Name, c.Name, "column has no type")
		}
	}
	for _, c := range t.PrimaryKey {
		if c.Nullable {
			result.errorf(t.Name, c.Name, "primary key column is nullable")
		}
	}
	idxs := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idxs[idx.Name] {
			result.errorf(t.Name, "", "duplicate index name: %s", idx.Name)
		}
		idxs[idx.Name] = true
		for _, c := range idx.Columns {
			if c != nil && !cols[c.Name] {
				result.errorf(t.Name, "", "index %q references non-existent column %q", idx.Name, c.Name)
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if !cols[c.Name] {
				result.errorf(t.Name, "", "foreign key %s references non-existent column %q", fk.Symbol, c.Name)
			}
		}
		if len(fk.Columns) != len(fk.RefColumns) {
			result.errorf(t.Name, "", "foreign key %s has %d columns and %d referenced columns", fk.Symbol, len(fk.Columns), len(fk.RefColumns))
		}
	}
	return result
}

// ValidateSchema validates all tables in a schema.
func ValidateSchema(tables []*Table) *ValidationResult {
	result := &ValidationResult{}
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		if names[t.Name] {
			result.errorf(t.Name, "", "duplicate table name")
		}
		names[t.Name] = true
		tr := ValidateTable(t)
		result.Errors = append(result.Errors, tr.Errors...)
		result.Warnings = append(result.Warnings, tr.Warnings...)
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == nil || !names[fk.RefTable.Name] {
				result.errorf(t.Name, "", "foreign key %s references a table outside the schema", fk.Symbol)
			}
		}
	}
	return result
}
