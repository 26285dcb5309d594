package metadata

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/syssam/persist"
)

var (
	timeType    = reflect.TypeFor[time.Time]()
	bytesType   = reflect.TypeFor[[]byte]()
	scannerType = reflect.TypeFor[sql.Scanner]()
	valuerType  = reflect.TypeFor[driver.Valuer]()
)

// Attribute is a persistent attribute of a managed type.
type Attribute struct {
	// Name is the Go field name.
	Name string
	// Column is the column the attribute maps to. For relations it is the
	// join column.
	Column string
	// Type is the Go type of the field.
	Type   reflect.Type
	Access persist.AccessType

	ID        bool
	Version   bool
	Nullable  bool
	Unique    bool
	Generated Generation

	// Target is the related type of a many-to-one relation, nil for basic
	// attributes.
	Target *ManagedType
	// Constraint is the declared foreign key mode of a relation.
	Constraint persist.ConstraintMode

	index  []int
	getter string
	setter string
}

// IsRelation reports whether the attribute references another managed type.
func (a *Attribute) IsRelation() bool { return a.Target != nil }

// ColumnType returns the non-pointer Go type stored in the column. For a
// relation it is the id type of the target.
func (a *Attribute) ColumnType() reflect.Type {
	if a.Target != nil {
		return a.Target.ID.ColumnType()
	}
	if a.Type.Kind() == reflect.Pointer {
		return a.Type.Elem()
	}
	return a.Type
}

// NewScanDest returns a scan destination for the column: a pointer to a
// nil *T, so NULL scans without error.
func (a *Attribute) NewScanDest() reflect.Value {
	return reflect.New(reflect.PointerTo(a.ColumnType()))
}

// Get returns the attribute value of the entity behind ptr.
func (a *Attribute) Get(ptr reflect.Value) reflect.Value {
	if a.getter != "" {
		return ptr.MethodByName(a.getter).Call(nil)[0]
	}
	return ptr.Elem().FieldByIndex(a.index)
}

// Set stores v in the entity behind ptr.
func (a *Attribute) Set(ptr, v reflect.Value) {
	if a.setter != "" {
		ptr.MethodByName(a.setter).Call([]reflect.Value{v})
		return
	}
	ptr.Elem().FieldByIndex(a.index).Set(v)
}

// ColumnValue returns the value written to the column: the target id
// for relations, nil for nil pointers.
func (a *Attribute) ColumnValue(ptr reflect.Value) any {
	v := a.Get(ptr)
	if a.Target != nil {
		if v.IsNil() {
			return nil
		}
		return a.Target.ID.ColumnValue(v)
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// Assign stores a value scanned with NewScanDest. A NULL column stores the
// zero value, or nil for pointer fields. Relations are assigned by the
// caller.
func (a *Attribute) Assign(ptr, dest reflect.Value) error {
	if a.Target != nil {
		return fmt.Errorf("persist: relation %s cannot be assigned from a column", a.Name)
	}
	v := dest.Elem()
	switch {
	case a.Type.Kind() == reflect.Pointer:
		a.Set(ptr, v)
	case v.IsNil():
		a.Set(ptr, reflect.Zero(a.Type))
	default:
		a.Set(ptr, v.Elem())
	}
	return nil
}

func (a *Attribute) String() string {
	return fmt.Sprintf("%s(%s %s)", a.Name, a.Column, a.Type)
}

// isEntityRef reports whether t looks like a reference to another managed
// type: a pointer to a struct that is not a scalar column type.
func isEntityRef(t reflect.Type) bool {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return false
	}
	return !isScalar(t.Elem())
}

// isScalar reports whether values of t (or *t) can be stored in a single
// column.
func isScalar(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType || t == bytesType {
		return true
	}
	if t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isInteger(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// accessors looks up the property accessors of field f on pt, a pointer
// to the owning struct. The getter is X() or GetX(), the setter SetX(v),
// where X matches the field name ignoring case.
func accessors(pt reflect.Type, f reflect.StructField) (getter, setter string, ok bool) {
	fold := cases.Fold()
	want := fold.String(f.Name)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		switch fold.String(m.Name) {
		case want, "get" + want:
			if m.Type.NumIn() == 1 && m.Type.NumOut() == 1 && m.Type.Out(0) == f.Type &&
				(getter == "" || strings.HasPrefix(getter, "Get")) {
				getter = m.Name
			}
		case "set" + want:
			if m.Type.NumIn() == 2 && m.Type.In(1) == f.Type {
				setter = m.Name
			}
		}
	}
	return getter, setter, getter != "" && setter != ""
}
