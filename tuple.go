package persist

import (
	"fmt"
	"reflect"
)

// TupleElement describes one item of a query result row: its static Go
// type and, optionally, the alias it was selected under.
type TupleElement[X any] interface {
	// Type returns the Go type of the element's values. It is never nil.
	Type() reflect.Type
	// Alias returns the alias of the element. ok is false when no alias
	// was assigned, which is not an error.
	Alias() (alias string, ok bool)
}

// Element is the standard TupleElement implementation.
type Element[X any] struct {
	typ   reflect.Type
	alias string
}

// NewElement returns an element of type X with the given alias. An empty
// alias means the element has none.
func NewElement[X any](alias string) Element[X] {
	return Element[X]{typ: reflect.TypeFor[X](), alias: alias}
}

// NewElementOf returns an element of a type only known at run time.
// A nil t is treated as the empty interface type.
func NewElementOf(t reflect.Type, alias string) Element[any] {
	if t == nil {
		t = reflect.TypeFor[any]()
	}
	return Element[any]{typ: t, alias: alias}
}

// Type implements TupleElement.
func (e Element[X]) Type() reflect.Type {
	if e.typ == nil {
		return reflect.TypeFor[X]()
	}
	return e.typ
}

// Alias implements TupleElement.
func (e Element[X]) Alias() (string, bool) { return e.alias, e.alias != "" }

func (e Element[X]) String() string {
	if e.alias == "" {
		return e.Type().String()
	}
	return fmt.Sprintf("%s %s", e.Type(), e.alias)
}

// Tuple is one row of a tuple query.
type Tuple interface {
	// Len returns the number of elements.
	Len() int
	// Get returns the value at position i.
	Get(i int) (any, error)
	// GetAlias returns the value of the element selected under alias.
	GetAlias(alias string) (any, error)
	// Elements returns the element descriptors in selection order.
	Elements() []TupleElement[any]
	// Values returns a copy of the row values.
	Values() []any
}

// NewTuple returns a tuple over values described by elems. Both slices
// must have the same length.
func NewTuple(elems []TupleElement[any], values []any) (Tuple, error) {
	if len(elems) != len(values) {
		return nil, fmt.Errorf("persist: tuple has %d elements and %d values", len(elems), len(values))
	}
	return &tuple{elems: elems, values: values}, nil
}

type tuple struct {
	elems  []TupleElement[any]
	values []any
}

func (t *tuple) Len() int { return len(t.values) }

func (t *tuple) Get(i int) (any, error) {
	if i < 0 || i >= len(t.values) {
		return nil, fmt.Errorf("persist: tuple index %d out of range [0,%d)", i, len(t.values))
	}
	return t.values[i], nil
}

func (t *tuple) GetAlias(alias string) (any, error) {
	i := t.indexOf(alias)
	if i < 0 {
		return nil, fmt.Errorf("persist: no tuple element with alias %q", alias)
	}
	return t.values[i], nil
}

func (t *tuple) indexOf(alias string) int {
	for i, e := range t.elems {
		if a, ok := e.Alias(); ok && a == alias {
			return i
		}
	}
	return -1
}

func (t *tuple) Elements() []TupleElement[any] {
	return append([]TupleElement[any](nil), t.elems...)
}

func (t *tuple) Values() []any {
	return append([]any(nil), t.values...)
}

// TupleValue returns the value of e in t converted to X. Elements with an
// alias are matched by alias. Elements without one are matched by
// identity against the tuple's own descriptors. A NULL value yields the
// zero X.
func TupleValue[X any](t Tuple, e TupleElement[X]) (X, error) {
	var zero X
	idx := -1
	if alias, ok := e.Alias(); ok {
		for i, te := range t.Elements() {
			if a, ok := te.Alias(); ok && a == alias {
				idx = i
				break
			}
		}
	} else {
		for i, te := range t.Elements() {
			if sameElement[X](te, e) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return zero, fmt.Errorf("persist: element %v is not part of the tuple", e)
	}
	v, err := t.Get(idx)
	if err != nil {
		return zero, err
	}
	return ConvertValue[X](v)
}

func sameElement[X any](a TupleElement[any], b TupleElement[X]) bool {
	aa, aok := a.Alias()
	ba, bok := b.Alias()
	return aok == bok && aa == ba && a.Type() == b.Type()
}

// ConvertValue converts a value produced by a driver to X. Values that are
// already of type X are returned as is, nil yields the zero value, []byte
// converts to string, and numeric kinds convert between each other as
// long as integer targets keep the value.
func ConvertValue[X any](v any) (X, error) {
	var zero X
	if v == nil {
		return zero, nil
	}
	if x, ok := v.(X); ok {
		return x, nil
	}
	target := reflect.TypeFor[X]()
	rv := reflect.ValueOf(v)
	if b, ok := v.([]byte); ok && target.Kind() == reflect.String {
		return reflect.ValueOf(string(b)).Convert(target).Interface().(X), nil
	}
	if rv.Type().ConvertibleTo(target) && convertible(rv.Kind(), target.Kind()) {
		out := rv.Convert(target)
		if isNumber(rv.Kind()) && !exact(rv, out) {
			return zero, fmt.Errorf("persist: %v does not fit in %s", v, target)
		}
		return out.Interface().(X), nil
	}
	return zero, fmt.Errorf("persist: cannot convert %T to %s", v, target)
}

// exact reports whether an integer out holds the number in holds, with no
// truncated fraction, overflow or lost sign. Float targets round.
func exact(in, out reflect.Value) bool {
	switch {
	case !out.CanInt() && !out.CanUint():
		return true
	case out.CanUint() && (in.CanInt() && in.Int() < 0 || in.CanFloat() && in.Float() < 0):
		return false
	case out.CanInt() && in.CanUint() && out.Int() < 0:
		return false
	}
	return out.Convert(in.Type()).Equal(in)
}

// convertible rejects the conversions reflect allows but which change the
// meaning of a value, such as int to string.
func convertible(from, to reflect.Kind) bool {
	if isNumber(from) {
		return isNumber(to)
	}
	return true
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
