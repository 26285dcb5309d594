package persist

import (
	"maps"
	"reflect"
)

// Query hint names understood by the provider.
const (
	// HintQueryTimeout bounds query execution. Values may be a
	// time.Duration, a duration string such as "2s", or an integer
	// number of milliseconds.
	HintQueryTimeout = "persist.query.timeout"
	// HintCacheStoreMode selects the CacheStoreMode for entities
	// materialised by the query.
	HintCacheStoreMode = "persist.cache.storeMode"
	// HintFetchGraph names an entity graph registered with the factory.
	HintFetchGraph = "persist.fetchgraph"
)

// TypedQueryReference is a reference to a named query whose results have
// type R. The provider resolves the name when the query is created.
type TypedQueryReference[R any] interface {
	// Name returns the query name, unique within the persistence unit.
	Name() string
	// ResultType returns the Go type of the query results.
	ResultType() reflect.Type
	// Hints returns the hints to apply, keyed by hint name. The map is
	// never nil.
	Hints() map[string]any
}

// QueryReference is the standard TypedQueryReference implementation.
type QueryReference[R any] struct {
	name  string
	hints map[string]any
}

// NewQueryReference returns a reference to the named query with results
// of type R.
func NewQueryReference[R any](name string, hints map[string]any) QueryReference[R] {
	return QueryReference[R]{name: name, hints: maps.Clone(hints)}
}

// Name implements TypedQueryReference.
func (r QueryReference[R]) Name() string { return r.name }

// ResultType implements TypedQueryReference.
func (r QueryReference[R]) ResultType() reflect.Type { return reflect.TypeFor[R]() }

// Hints implements TypedQueryReference. The returned map is a copy.
func (r QueryReference[R]) Hints() map[string]any {
	if r.hints == nil {
		return map[string]any{}
	}
	return maps.Clone(r.hints)
}

// WithHint returns a copy of r with the hint set.
func (r QueryReference[R]) WithHint(name string, value any) QueryReference[R] {
	hints := r.Hints()
	hints[name] = value
	return QueryReference[R]{name: r.name, hints: hints}
}

var _ TypedQueryReference[any] = QueryReference[any]{}
