package provider

import (
	"context"
	"reflect"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metadata"
)

// batchSize bounds the ids of one IN query.
const batchSize = 500

// FindMany returns the managed instances of T for ids, in the order of
// ids. Instances in the persistence context are reused and the others are
// read with IN queries, bypassing the shared cache for the read but
// storing what it reads. A missing row gives the *persist.EntityNotFoundError
// of the first id not found. With a lock mode each id is found on its own.
//
//	teams, err := provider.FindMany[Team](ctx, em, []any{3, 1, 2})
func FindMany[T any](ctx context.Context, em *EntityManager, ids []any, opts ...persist.FindOption) ([]*T, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	mt, err := em.f.managedType(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(ids))
	for i, id := range ids {
		if keys[i], err = convertID(mt, id); err != nil {
			return nil, err
		}
	}
	o := parseOptions(ctx, em, opts)
	found := make(map[any]reflect.Value, len(keys))
	var missing []any
	for _, k := range keys {
		if _, ok := found[k]; ok {
			continue
		}
		if o.locking() {
			ptr, err := em.find(ctx, mt, k, o)
			if err != nil {
				return nil, err
			}
			found[k] = ptr
			continue
		}
		if ptr, ok := em.lookup(mt, k); ok {
			found[k] = ptr
			continue
		}
		found[k] = reflect.Value{}
		missing = append(missing, k)
	}
	for len(missing) > 0 {
		n := min(len(missing), batchSize)
		ptrs, err := em.loadMany(ctx, mt, missing[:n], o)
		if err != nil {
			return nil, err
		}
		for _, ptr := range ptrs {
			found[mt.IDOf(ptr)] = ptr
		}
		missing = missing[n:]
	}
	values := make([]reflect.Value, 0, len(found))
	for _, v := range found {
		if v.IsValid() {
			values = append(values, v)
		}
	}
	ordered, miss := orderByKeys(keys, values, mt.IDOf)
	if miss >= 0 {
		return nil, persist.NewEntityNotFoundError(mt.Name, keys[miss])
	}
	list := make([]*T, len(ordered))
	for i, v := range ordered {
		list[i] = v.Interface().(*T)
	}
	return list, nil
}

// loadMany reads and materialises the rows of ids.
func (em *EntityManager) loadMany(ctx context.Context, mt *metadata.ManagedType, ids []any, o options) ([]reflect.Value, error) {
	ex, w := em.reader(ctx)
	query, args := sql.Select(em.f.dialect(), mt.Columns()...).From(mt.Table).WhereIn(mt.ID.Column, ids...).Query()
	var rows sql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return nil, persist.NewQueryError(query, "find", err)
	}
	data, _, err := readEntityRows(mt, &rows, 0)
	if err != nil {
		return nil, err
	}
	ptrs := make([]reflect.Value, 0, len(data))
	for _, row := range data {
		ptr, err := em.materialize(ctx, mt, row, o)
		if err != nil {
			return nil, err
		}
		if key := cacheKey(mt, mt.IDOf(ptr)); w == nil || !w.dirty() {
			em.cacheRow(ctx, key, row, o.store)
		}
		ptrs = append(ptrs, ptr)
	}
	return ptrs, nil
}

// orderByKeys orders values by keys, repeating a value for a repeated key.
// miss is the index of the first key without a value, or -1.
func orderByKeys[K comparable, V any](keys []K, values []V, key func(V) K) (ordered []V, miss int) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[key(v)] = v
	}
	ordered = make([]V, len(keys))
	for i, k := range keys {
		v, ok := lookup[k]
		if !ok {
			return nil, i
		}
		ordered[i] = v
	}
	return ordered, -1
}
