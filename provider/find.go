package provider

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metadata"
)

// options is the provider's reading of find, lock and refresh options.
type options struct {
	lock     persist.LockModeType
	timeout  *time.Duration
	scope    persist.PessimisticLockScope
	retrieve persist.CacheRetrieveMode
	store    persist.CacheStoreMode
	graph    *persist.Graph
}

// parseOptions reads the options the provider recognises. Others are
// logged and ignored.
func parseOptions[O any](ctx context.Context, em *EntityManager, opts []O) options {
	o := options{retrieve: persist.CacheRetrieveUse, store: persist.CacheStoreUse}
	for _, opt := range opts {
		switch v := any(opt).(type) {
		case persist.LockModeType:
			o.lock = v.Normalize()
		case persist.Timeout:
			d := v.Duration()
			o.timeout = &d
		case persist.PessimisticLockScope:
			// Relations are many-to-one only, so EXTENDED locks what NORMAL does.
			o.scope = v
		case persist.CacheRetrieveMode:
			o.retrieve = v
		case persist.CacheStoreMode:
			o.store = v
		case persist.FetchGraphOption:
			o.graph = v.Graph
		default:
			em.f.log.DebugContext(ctx, "ignoring unsupported option", "option", fmt.Sprintf("%T", opt))
		}
	}
	if o.lock == persist.LockNone {
		o.lock = 0
	}
	return o
}

func (o options) locking() bool { return o.lock != 0 }

// related returns the options for loading the target of a relation.
func (o options) related(graph *persist.Graph) options {
	return options{retrieve: o.retrieve, store: o.store, graph: graph}
}

// lockContext applies the lock timeout: zero asks for NOWAIT, a positive
// timeout becomes a deadline. The unit's persist.lock.timeout is the
// default.
func (em *EntityManager) lockContext(ctx context.Context, o options) (context.Context, context.CancelFunc, bool) {
	d := em.f.lockTimeout
	if o.timeout != nil {
		if *o.timeout == 0 {
			return ctx, func() {}, true
		}
		d = *o.timeout
	}
	if d > 0 {
		if em.f.dialect() == dialect.Postgres {
			// The server gives up first and reports 55P03.
			ctx = sql.WithVar(ctx, "lock_timeout", strconv.FormatInt(max(d.Milliseconds(), 1), 10)+"ms")
			d += lockGrace
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		return ctx, cancel, false
	}
	return ctx, func() {}, false
}

// lockGrace is how long the client waits past the server's lock timeout.
const lockGrace = 250 * time.Millisecond

func strength(mode persist.LockModeType) sql.LockStrength {
	switch mode {
	case persist.LockPessimisticRead:
		return sql.LockShare
	case persist.LockPessimisticWrite, persist.LockPessimisticForceIncrement:
		return sql.LockUpdate
	}
	return sql.LockNone
}

// Find returns the managed instance of T with the given id. T is the
// struct type.
//
//	u, err := provider.Find[User](ctx, em, 42, persist.LockPessimisticWrite)
func Find[T any](ctx context.Context, em *EntityManager, id any, opts ...persist.FindOption) (*T, error) {
	v, err := em.Find(ctx, reflect.TypeFor[T](), id, opts...)
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// Find returns a pointer to the managed instance of entityType with the
// given id. entityType is a reflect.Type, or a value or pointer of the
// type. The persistence context is consulted first, then the shared
// cache, then the database. A missing row gives a
// *persist.EntityNotFoundError. Relations are loaded as well, except those
// a fetch graph leaves out, which get an instance holding only the id.
func (em *EntityManager) Find(ctx context.Context, entityType, id any, opts ...persist.FindOption) (any, error) {
	if err := em.check(); err != nil {
		return nil, err
	}
	mt, err := em.f.managedType(entityType)
	if err != nil {
		return nil, err
	}
	if id, err = convertID(mt, id); err != nil {
		return nil, err
	}
	ptr, err := em.find(ctx, mt, id, parseOptions(ctx, em, opts))
	if err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

func (em *EntityManager) find(ctx context.Context, mt *metadata.ManagedType, id any, o options) (reflect.Value, error) {
	if o.locking() {
		w := em.current(ctx)
		if w == nil {
			return reflect.Value{}, fmt.Errorf("%w: find %s with lock mode %v", persist.ErrTransactionRequired, mt.Name, o.lock)
		}
		return em.findLocked(ctx, w, mt, id, o)
	}
	if ptr, ok := em.lookup(mt, id); ok {
		return ptr, nil
	}
	row, err := em.load(ctx, mt, id, o)
	if err != nil {
		return reflect.Value{}, err
	}
	return em.materialize(ctx, mt, row, o)
}

func (em *EntityManager) findLocked(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, id any, o options) (reflect.Value, error) {
	if err := versioned(mt, o.lock); err != nil {
		return reflect.Value{}, err
	}
	if ptr, ok := em.lookup(mt, id); ok {
		return ptr, em.fail(w, em.lock(ctx, w, mt, ptr, o))
	}
	lctx, cancel, nowait := em.lockContext(ctx, o)
	row, err := em.selectRow(lctx, w.exec(), mt, id, strength(o.lock), nowait)
	cancel()
	if err != nil {
		if !o.lock.IsPessimistic() {
			return reflect.Value{}, em.fail(w, statementError(mt, id, err))
		}
		return reflect.Value{}, em.fail(w, lockError(mt, id, err))
	}
	ptr, err := em.materialize(ctx, mt, row, o.related(o.graph))
	if err != nil {
		return reflect.Value{}, err
	}
	if o.lock.ForcesIncrement() {
		if err := em.increment(ctx, w, mt, ptr); err != nil {
			return reflect.Value{}, em.fail(w, err)
		}
	}
	return ptr, nil
}

// load reads the row of id without locks. Outside a transaction, reads go
// through the shared cache and concurrent misses of one key share a
// single query. In a transaction the cache is skipped for entities the
// transaction wrote, and nothing is stored once it wrote anything.
func (em *EntityManager) load(ctx context.Context, mt *metadata.ManagedType, id any, o options) ([]reflect.Value, error) {
	ex, w := em.reader(ctx)
	key := cacheKey(mt, id)
	cache := em.f.cache
	useCache := cache != nil && (w == nil || !w.touched(key))
	if useCache && o.retrieve != persist.CacheRetrieveBypass {
		data, err := cache.Get(ctx, key)
		switch {
		case err != nil:
			em.f.log.WarnContext(ctx, "shared cache read failed", "key", key, "error", err)
		case data != nil:
			row, err := decodeRow(mt, data)
			if err == nil {
				em.f.log.DebugContext(ctx, "shared cache hit", "key", key)
				return row, nil
			}
			em.f.log.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "error", err)
			em.f.evict(ctx, key)
		}
	}
	if useCache && w == nil {
		v, err, _ := em.f.loads.Do(key, func() (any, error) {
			row, err := em.selectRow(ctx, ex, mt, id, sql.LockNone, false)
			if err != nil {
				return nil, err
			}
			return encodeRow(row)
		})
		if err != nil {
			return nil, statementError(mt, id, err)
		}
		data := v.([]byte)
		em.f.store(ctx, key, data, o.store)
		return decodeRow(mt, data)
	}
	row, err := em.selectRow(ctx, ex, mt, id, sql.LockNone, false)
	if err != nil {
		return nil, statementError(mt, id, err)
	}
	if useCache && !w.dirty() {
		em.cacheRow(ctx, key, row, o.store)
	}
	return row, nil
}

func (em *EntityManager) cacheRow(ctx context.Context, key string, row []reflect.Value, mode persist.CacheStoreMode) {
	if em.f.cache == nil || mode == persist.CacheStoreBypass {
		return
	}
	data, err := encodeRow(row)
	if err != nil {
		em.f.log.WarnContext(ctx, "shared cache encoding failed", "key", key, "error", err)
		return
	}
	em.f.store(ctx, key, data, mode)
}

// selectRow reads the columns of one entity.
func (em *EntityManager) selectRow(ctx context.Context, ex dialect.ExecQuerier, mt *metadata.ManagedType, id any, lock sql.LockStrength, nowait bool) ([]reflect.Value, error) {
	sb := sql.Select(em.f.dialect(), mt.Columns()...).From(mt.Table).WhereEQ(mt.ID.Column, id).Lock(lock)
	if nowait {
		sb.NoWait()
	}
	query, args := sb.Query()
	var rows sql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, persist.NewEntityNotFoundError(mt.Name, id)
	}
	row := newRow(mt)
	if err := rows.Scan(scanArgs(row)...); err != nil {
		return nil, err
	}
	return row, rows.Err()
}

func scanArgs(row []reflect.Value) []any {
	args := make([]any, len(row))
	for i, dest := range row {
		args[i] = dest.Interface()
	}
	return args
}

// materialize turns a row into a managed instance. An instance already
// managed for the id wins over the row.
func (em *EntityManager) materialize(ctx context.Context, mt *metadata.ManagedType, row []reflect.Value, o options) (reflect.Value, error) {
	ptr := mt.New()
	if err := assign(mt, ptr, row); err != nil {
		return reflect.Value{}, err
	}
	id := mt.IDOf(ptr)
	if cur, ok := em.lookup(mt, id); ok {
		return cur, nil
	}
	// Managed before its relations resolve, so cycles end here.
	em.manage(mt, ptr)
	if err := em.resolve(ctx, mt, ptr, row, o); err != nil {
		em.forget(mt, id)
		return reflect.Value{}, err
	}
	return ptr, nil
}

func assign(mt *metadata.ManagedType, ptr reflect.Value, row []reflect.Value) error {
	for i, a := range mt.Attributes {
		if a.IsRelation() {
			continue
		}
		if err := a.Assign(ptr, row[i]); err != nil {
			return err
		}
	}
	return nil
}

// resolve sets the relations of ptr from the join columns in row.
func (em *EntityManager) resolve(ctx context.Context, mt *metadata.ManagedType, ptr reflect.Value, row []reflect.Value, o options) error {
	for i, a := range mt.Attributes {
		if !a.IsRelation() {
			continue
		}
		fk := row[i].Elem()
		if fk.IsNil() {
			a.Set(ptr, reflect.Zero(a.Type))
			continue
		}
		ref := fk.Elem().Interface()
		var sub *persist.Graph
		if o.graph != nil {
			node, ok := o.graph.AttributeNode(a.Name)
			if !ok {
				a.Set(ptr, reference(a.Target, ref))
				continue
			}
			if sg, ok := node.Subgraph(); ok {
				sub = &sg.Graph
			}
		}
		target, err := em.find(ctx, a.Target, ref, o.related(sub))
		switch {
		case persist.IsEntityNotFound(err):
			em.f.log.WarnContext(ctx, "dangling reference", "entity", mt.Name, "attribute", a.Name, "id", ref)
			a.Set(ptr, reference(a.Target, ref))
		case err != nil:
			return err
		default:
			a.Set(ptr, target)
		}
	}
	return nil
}

// reference returns an unmanaged instance of mt holding only id, standing
// in for a relation that was not loaded.
func reference(mt *metadata.ManagedType, id any) reflect.Value {
	ptr := mt.New()
	mt.ID.Set(ptr, reflect.ValueOf(id))
	return ptr
}

// Refresh reloads the state of a managed entity from the database,
// overwriting changes. A lock mode requires a transaction. The shared
// cache entry is overwritten unless the store mode is BYPASS. If the row
// is gone, the entity is detached and a *persist.EntityNotFoundError
// returned.
func (em *EntityManager) Refresh(ctx context.Context, entity any, opts ...persist.RefreshOption) error {
	if err := em.check(); err != nil {
		return err
	}
	mt, ptr, err := em.entity(entity)
	if err != nil {
		return err
	}
	if !em.Contains(entity) {
		return fmt.Errorf("%w: %s", persist.ErrNotManaged, mt.Name)
	}
	o := parseOptions(ctx, em, append([]persist.RefreshOption{persist.CacheStoreRefresh}, opts...))
	if err := versioned(mt, o.lock); err != nil {
		return err
	}
	ex, w := em.reader(ctx)
	if o.locking() && w == nil {
		return fmt.Errorf("%w: refresh %s with lock mode %v", persist.ErrTransactionRequired, mt.Name, o.lock)
	}
	id := mt.IDOf(ptr)
	lctx, cancel, nowait := ctx, context.CancelFunc(func() {}), false
	if o.locking() {
		lctx, cancel, nowait = em.lockContext(ctx, o)
	}
	row, err := em.selectRow(lctx, ex, mt, id, strength(o.lock), nowait)
	cancel()
	if err != nil {
		if persist.IsEntityNotFound(err) {
			em.forget(mt, id)
			return err
		}
		if o.lock.IsPessimistic() {
			err = lockError(mt, id, err)
		} else {
			err = statementError(mt, id, err)
		}
		if w != nil {
			err = em.fail(w, err)
		}
		return err
	}
	if err := assign(mt, ptr, row); err != nil {
		return err
	}
	if err := em.resolve(ctx, mt, ptr, row, o.related(nil)); err != nil {
		return err
	}
	if o.lock.ForcesIncrement() {
		if err := em.increment(ctx, w, mt, ptr); err != nil {
			return em.fail(w, err)
		}
	}
	key := cacheKey(mt, id)
	if w == nil || !w.dirty() {
		em.cacheRow(ctx, key, row, o.store)
	}
	return nil
}
