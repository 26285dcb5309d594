package provider

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql/sqlgraph"
	"github.com/syssam/persist/metadata"
)

// EntityManager works with entities through a persistence context: an
// identity map holding at most one managed instance per entity type and
// id. An EntityManager is meant for one goroutine at a time, although its
// state is guarded against concurrent use.
type EntityManager struct {
	f    *Factory
	sync persist.SynchronizationType

	mu      sync.Mutex
	managed map[entityKey]reflect.Value
	closed  bool
	tx      *EntityTransaction
	joined  *globalTx
	pending []writeOp

	// connMu serialises connection functions.
	connMu sync.Mutex
}

type entityKey struct {
	typ reflect.Type
	id  any
}

// writeOp is a write waiting for an UNSYNCHRONIZED manager to join a
// transaction.
type writeOp func(context.Context, unitOfWork) error

func newEntityManager(f *Factory, sync persist.SynchronizationType) *EntityManager {
	em := &EntityManager{
		f:       f,
		sync:    sync,
		managed: make(map[entityKey]reflect.Value),
	}
	em.tx = &EntityTransaction{txState: txState{f: f}, em: em}
	return em
}

// Factory returns the factory of the manager.
func (em *EntityManager) Factory() *Factory { return em.f }

// SynchronizationType returns how the manager joins global transactions.
func (em *EntityManager) SynchronizationType() persist.SynchronizationType { return em.sync }

// IsOpen reports whether the manager is open.
func (em *EntityManager) IsOpen() bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return !em.closed && em.f.IsOpen()
}

// Close closes the manager. An active resource-local transaction is rolled
// back and all entities are detached.
func (em *EntityManager) Close() error {
	em.mu.Lock()
	if em.closed {
		em.mu.Unlock()
		return nil
	}
	em.closed = true
	em.pending = nil
	em.mu.Unlock()
	var err error
	if em.tx.active() {
		err = em.tx.end(false)
	}
	em.Clear()
	return err
}

// Transaction returns the resource-local transaction of the manager.
func (em *EntityManager) Transaction() (*EntityTransaction, error) {
	if em.f.unit.TransactionType != persist.ResourceLocal {
		return nil, fmt.Errorf("persist: unit %s uses %v transactions, use the coordinator", em.f.unit.Name, em.f.unit.TransactionType)
	}
	return em.tx, nil
}

// JoinTransaction joins the manager to the global transaction in ctx.
// Writes made by an UNSYNCHRONIZED manager before joining are executed
// now; if one fails the transaction is marked for rollback.
func (em *EntityManager) JoinTransaction(ctx context.Context) error {
	if err := em.check(); err != nil {
		return err
	}
	if em.f.unit.TransactionType != persist.JTA {
		return fmt.Errorf("persist: unit %s uses %v transactions", em.f.unit.Name, em.f.unit.TransactionType)
	}
	g := em.f.coord.from(ctx)
	if g == nil {
		return fmt.Errorf("%w: no global transaction to join", persist.ErrTransactionRequired)
	}
	em.join(g)
	em.mu.Lock()
	pending := em.pending
	em.pending = nil
	em.mu.Unlock()
	for _, op := range pending {
		if err := op(ctx, g); err != nil {
			g.setRollbackOnly()
			return err
		}
	}
	return nil
}

// IsJoinedToTransaction reports whether the manager works in a
// transaction: the active resource-local one, or the global transaction
// in ctx.
func (em *EntityManager) IsJoinedToTransaction(ctx context.Context) bool {
	if em.f.unit.TransactionType == persist.ResourceLocal {
		return em.tx.active()
	}
	g := em.f.coord.from(ctx)
	em.mu.Lock()
	defer em.mu.Unlock()
	return g != nil && em.joined == g
}

// Contains reports whether entity is a managed instance.
func (em *EntityManager) Contains(entity any) bool {
	mt, ptr, err := em.entity(entity)
	if err != nil || !mt.HasID(ptr) {
		return false
	}
	cur, ok := em.lookup(mt, mt.IDOf(ptr))
	return ok && cur.Pointer() == ptr.Pointer()
}

// Detach removes entity from the persistence context. Changes to it are
// no longer tracked.
func (em *EntityManager) Detach(entity any) error {
	mt, ptr, err := em.entity(entity)
	if err != nil {
		return err
	}
	if !em.Contains(entity) {
		return fmt.Errorf("%w: %s", persist.ErrNotManaged, mt.Name)
	}
	em.forget(mt, mt.IDOf(ptr))
	return nil
}

// Clear detaches all managed entities.
func (em *EntityManager) Clear() {
	em.mu.Lock()
	defer em.mu.Unlock()
	clear(em.managed)
}

func (em *EntityManager) check() error {
	if !em.IsOpen() {
		return persist.ErrClosed
	}
	return nil
}

// entity resolves the managed type of a non-nil entity pointer.
func (em *EntityManager) entity(entity any) (*metadata.ManagedType, reflect.Value, error) {
	mt, err := em.f.meta.Entity(entity)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	ptr, err := mt.Pointer(entity)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return mt, ptr, nil
}

func (em *EntityManager) lookup(mt *metadata.ManagedType, id any) (reflect.Value, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	ptr, ok := em.managed[entityKey{mt.Type, id}]
	return ptr, ok
}

func (em *EntityManager) manage(mt *metadata.ManagedType, ptr reflect.Value) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.managed[entityKey{mt.Type, mt.IDOf(ptr)}] = ptr
}

func (em *EntityManager) forget(mt *metadata.ManagedType, id any) {
	em.mu.Lock()
	defer em.mu.Unlock()
	delete(em.managed, entityKey{mt.Type, id})
}

func (em *EntityManager) join(g *globalTx) {
	g.enlist(em)
	em.mu.Lock()
	em.joined = g
	em.mu.Unlock()
}

func (em *EntityManager) afterCompletion(g *globalTx, committed bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.joined == g {
		em.joined = nil
	}
	if !committed {
		clear(em.managed)
	}
}

// current returns the transaction the manager works in, or nil. A
// SYNCHRONIZED manager joins the global transaction in ctx.
func (em *EntityManager) current(ctx context.Context) unitOfWork {
	if em.f.unit.TransactionType == persist.ResourceLocal {
		if em.tx.active() {
			return em.tx
		}
		return nil
	}
	g := em.f.coord.from(ctx)
	if g == nil {
		return nil
	}
	em.mu.Lock()
	joined := em.joined == g
	em.mu.Unlock()
	if !joined {
		if em.sync != persist.Synchronized {
			return nil
		}
		em.join(g)
	}
	return g
}

// reader returns the executor for reads: the current transaction, or the
// pool.
func (em *EntityManager) reader(ctx context.Context) (dialect.ExecQuerier, unitOfWork) {
	if w := em.current(ctx); w != nil {
		return w.exec(), w
	}
	return em.f.exec, nil
}

// write runs op in the current transaction. An UNSYNCHRONIZED manager
// that has not joined one queues op until JoinTransaction.
func (em *EntityManager) write(ctx context.Context, op writeOp) error {
	if w := em.current(ctx); w != nil {
		return em.fail(w, op(ctx, w))
	}
	if em.sync == persist.Unsynchronized {
		em.mu.Lock()
		em.pending = append(em.pending, op)
		em.mu.Unlock()
		return nil
	}
	return persist.ErrTransactionRequired
}

// fail marks the transaction for rollback on errors that leave the
// persistence context out of step with the database.
func (em *EntityManager) fail(w unitOfWork, err error) error {
	var pe *persist.PessimisticLockError
	switch {
	case err == nil:
	case persist.IsOptimisticLock(err):
		w.setRollbackOnly()
	case errors.As(err, &pe) && !persist.IsLockTimeout(err):
		w.setRollbackOnly()
	}
	return err
}

// written records a write of the entity in w and evicts its cache entry.
func (em *EntityManager) written(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, id any) {
	key := cacheKey(mt, id)
	w.touch(key)
	em.f.evict(ctx, key)
}

// writeError translates driver errors of a write on mt.
func writeError(mt *metadata.ManagedType, id any, err error) error {
	switch {
	case sqlgraph.IsUniqueConstraintError(err):
		return fmt.Errorf("%w: %w", persist.ErrEntityExists, persist.NewConstraintError(fmt.Sprintf("%s: %v", mt.Name, err), err))
	case sqlgraph.IsConstraintError(err):
		return persist.NewConstraintError(fmt.Sprintf("%s: %v", mt.Name, err), err)
	}
	return statementError(mt, id, err)
}

// lockError translates failures of a statement that took row locks. Its
// deadline is the lock timeout, so running out of time is a lock timeout.
func lockError(mt *metadata.ManagedType, id any, err error) error {
	if sqlgraph.IsStatementTimeoutError(err) {
		return &persist.PessimisticLockError{Entity: mt.Name, ID: id, Err: fmt.Errorf("%w: %w", persist.ErrLockTimeout, err)}
	}
	return statementError(mt, id, err)
}

// statementError translates lock failures the database reports. Other
// errors are wrapped with the entity name.
func statementError(mt *metadata.ManagedType, id any, err error) error {
	switch {
	case persist.IsEntityNotFound(err):
		return err
	case sqlgraph.IsDeadlockError(err):
		return &persist.PessimisticLockError{Entity: mt.Name, ID: id, Err: err}
	case sqlgraph.IsLockTimeoutError(err):
		return &persist.PessimisticLockError{Entity: mt.Name, ID: id, Err: fmt.Errorf("%w: %w", persist.ErrLockTimeout, err)}
	}
	return fmt.Errorf("persist: %s: %w", mt.Name, err)
}

var uuidType = reflect.TypeFor[uuid.UUID]()

// convertID converts id to the column type of mt's id. Integers convert
// between widths and strings parse as UUIDs.
func convertID(mt *metadata.ManagedType, id any) (any, error) {
	if id == nil {
		return nil, fmt.Errorf("persist: nil %s id", mt.Name)
	}
	t := mt.ID.ColumnType()
	v := reflect.ValueOf(id)
	switch {
	case v.Type() == t:
		return id, nil
	case t == uuidType && v.Kind() == reflect.String:
		u, err := uuid.Parse(v.String())
		if err != nil {
			return nil, fmt.Errorf("persist: %s id: %w", mt.Name, err)
		}
		return u, nil
	case isInteger(v.Kind()) && isInteger(t.Kind()), v.Kind() == reflect.String && t.Kind() == reflect.String:
		return v.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("persist: %s id is %s, got %T", mt.Name, t, id)
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
