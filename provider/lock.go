package provider

import (
	"context"
	"fmt"
	"reflect"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metadata"
)

// Lock locks a managed entity in the current transaction.
//
//   - OPTIMISTIC (READ) checks that the stored version still matches.
//   - OPTIMISTIC_FORCE_INCREMENT (WRITE) increments the version.
//   - PESSIMISTIC_READ and PESSIMISTIC_WRITE lock the row with FOR SHARE
//     and FOR UPDATE where the database supports it.
//   - PESSIMISTIC_FORCE_INCREMENT locks the row and increments the version.
//
// A persist.Timeout of zero asks for NOWAIT, a positive one bounds the
// wait. Failing to get the lock in time gives a *persist.PessimisticLockError
// matching persist.ErrLockTimeout, which leaves the transaction usable.
// Other lock failures mark the transaction for rollback.
func (em *EntityManager) Lock(ctx context.Context, entity any, mode persist.LockModeType, opts ...persist.LockOption) error {
	if err := em.check(); err != nil {
		return err
	}
	if !mode.IsValid() {
		return fmt.Errorf("persist: invalid lock mode %v", mode)
	}
	mt, ptr, err := em.entity(entity)
	if err != nil {
		return err
	}
	if !em.Contains(entity) {
		return fmt.Errorf("%w: %s", persist.ErrNotManaged, mt.Name)
	}
	o := parseOptions(ctx, em, opts)
	if o.lock = mode.Normalize(); o.lock == persist.LockNone {
		return nil
	}
	if err := versioned(mt, o.lock); err != nil {
		return err
	}
	w := em.current(ctx)
	if w == nil {
		return fmt.Errorf("%w: lock %s with %v", persist.ErrTransactionRequired, mt.Name, o.lock)
	}
	return em.fail(w, em.lock(ctx, w, mt, ptr, o))
}

// versioned checks that optimistic modes have a version to work with.
func versioned(mt *metadata.ManagedType, mode persist.LockModeType) error {
	if mode.IsOptimistic() && mt.Version == nil {
		return fmt.Errorf("persist: %v needs a version attribute on %s", mode, mt.Name)
	}
	return nil
}

func (em *EntityManager) lock(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, ptr reflect.Value, o options) error {
	if o.lock == persist.LockOptimistic || o.lock.IsPessimistic() {
		id := mt.IDOf(ptr)
		stored, err := em.selectVersion(ctx, w, mt, id, o)
		if err != nil && o.lock.IsPessimistic() {
			return lockError(mt, id, err)
		}
		if err != nil {
			return statementError(mt, id, err)
		}
		if want := mt.VersionOf(ptr); mt.Version != nil && stored != want {
			return &persist.OptimisticLockError{Entity: mt.Name, ID: id, Version: want}
		}
	}
	if o.lock.ForcesIncrement() {
		return em.increment(ctx, w, mt, ptr)
	}
	return nil
}

// selectVersion reads the stored version of id, taking the row lock of
// the mode. Types without a version read their id instead and report 0.
func (em *EntityManager) selectVersion(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, id any, o options) (int64, error) {
	column := mt.ID.Column
	if mt.Version != nil {
		column = mt.Version.Column
	}
	ctx, cancel, nowait := em.lockContext(ctx, o)
	defer cancel()
	sb := sql.Select(em.f.dialect(), column).From(mt.Table).WhereEQ(mt.ID.Column, id).Lock(strength(o.lock))
	if nowait {
		sb.NoWait()
	}
	query, args := sb.Query()
	var rows sql.Rows
	if err := w.exec().Query(ctx, query, args, &rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, persist.NewEntityNotFoundError(mt.Name, id)
	}
	var (
		version int64
		dest    any = new(any)
	)
	if mt.Version != nil {
		dest = &version
	}
	if err := rows.Scan(dest); err != nil {
		return 0, err
	}
	return version, rows.Err()
}

// increment bumps the version of a managed entity, checking the version
// it holds.
func (em *EntityManager) increment(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, ptr reflect.Value) error {
	if mt.Version == nil {
		return nil
	}
	id := mt.IDOf(ptr)
	version := mt.VersionOf(ptr)
	query, args := sql.Update(em.f.dialect(), mt.Table).
		Increment(mt.Version.Column).
		WhereEQ(mt.ID.Column, id).
		WhereEQ(mt.Version.Column, version).
		Query()
	affected, err := execAffected(ctx, w.exec(), query, args)
	if err != nil {
		return writeError(mt, id, err)
	}
	if affected == 0 {
		return &persist.OptimisticLockError{Entity: mt.Name, ID: id, Version: version}
	}
	mt.SetVersion(ptr, version+1)
	em.written(ctx, w, mt, id)
	return nil
}
