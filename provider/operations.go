package provider

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/metadata"
)

// Persist inserts entity, a pointer to a managed type, and makes it
// managed. Identity and UUID ids are generated when unset, and the version
// starts at 1. An id that is already taken gives persist.ErrEntityExists.
// Persisting a managed instance again is a no-op.
func (em *EntityManager) Persist(ctx context.Context, entity any) error {
	if err := em.check(); err != nil {
		return err
	}
	mt, ptr, err := em.entity(entity)
	if err != nil {
		return err
	}
	if mt.HasID(ptr) {
		id := mt.IDOf(ptr)
		if cur, ok := em.lookup(mt, id); ok {
			if cur.Pointer() == ptr.Pointer() {
				return nil
			}
			return fmt.Errorf("%w: %s (id=%v) is already managed", persist.ErrEntityExists, mt.Name, id)
		}
	}
	return em.write(ctx, func(ctx context.Context, w unitOfWork) error {
		return em.insert(ctx, w, mt, ptr)
	})
}

// insert writes a new row for ptr. The id and version it assigns are
// undone when the write fails.
func (em *EntityManager) insert(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, ptr reflect.Value) (err error) {
	idAttr := mt.ID
	generate := false
	id0, version0 := reflect.ValueOf(idAttr.Get(ptr).Interface()), mt.VersionOf(ptr)
	defer func() {
		if err != nil {
			idAttr.Set(ptr, id0)
			mt.SetVersion(ptr, version0)
		}
	}()
	if !mt.HasID(ptr) {
		switch idAttr.Generated {
		case metadata.GenerateUUID:
			u := uuid.New()
			v := reflect.ValueOf(u)
			if idAttr.Type.Kind() == reflect.String {
				v = reflect.ValueOf(u.String()).Convert(idAttr.Type)
			}
			idAttr.Set(ptr, v)
		case metadata.GenerateIdentity:
			generate = true
		default:
			return fmt.Errorf("persist: persist %s: id is not set and not generated", mt.Name)
		}
	}
	mt.SetVersion(ptr, 1)
	d := em.f.dialect()
	ib := sql.Insert(d, mt.Table)
	for _, a := range mt.Attributes {
		if a.ID && generate {
			continue
		}
		ib.Set(a.Column, a.ColumnValue(ptr))
	}
	ex := w.exec()
	if generate && d == dialect.Postgres {
		query, args := ib.Returning(idAttr.Column).Query()
		if err := returnID(ctx, ex, query, args, mt, ptr); err != nil {
			return writeError(mt, nil, err)
		}
	} else {
		query, args := ib.Query()
		var res sql.Result
		if err := ex.Exec(ctx, query, args, &res); err != nil {
			return writeError(mt, nil, err)
		}
		if generate {
			n, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("persist: persist %s: %w", mt.Name, err)
			}
			v := reflect.New(idAttr.Type).Elem()
			if v.CanInt() {
				v.SetInt(n)
			} else {
				v.SetUint(uint64(n))
			}
			idAttr.Set(ptr, v)
		}
	}
	id := mt.IDOf(ptr)
	em.manage(mt, ptr)
	em.written(ctx, w, mt, id)
	em.f.log.DebugContext(ctx, "entity persisted", "entity", mt.Name, "id", id)
	return nil
}

func returnID(ctx context.Context, ex dialect.ExecQuerier, query string, args []any, mt *metadata.ManagedType, ptr reflect.Value) error {
	var rows sql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errors.New("no id returned")
	}
	dest := mt.ID.NewScanDest()
	if err := rows.Scan(dest.Interface()); err != nil {
		return err
	}
	if err := mt.ID.Assign(ptr, dest); err != nil {
		return err
	}
	return rows.Err()
}

// Update writes the state of entity. Types with a version attribute are
// checked against the stored version, which is incremented; a mismatch
// gives a *persist.OptimisticLockError. A detached instance becomes
// managed unless another instance with its id is.
func (em *EntityManager) Update(ctx context.Context, entity any) error {
	if err := em.check(); err != nil {
		return err
	}
	mt, ptr, err := em.entity(entity)
	if err != nil {
		return err
	}
	if !mt.HasID(ptr) {
		return fmt.Errorf("%w: %s has no id", persist.ErrNotManaged, mt.Name)
	}
	id := mt.IDOf(ptr)
	if cur, ok := em.lookup(mt, id); ok && cur.Pointer() != ptr.Pointer() {
		return fmt.Errorf("persist: update %s (id=%v): another instance is managed", mt.Name, id)
	}
	return em.write(ctx, func(ctx context.Context, w unitOfWork) error {
		return em.update(ctx, w, mt, ptr)
	})
}

func (em *EntityManager) update(ctx context.Context, w unitOfWork, mt *metadata.ManagedType, ptr reflect.Value) error {
	id := mt.IDOf(ptr)
	version := mt.VersionOf(ptr)
	ub := sql.Update(em.f.dialect(), mt.Table)
	n := 0
	for _, a := range mt.Attributes {
		if a.ID || a.Version {
			continue
		}
		ub.Set(a.Column, a.ColumnValue(ptr))
		n++
	}
	if mt.Version != nil {
		ub.Increment(mt.Version.Column)
		n++
	}
	if n == 0 {
		// Nothing but the id is stored.
		return em.exists(ctx, w.exec(), mt, id)
	}
	ub.WhereEQ(mt.ID.Column, id)
	if mt.Version != nil {
		ub.WhereEQ(mt.Version.Column, version)
	}
	query, args := ub.Query()
	affected, err := execAffected(ctx, w.exec(), query, args)
	if err != nil {
		return writeError(mt, id, err)
	}
	if affected == 0 {
		if mt.Version != nil {
			return &persist.OptimisticLockError{Entity: mt.Name, ID: id, Version: version}
		}
		// MySQL reports changed rows only.
		if err := em.exists(ctx, w.exec(), mt, id); err != nil {
			return err
		}
	}
	mt.SetVersion(ptr, version+1)
	em.manage(mt, ptr)
	em.written(ctx, w, mt, id)
	return nil
}

// Remove deletes a managed entity and detaches it. Types with a version
// attribute are checked against the stored version.
func (em *EntityManager) Remove(ctx context.Context, entity any) error {
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
	return em.write(ctx, func(ctx context.Context, w unitOfWork) error {
		id := mt.IDOf(ptr)
		version := mt.VersionOf(ptr)
		db := sql.Delete(em.f.dialect(), mt.Table).WhereEQ(mt.ID.Column, id)
		if mt.Version != nil {
			db.WhereEQ(mt.Version.Column, version)
		}
		query, args := db.Query()
		affected, err := execAffected(ctx, w.exec(), query, args)
		if err != nil {
			return writeError(mt, id, err)
		}
		if affected == 0 {
			if mt.Version != nil {
				return &persist.OptimisticLockError{Entity: mt.Name, ID: id, Version: version}
			}
			return persist.NewEntityNotFoundError(mt.Name, id)
		}
		em.forget(mt, id)
		em.written(ctx, w, mt, id)
		em.f.log.DebugContext(ctx, "entity removed", "entity", mt.Name, "id", id)
		return nil
	})
}

// exists returns a *persist.EntityNotFoundError unless the row of id
// exists.
func (em *EntityManager) exists(ctx context.Context, ex dialect.ExecQuerier, mt *metadata.ManagedType, id any) error {
	query, args := sql.Select(em.f.dialect(), mt.ID.Column).From(mt.Table).WhereEQ(mt.ID.Column, id).Query()
	var rows sql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return fmt.Errorf("persist: %s: %w", mt.Name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("persist: %s: %w", mt.Name, err)
		}
		return persist.NewEntityNotFoundError(mt.Name, id)
	}
	return nil
}

func execAffected(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res sql.Result
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
