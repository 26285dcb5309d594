package persist

import (
	"errors"
	"fmt"
)

// Standard sentinel errors. Typed errors below match them with errors.Is.
var (
	// ErrEntityNotFound is returned when the row behind an entity does not
	// exist.
	ErrEntityNotFound = errors.New("persist: entity not found")

	// ErrNoResult is returned by single-result queries that matched nothing.
	ErrNoResult = errors.New("persist: query returned no result")

	// ErrNonUniqueResult is returned by single-result queries that matched
	// more than one row.
	ErrNonUniqueResult = errors.New("persist: query returned more than one result")

	// ErrTransactionRequired is returned by operations that need an active
	// transaction.
	ErrTransactionRequired = errors.New("persist: transaction required")

	// ErrEntityExists is returned when persisting an entity whose id is
	// already taken.
	ErrEntityExists = errors.New("persist: entity already exists")

	// ErrNotManaged is returned when an operation needs a managed entity.
	ErrNotManaged = errors.New("persist: entity is not managed")

	// ErrOptimisticLock is returned when a version check fails.
	ErrOptimisticLock = errors.New("persist: optimistic lock failed")

	// ErrPessimisticLock is returned when a row lock cannot be obtained.
	ErrPessimisticLock = errors.New("persist: pessimistic lock failed")

	// ErrLockTimeout is returned when waiting for a lock timed out. The
	// transaction stays usable.
	ErrLockTimeout = errors.New("persist: lock timeout")

	// ErrQueryTimeout is returned when a query exceeded its timeout.
	ErrQueryTimeout = errors.New("persist: query timeout")

	// ErrRollbackOnly is returned when committing a transaction that was
	// marked for rollback.
	ErrRollbackOnly = errors.New("persist: transaction is marked for rollback")

	// ErrClosed is returned by a closed entity manager or factory.
	ErrClosed = errors.New("persist: closed")
)

// EntityNotFoundError reports a missing row for an entity type.
type EntityNotFoundError struct {
	Entity string
	ID     any
}

// Error returns the error string.
func (e *EntityNotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("persist: %s not found (id=%v)", e.Entity, e.ID)
	}
	return fmt.Sprintf("persist: %s not found", e.Entity)
}

// Is reports whether target is ErrEntityNotFound.
func (e *EntityNotFoundError) Is(target error) bool {
	return target == ErrEntityNotFound
}

// NewEntityNotFoundError returns a new EntityNotFoundError.
func NewEntityNotFoundError(entity string, id any) *EntityNotFoundError {
	return &EntityNotFoundError{Entity: entity, ID: id}
}

// IsEntityNotFound returns true if the error is an EntityNotFoundError.
func IsEntityNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrEntityNotFound)
}

// OptimisticLockError reports a version conflict on an entity.
type OptimisticLockError struct {
	Entity string
	ID     any
	// Version is the version the operation expected.
	Version int64
}

// Error returns the error string.
func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("persist: optimistic lock failed for %s (id=%v, version=%d)", e.Entity, e.ID, e.Version)
}

// Is reports whether target is ErrOptimisticLock.
func (e *OptimisticLockError) Is(target error) bool {
	return target == ErrOptimisticLock
}

// IsOptimisticLock returns true if the error is an optimistic lock failure.
func IsOptimisticLock(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLock)
}

// PessimisticLockError reports a failed row lock. Err is ErrLockTimeout
// when the lock wait timed out, and the driver error otherwise.
type PessimisticLockError struct {
	Entity string
	ID     any
	Err    error
}

// Error returns the error string.
func (e *PessimisticLockError) Error() string {
	return fmt.Sprintf("persist: lock %s (id=%v): %v", e.Entity, e.ID, e.Err)
}

// Is reports whether target is ErrPessimisticLock.
func (e *PessimisticLockError) Is(target error) bool {
	return target == ErrPessimisticLock
}

// Unwrap returns the underlying error.
func (e *PessimisticLockError) Unwrap() error { return e.Err }

// IsLockTimeout returns true if the error is a lock wait timeout.
func IsLockTimeout(err error) bool {
	return err != nil && errors.Is(err, ErrLockTimeout)
}

// ConstraintError reports a database constraint violation.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("persist: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error { return e.wrap }

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// QueryError wraps a query error with the query it came from.
type QueryError struct {
	Query string // Query name, or the SQL of an unnamed query
	Op    string // e.g. "list", "single", "execute"
	Err   error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("persist: query %s (%s): %v", e.Query, e.Op, e.Err)
	}
	return fmt.Sprintf("persist: query %s: %v", e.Query, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a new QueryError.
func NewQueryError(query, op string, err error) *QueryError {
	return &QueryError{Query: query, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// RollbackError wraps the error that made a commit roll back.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("persist: transaction rolled back: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error { return e.Err }

// IsRollback returns true if the error is a RollbackError.
func IsRollback(err error) bool {
	if err == nil {
		return false
	}
	var e *RollbackError
	return errors.As(err, &e)
}

// MappingError reports an invalid mapping of a Go type.
type MappingError struct {
	Type      string
	Attribute string
	Err       error
}

// Error returns the error string.
func (e *MappingError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("persist: mapping %s.%s: %v", e.Type, e.Attribute, e.Err)
	}
	return fmt.Sprintf("persist: mapping %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *MappingError) Unwrap() error { return e.Err }

// IsMappingError returns true if the error is a MappingError.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var e *MappingError
	return errors.As(err, &e)
}
