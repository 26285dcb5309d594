package provider

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
)

// unitOfWork is the database transaction an entity manager works in.
type unitOfWork interface {
	exec() dialect.ExecQuerier
	conn() *stdsql.Conn
	// touch records that the entity behind key was written.
	touch(key string)
	// touchAll records a bulk statement with unknown effects.
	touchAll()
	touched(key string) bool
	dirty() bool
	setRollbackOnly()
}

// txState is a database transaction on a pinned connection, together
// with the cache keys it wrote.
type txState struct {
	f *Factory

	mu           sync.Mutex
	tx           *sql.Tx
	ex           dialect.ExecQuerier
	keys         map[string]struct{}
	bulk         bool
	rollbackOnly bool
}

func (s *txState) begin(ctx context.Context) error {
	tx, err := s.f.drv.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx, s.ex = tx, s.f.stats.Wrap(tx)
	s.keys, s.bulk, s.rollbackOnly = make(map[string]struct{}), false, false
	return nil
}

// end commits or rolls back. Entries written by the transaction are
// evicted again, since other managers may have cached the previous state
// while it ran.
func (s *txState) end(commit bool) error {
	s.mu.Lock()
	tx, keys, bulk := s.tx, s.keys, s.bulk
	s.tx, s.ex, s.keys = nil, nil, nil
	s.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("%w: no active transaction", persist.ErrTransactionRequired)
	}
	var err error
	if commit {
		err = tx.Commit()
	} else {
		err = tx.Rollback()
	}
	ctx := context.Background()
	if bulk {
		s.f.evictAll(ctx)
	} else {
		s.f.evict(ctx, slices.Collect(maps.Keys(keys))...)
	}
	return err
}

func (s *txState) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

func (s *txState) exec() dialect.ExecQuerier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ex
}

func (s *txState) conn() *stdsql.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx.SQLConn()
}

func (s *txState) touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys != nil {
		s.keys[key] = struct{}{}
	}
}

func (s *txState) touchAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = true
}

func (s *txState) touched(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok || s.bulk
}

func (s *txState) dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys) > 0 || s.bulk
}

func (s *txState) setRollbackOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackOnly = true
}

func (s *txState) isRollbackOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackOnly
}

// EntityTransaction is the resource-local transaction of an entity
// manager. Rolling back detaches all managed entities.
type EntityTransaction struct {
	txState
	em *EntityManager
}

// Begin starts a transaction.
func (t *EntityTransaction) Begin(ctx context.Context) error {
	if err := t.em.check(); err != nil {
		return err
	}
	if t.active() {
		return errors.New("persist: transaction already active")
	}
	if err := t.begin(ctx); err != nil {
		return err
	}
	t.em.f.log.DebugContext(ctx, "transaction started")
	return nil
}

// Commit commits the transaction. A transaction marked for rollback, or
// one the database fails to commit, is rolled back and a
// *persist.RollbackError is returned.
func (t *EntityTransaction) Commit() error {
	if !t.active() {
		return fmt.Errorf("%w: commit without active transaction", persist.ErrTransactionRequired)
	}
	if t.isRollbackOnly() {
		err := t.end(false)
		t.em.Clear()
		return &persist.RollbackError{Err: errors.Join(persist.ErrRollbackOnly, err)}
	}
	if err := t.end(true); err != nil {
		t.em.Clear()
		return &persist.RollbackError{Err: err}
	}
	return nil
}

// Rollback rolls the transaction back and clears the persistence context.
func (t *EntityTransaction) Rollback() error {
	if !t.active() {
		return fmt.Errorf("%w: rollback without active transaction", persist.ErrTransactionRequired)
	}
	err := t.end(false)
	t.em.Clear()
	return err
}

// SetRollbackOnly marks the transaction so that it can only roll back.
func (t *EntityTransaction) SetRollbackOnly() error {
	if !t.active() {
		return fmt.Errorf("%w: no active transaction", persist.ErrTransactionRequired)
	}
	t.setRollbackOnly()
	return nil
}

// RollbackOnly reports whether the transaction is marked for rollback.
func (t *EntityTransaction) RollbackOnly() bool { return t.isRollbackOnly() }

// IsActive reports whether the transaction is in progress.
func (t *EntityTransaction) IsActive() bool { return t.active() }

// Coordinator demarcates global transactions of a JTA unit. A global
// transaction lives in a context and runs on one connection; every entity
// manager joined to it works in it.
//
//	ctx, err := f.Coordinator().Begin(ctx)
//	...
//	em.Persist(ctx, order) // joins a SYNCHRONIZED manager
//	err = f.Coordinator().Commit(ctx)
type Coordinator struct {
	f *Factory
}

type globalTxKey struct{}

type globalTx struct {
	txState
	coord *Coordinator

	membersMu sync.Mutex
	members   []*EntityManager
}

// Begin starts a global transaction and returns a context carrying it.
func (c *Coordinator) Begin(ctx context.Context) (context.Context, error) {
	if c.f.unit.TransactionType != persist.JTA {
		return nil, fmt.Errorf("persist: unit %s uses %v transactions", c.f.unit.Name, c.f.unit.TransactionType)
	}
	if c.f.closed.Load() {
		return nil, persist.ErrClosed
	}
	if c.from(ctx) != nil {
		return nil, errors.New("persist: global transaction already active")
	}
	g := &globalTx{txState: txState{f: c.f}, coord: c}
	if err := g.begin(ctx); err != nil {
		return nil, err
	}
	c.f.log.DebugContext(ctx, "global transaction started")
	return context.WithValue(ctx, globalTxKey{}, g), nil
}

// IsActive reports whether ctx carries an active global transaction of
// this coordinator.
func (c *Coordinator) IsActive(ctx context.Context) bool { return c.from(ctx) != nil }

// SetRollbackOnly marks the global transaction for rollback.
func (c *Coordinator) SetRollbackOnly(ctx context.Context) error {
	g := c.from(ctx)
	if g == nil {
		return fmt.Errorf("%w: no global transaction", persist.ErrTransactionRequired)
	}
	g.setRollbackOnly()
	return nil
}

// Commit commits the global transaction in ctx. Like
// EntityTransaction.Commit, it rolls back a transaction marked for
// rollback and returns a *persist.RollbackError.
func (c *Coordinator) Commit(ctx context.Context) error {
	g := c.from(ctx)
	if g == nil {
		return fmt.Errorf("%w: no global transaction", persist.ErrTransactionRequired)
	}
	if g.isRollbackOnly() {
		err := g.end(false)
		g.complete(false)
		return &persist.RollbackError{Err: errors.Join(persist.ErrRollbackOnly, err)}
	}
	if err := g.end(true); err != nil {
		g.complete(false)
		return &persist.RollbackError{Err: err}
	}
	g.complete(true)
	c.f.log.DebugContext(ctx, "global transaction committed")
	return nil
}

// Rollback rolls back the global transaction in ctx. Joined entity
// managers are cleared.
func (c *Coordinator) Rollback(ctx context.Context) error {
	g := c.from(ctx)
	if g == nil {
		return fmt.Errorf("%w: no global transaction", persist.ErrTransactionRequired)
	}
	err := g.end(false)
	g.complete(false)
	return err
}

func (c *Coordinator) from(ctx context.Context) *globalTx {
	g, _ := ctx.Value(globalTxKey{}).(*globalTx)
	if g == nil || g.coord != c || !g.active() {
		return nil
	}
	return g
}

func (g *globalTx) enlist(em *EntityManager) {
	g.membersMu.Lock()
	defer g.membersMu.Unlock()
	if !slices.Contains(g.members, em) {
		g.members = append(g.members, em)
	}
}

func (g *globalTx) complete(committed bool) {
	g.membersMu.Lock()
	members := g.members
	g.members = nil
	g.membersMu.Unlock()
	for _, em := range members {
		em.afterCompletion(g, committed)
	}
}

var (
	_ unitOfWork = (*EntityTransaction)(nil)
	_ unitOfWork = (*globalTx)(nil)
)
