// Package provider is a persistence provider over database/sql. A Factory
// is opened for a persistence unit and hands out EntityManagers, each with
// its own persistence context:
//
//	f, err := provider.Open(ctx, u, provider.WithEntities(User{}, Team{}))
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	em, err := f.CreateEntityManager(persist.Synchronized)
//	if err != nil {
//	    return err
//	}
//	tx, _ := em.Transaction()
//	if err := tx.Begin(ctx); err != nil {
//	    return err
//	}
//	if err := em.Persist(ctx, &User{Name: "a8m"}); err != nil {
//	    return errors.Join(err, tx.Rollback())
//	}
//	return tx.Commit()
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/dialect/sql/schema"
	"github.com/syssam/persist/metadata"
	"github.com/syssam/persist/unit"
)

// Factory is the entry point of a persistence unit. It owns the connection
// pool, the metamodel, the named queries and the shared cache, and is safe
// for concurrent use.
type Factory struct {
	unit  *unit.Unit
	drv   *sql.Driver
	exec  dialect.ExecQuerier
	stats *sql.Stats
	meta  *metadata.Metamodel
	log   *slog.Logger
	coord *Coordinator

	cache persist.Cache
	ttl   time.Duration
	loads singleflight.Group

	lockTimeout  time.Duration
	queryTimeout time.Duration

	mu      sync.RWMutex
	queries map[string]unit.NamedQuery
	graphs  map[string]*persist.Graph
	closed  atomic.Bool
}

// Option configures a Factory.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	cache    persist.Cache
	entities []any
	graphs   []*persist.Graph
	stats    []sql.StatsOption
}

// WithLogger sets the logger of the factory and its entity managers.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithCache sets the shared cache. Without it, a unit with shared-cache
// enabled gets a MemoryCache.
func WithCache(cache persist.Cache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithEntities maps the given entity types up front. Types used later are
// mapped on first use.
func WithEntities(entities ...any) Option {
	return func(c *config) {
		c.entities = append(c.entities, entities...)
	}
}

// WithGraphs registers named entity graphs, usable with the
// persist.fetchgraph query hint.
func WithGraphs(graphs ...*persist.Graph) Option {
	return func(c *config) {
		c.graphs = append(c.graphs, graphs...)
	}
}

// WithSlowQueryHook sets a callback for statements slower than the
// persist.slow_query threshold.
func WithSlowQueryHook(hook sql.SlowQueryHook) Option {
	return func(c *config) {
		c.stats = append(c.stats, sql.WithSlowQueryHook(hook))
	}
}

// Open opens the unit's data source and returns a factory over it. The
// database/sql driver for the unit's dialect must be registered.
func Open(ctx context.Context, u *unit.Unit, opts ...Option) (*Factory, error) {
	drv, err := sql.Open(u.Dialect, u.DataSource)
	if err != nil {
		return nil, fmt.Errorf("persist: open unit %s: %w", u.Name, err)
	}
	if err := drv.DB().PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("persist: ping unit %s: %w", u.Name, err), drv.Close())
	}
	f, err := NewFactory(u, drv, opts...)
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	return f, nil
}

// NewFactory returns a factory for the unit over an open driver.
func NewFactory(u *unit.Unit, drv *sql.Driver, opts ...Option) (*Factory, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("persist: unit %s: %w", u.Name, err)
	}
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Properties were validated above.
	show, _ := u.Bool(unit.PropShowSQL)
	slow, _ := u.Duration(unit.PropSlowQuery)
	ttl, _ := u.Duration(unit.PropCacheTTL)
	lockTimeout, _ := u.Duration(unit.PropLockTimeout)
	queryTimeout, _ := u.Duration(unit.PropQueryTimeout)

	log := cfg.logger.With("unit", u.Name)
	statsOpts := []sql.StatsOption{sql.WithLogger(log), sql.WithShowSQL(show)}
	if slow > 0 {
		statsOpts = append(statsOpts, sql.WithSlowThreshold(slow))
	}
	stats := sql.NewStats(append(statsOpts, cfg.stats...)...)
	f := &Factory{
		unit:         u,
		drv:          drv,
		exec:         stats.Wrap(drv),
		stats:        stats,
		meta:         metadata.New(metadata.WithDefaultAccess(u.Access)),
		log:          log,
		cache:        cfg.cache,
		ttl:          ttl,
		lockTimeout:  lockTimeout,
		queryTimeout: queryTimeout,
		queries:      make(map[string]unit.NamedQuery),
		graphs:       make(map[string]*persist.Graph),
	}
	f.coord = &Coordinator{f: f}
	if f.cache == nil && u.SharedCache {
		f.cache = NewMemoryCache()
	}
	for _, q := range u.Queries() {
		f.queries[q.Name] = q
	}
	if err := f.Register(cfg.entities...); err != nil {
		return nil, err
	}
	for _, g := range cfg.graphs {
		if err := f.AddNamedEntityGraph(g); err != nil {
			return nil, err
		}
	}
	f.log.Info("persistence unit opened",
		"dialect", drv.Dialect(),
		"transaction_type", u.TransactionType,
		"entities", len(f.meta.ManagedTypes()),
		"shared_cache", f.cache != nil,
	)
	return f, nil
}

// Register maps entity types and adds the native queries they declare.
func (f *Factory) Register(entities ...any) error {
	if err := f.meta.Register(entities...); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.meta.NamedNativeQueries() {
		if cur, ok := f.queries[q.Name]; ok && cur.Query != q.Query {
			return fmt.Errorf("persist: duplicate query name %q", q.Name)
		}
		f.queries[q.Name] = q
	}
	return nil
}

// Unit returns the unit definition of the factory.
func (f *Factory) Unit() *unit.Unit { return f.unit }

// Driver returns the underlying driver.
func (f *Factory) Driver() *sql.Driver { return f.drv }

// Metamodel returns the managed types of the unit.
func (f *Factory) Metamodel() *metadata.Metamodel { return f.meta }

// Stats returns the statement statistics of the unit.
func (f *Factory) Stats() sql.StatsSnapshot { return f.stats.Snapshot() }

// Coordinator returns the transaction coordinator of a JTA unit.
func (f *Factory) Coordinator() *Coordinator { return f.coord }

// IsOpen reports whether the factory is open.
func (f *Factory) IsOpen() bool { return !f.closed.Load() }

// CreateEntityManager returns a new entity manager with an empty
// persistence context. A zero sync is SYNCHRONIZED.
func (f *Factory) CreateEntityManager(sync persist.SynchronizationType) (*EntityManager, error) {
	if f.closed.Load() {
		return nil, persist.ErrClosed
	}
	if sync == 0 {
		sync = persist.Synchronized
	}
	if !sync.IsValid() {
		return nil, fmt.Errorf("persist: invalid synchronization type %v", sync)
	}
	if sync == persist.Unsynchronized && f.unit.TransactionType != persist.JTA {
		return nil, fmt.Errorf("persist: %v entity managers need a JTA unit", sync)
	}
	return newEntityManager(f, sync), nil
}

// AddNamedQuery adds a named query to the unit, replacing any query with
// the same name.
func (f *Factory) AddNamedQuery(q unit.NamedQuery) error {
	if q.Name == "" || q.Query == "" {
		return errors.New("persist: named query needs a name and SQL")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[q.Name] = q
	return nil
}

// NamedQueries returns references to the unit's named queries, ordered by
// name.
func (f *Factory) NamedQueries() []persist.QueryReference[any] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := slices.Sorted(maps.Keys(f.queries))
	refs := make([]persist.QueryReference[any], len(names))
	for i, name := range names {
		refs[i] = persist.NewQueryReference[any](name, f.queries[name].Hints)
	}
	return refs
}

func (f *Factory) namedQuery(name string) (unit.NamedQuery, bool) {
	f.mu.RLock()
	q, ok := f.queries[name]
	f.mu.RUnlock()
	if ok {
		return q, true
	}
	// Types mapped after the factory was created may declare it.
	for _, q := range f.meta.NamedNativeQueries() {
		if q.Name == name {
			return q, true
		}
	}
	return unit.NamedQuery{}, false
}

// AddNamedEntityGraph registers a named entity graph.
func (f *Factory) AddNamedEntityGraph(g *persist.Graph) error {
	if g == nil || g.Name() == "" {
		return errors.New("persist: entity graph needs a name")
	}
	if _, err := f.meta.TypeOf(g.ClassType()); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphs[g.Name()] = g
	return nil
}

// NamedEntityGraph returns the named entity graph.
func (f *Factory) NamedEntityGraph(name string) (*persist.Graph, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	g, ok := f.graphs[name]
	return g, ok
}

// CreateSchema creates the tables of all managed types that do not exist
// yet. Relations declaring PROVIDER_DEFAULT follow the unit's
// constraint-mode.
func (f *Factory) CreateSchema(ctx context.Context) error {
	if f.closed.Load() {
		return persist.ErrClosed
	}
	types := f.meta.ManagedTypes()
	if err := schema.CreateTables(ctx, f.exec, f.dialect(), f.unit.ConstraintMode, types...); err != nil {
		return err
	}
	f.log.InfoContext(ctx, "schema created", "tables", len(types))
	return nil
}

// Close closes the connection pool. Entity managers of a closed factory
// fail with persist.ErrClosed.
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.log.Info("persistence unit closed", "stats", f.stats.Snapshot().String())
	return f.drv.Close()
}

func (f *Factory) dialect() string { return f.drv.Dialect() }

// managedType resolves an entity type given as a reflect.Type, a value or
// a pointer.
func (f *Factory) managedType(entityType any) (*metadata.ManagedType, error) {
	if t, ok := entityType.(reflect.Type); ok {
		return f.meta.TypeOf(t)
	}
	return f.meta.Entity(entityType)
}

// hintDuration reads a duration hint: a time.Duration, a persist.Timeout,
// a duration string or a number of milliseconds.
func hintDuration(v any) (time.Duration, error) {
	switch v := v.(type) {
	case time.Duration:
		return v, nil
	case persist.Timeout:
		return v.Duration(), nil
	case string:
		return unit.ParseDuration(strings.TrimSpace(v))
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("persist: invalid duration %v (%T)", v, v)
}
