package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/persist/dialect"
)

// Stats collects statement statistics for every ExecQuerier it wraps.
// A single Stats is shared by the pool and by all transactions of a
// factory, so the counters cover the whole unit.
type Stats struct {
	queries  atomic.Int64
	execs    atomic.Int64
	duration atomic.Int64 // nanoseconds
	slow     atomic.Int64
	errors   atomic.Int64

	mu            sync.RWMutex
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	logger        *slog.Logger
	showSQL       bool
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsOption configures Stats.
type StatsOption func(*Stats)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *Stats) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *Stats) {
		s.slowHook = hook
	}
}

// WithLogger sets the logger used for statement and slow-statement logs.
func WithLogger(l *slog.Logger) StatsOption {
	return func(s *Stats) {
		s.logger = l
	}
}

// WithShowSQL logs every statement at debug level.
func WithShowSQL(show bool) StatsOption {
	return func(s *Stats) {
		s.showSQL = show
	}
}

// NewStats returns a new statistics collector.
func NewStats(opts ...StatsOption) *Stats {
	s := &Stats{slowThreshold: 100 * time.Millisecond, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wrap returns an ExecQuerier that records its statements in s.
func (s *Stats) Wrap(eq dialect.ExecQuerier) dialect.ExecQuerier {
	if eq == nil {
		return nil
	}
	return &statsExecQuerier{ExecQuerier: eq, stats: s}
}

// SlowThreshold returns the current slow statement threshold.
func (s *Stats) SlowThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slowThreshold
}

// SetSlowThreshold updates the slow statement threshold.
func (s *Stats) SetSlowThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowThreshold = threshold
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.queries.Load(),
		TotalExecs:    s.execs.Load(),
		TotalDuration: time.Duration(s.duration.Load()),
		SlowQueries:   s.slow.Load(),
		Errors:        s.errors.Load(),
	}
}

// Reset resets all counters to zero.
func (s *Stats) Reset() {
	s.queries.Store(0)
	s.execs.Store(0)
	s.duration.Store(0)
	s.slow.Store(0)
	s.errors.Store(0)
}

func (s *Stats) record(ctx context.Context, op, query string, args any, start time.Time, err error) {
	duration := time.Since(start)
	if op == "query" {
		s.queries.Add(1)
	} else {
		s.execs.Add(1)
	}
	s.duration.Add(int64(duration))
	if err != nil {
		s.errors.Add(1)
	}

	s.mu.RLock()
	threshold, hook, logger, show := s.slowThreshold, s.slowHook, s.logger, s.showSQL
	s.mu.RUnlock()

	argv, _ := args.([]any)
	if show {
		logger.DebugContext(ctx, "sql statement", "op", op, "query", query, "args", argv, "duration", duration, "error", err)
	}
	if duration > threshold {
		s.slow.Add(1)
		logger.WarnContext(ctx, "slow query detected", "duration", duration, "query", query)
		if hook != nil {
			hook(ctx, query, argv, duration)
		}
	}
}

type statsExecQuerier struct {
	dialect.ExecQuerier
	stats *Stats
}

func (e *statsExecQuerier) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := e.ExecQuerier.Query(ctx, query, args, v)
	e.stats.record(ctx, "query", query, args, start, err)
	return err
}

func (e *statsExecQuerier) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := e.ExecQuerier.Exec(ctx, query, args, v)
	e.stats.record(ctx, "exec", query, args, start, err)
	return err
}

// StatsSnapshot is a point-in-time snapshot of statement statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}
