package persist

import (
	"fmt"
	"time"
)

type (
	// FindOption is accepted by find operations. The interface carries no
	// contract beyond type identity: what an option means is defined by its
	// concrete type, and a provider ignores options it does not recognise.
	FindOption interface{ findOption() }

	// LockOption is accepted by lock operations.
	LockOption interface{ lockOption() }

	// RefreshOption is accepted by refresh operations.
	RefreshOption interface{ refreshOption() }
)

// FindOptionMarker is embedded by custom find options.
type FindOptionMarker struct{}

func (FindOptionMarker) findOption() {}

// LockOptionMarker is embedded by custom lock options.
type LockOptionMarker struct{}

func (LockOptionMarker) lockOption() {}

// RefreshOptionMarker is embedded by custom refresh options.
type RefreshOptionMarker struct{}

func (RefreshOptionMarker) refreshOption() {}

// LockModeType is the lock to acquire on an entity.
type LockModeType uint8

const (
	// LockRead is a synonym for LockOptimistic.
	LockRead LockModeType = iota + 1
	// LockWrite is a synonym for LockOptimisticForceIncrement.
	LockWrite
	LockOptimistic
	LockOptimisticForceIncrement
	LockPessimisticRead
	LockPessimisticWrite
	LockPessimisticForceIncrement
	LockNone
)

var lockModeNames = []string{
	"",
	"READ",
	"WRITE",
	"OPTIMISTIC",
	"OPTIMISTIC_FORCE_INCREMENT",
	"PESSIMISTIC_READ",
	"PESSIMISTIC_WRITE",
	"PESSIMISTIC_FORCE_INCREMENT",
	"NONE",
}

// LockModeTypes returns all lock modes in declaration order.
func LockModeTypes() []LockModeType {
	return []LockModeType{
		LockRead, LockWrite, LockOptimistic, LockOptimisticForceIncrement,
		LockPessimisticRead, LockPessimisticWrite, LockPessimisticForceIncrement, LockNone,
	}
}

// ParseLockModeType parses the name of a lock mode, ignoring case.
func ParseLockModeType(s string) (LockModeType, error) {
	v, err := parseEnum("lock mode", s, lockModeNames)
	return LockModeType(v), err
}

// String returns the canonical name of the lock mode.
func (m LockModeType) String() string { return enumString("LockModeType", lockModeNames, uint8(m)) }

// IsValid reports whether m is one of the declared lock modes.
func (m LockModeType) IsValid() bool { return m >= LockRead && m <= LockNone }

// Normalize maps the READ and WRITE synonyms to their optimistic forms.
func (m LockModeType) Normalize() LockModeType {
	switch m {
	case LockRead:
		return LockOptimistic
	case LockWrite:
		return LockOptimisticForceIncrement
	}
	return m
}

// IsPessimistic reports whether the mode takes a database row lock.
func (m LockModeType) IsPessimistic() bool {
	return m == LockPessimisticRead || m == LockPessimisticWrite || m == LockPessimisticForceIncrement
}

// IsOptimistic reports whether the mode relies on the version attribute only.
func (m LockModeType) IsOptimistic() bool {
	switch m.Normalize() {
	case LockOptimistic, LockOptimisticForceIncrement:
		return true
	}
	return false
}

// ForcesIncrement reports whether the mode bumps the version attribute.
func (m LockModeType) ForcesIncrement() bool {
	n := m.Normalize()
	return n == LockOptimisticForceIncrement || n == LockPessimisticForceIncrement
}

// MarshalText implements encoding.TextMarshaler.
func (m LockModeType) MarshalText() ([]byte, error) {
	return marshalEnum("lock mode", lockModeNames, uint8(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *LockModeType) UnmarshalText(text []byte) error {
	v, err := ParseLockModeType(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (LockModeType) findOption()    {}
func (LockModeType) lockOption()    {}
func (LockModeType) refreshOption() {}

// Timeout bounds how long an operation may wait for a lock or a result.
// A zero Timeout asks for the lock without waiting (NOWAIT) where the
// database supports it.
type Timeout time.Duration

// Duration returns t as a time.Duration.
func (t Timeout) Duration() time.Duration { return time.Duration(t) }

// String returns the duration in time.Duration format.
func (t Timeout) String() string { return time.Duration(t).String() }

func (Timeout) findOption()    {}
func (Timeout) lockOption()    {}
func (Timeout) refreshOption() {}

// PessimisticLockScope widens a pessimistic lock beyond the entity row.
type PessimisticLockScope uint8

const (
	// LockScopeNormal locks the entity row only.
	LockScopeNormal PessimisticLockScope = iota + 1
	// LockScopeExtended also locks rows of owned collections and join
	// tables.
	LockScopeExtended
)

var lockScopeNames = []string{"", "NORMAL", "EXTENDED"}

// ParsePessimisticLockScope parses the name of a lock scope, ignoring case.
func ParsePessimisticLockScope(s string) (PessimisticLockScope, error) {
	v, err := parseEnum("lock scope", s, lockScopeNames)
	return PessimisticLockScope(v), err
}

func (s PessimisticLockScope) String() string {
	return enumString("PessimisticLockScope", lockScopeNames, uint8(s))
}

func (PessimisticLockScope) findOption()    {}
func (PessimisticLockScope) lockOption()    {}
func (PessimisticLockScope) refreshOption() {}

// CacheRetrieveMode controls whether find reads from the shared cache.
type CacheRetrieveMode uint8

const (
	CacheRetrieveUse CacheRetrieveMode = iota + 1
	CacheRetrieveBypass
)

var cacheRetrieveNames = []string{"", "USE", "BYPASS"}

// ParseCacheRetrieveMode parses the name of a retrieve mode, ignoring case.
func ParseCacheRetrieveMode(s string) (CacheRetrieveMode, error) {
	v, err := parseEnum("cache retrieve mode", s, cacheRetrieveNames)
	return CacheRetrieveMode(v), err
}

func (m CacheRetrieveMode) String() string {
	return enumString("CacheRetrieveMode", cacheRetrieveNames, uint8(m))
}

func (CacheRetrieveMode) findOption() {}

// CacheStoreMode controls how data read from the database reaches the
// shared cache.
type CacheStoreMode uint8

const (
	// CacheStoreUse stores entries that are not cached yet.
	CacheStoreUse CacheStoreMode = iota + 1
	// CacheStoreBypass leaves the cache untouched.
	CacheStoreBypass
	// CacheStoreRefresh overwrites cached entries.
	CacheStoreRefresh
)

var cacheStoreNames = []string{"", "USE", "BYPASS", "REFRESH"}

// ParseCacheStoreMode parses the name of a store mode, ignoring case.
func ParseCacheStoreMode(s string) (CacheStoreMode, error) {
	v, err := parseEnum("cache store mode", s, cacheStoreNames)
	return CacheStoreMode(v), err
}

func (m CacheStoreMode) String() string {
	return enumString("CacheStoreMode", cacheStoreNames, uint8(m))
}

func (CacheStoreMode) findOption()    {}
func (CacheStoreMode) refreshOption() {}

// FetchGraphOption restricts the relations loaded by find to the
// attributes named in Graph.
type FetchGraphOption struct {
	Graph *Graph
}

// FetchGraph returns a find option that loads only the relations in g.
func FetchGraph(g *Graph) FetchGraphOption {
	return FetchGraphOption{Graph: g}
}

func (FetchGraphOption) findOption() {}

func (o FetchGraphOption) String() string {
	if o.Graph == nil {
		return "FetchGraph(nil)"
	}
	return fmt.Sprintf("FetchGraph(%s)", o.Graph.Name())
}

var (
	_ FindOption    = LockModeType(0)
	_ LockOption    = LockModeType(0)
	_ RefreshOption = LockModeType(0)
	_ FindOption    = Timeout(0)
	_ LockOption    = Timeout(0)
	_ RefreshOption = Timeout(0)
	_ FindOption    = CacheRetrieveMode(0)
	_ FindOption    = CacheStoreMode(0)
	_ RefreshOption = CacheStoreMode(0)
	_ FindOption    = FetchGraphOption{}
)
