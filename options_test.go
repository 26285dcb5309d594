package persist_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

// tenantScope is a provider-specific option. It declares nothing but the
// markers it embeds.
type tenantScope struct {
	persist.FindOptionMarker
	persist.RefreshOptionMarker
	Tenant string
}

func TestCustomOption(t *testing.T) {
	var opt any = tenantScope{Tenant: "acme"}
	_, isFind := opt.(persist.FindOption)
	_, isRefresh := opt.(persist.RefreshOption)
	_, isLock := opt.(persist.LockOption)
	assert.True(t, isFind)
	assert.True(t, isRefresh)
	assert.False(t, isLock)
}

func TestStandardOptions(t *testing.T) {
	tests := []struct {
		name                string
		opt                 any
		find, lock, refresh bool
	}{
		{"lock_mode", persist.LockPessimisticWrite, true, true, true},
		{"timeout", persist.Timeout(time.Second), true, true, true},
		{"lock_scope", persist.LockScopeExtended, true, true, true},
		{"cache_retrieve", persist.CacheRetrieveBypass, true, false, false},
		{"cache_store", persist.CacheStoreRefresh, true, false, true},
		{"fetch_graph", persist.FetchGraph(nil), true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, find := tt.opt.(persist.FindOption)
			_, lock := tt.opt.(persist.LockOption)
			_, refresh := tt.opt.(persist.RefreshOption)
			assert.Equal(t, tt.find, find, "find")
			assert.Equal(t, tt.lock, lock, "lock")
			assert.Equal(t, tt.refresh, refresh, "refresh")
		})
	}
}

func TestLockModeType(t *testing.T) {
	assert.Len(t, persist.LockModeTypes(), 8)
	assert.Equal(t, persist.LockOptimistic, persist.LockRead.Normalize())
	assert.Equal(t, persist.LockOptimisticForceIncrement, persist.LockWrite.Normalize())
	assert.Equal(t, persist.LockNone, persist.LockNone.Normalize())

	tests := []struct {
		mode                          persist.LockModeType
		pessimistic, optimistic, bump bool
	}{
		{persist.LockRead, false, true, false},
		{persist.LockWrite, false, true, true},
		{persist.LockOptimistic, false, true, false},
		{persist.LockOptimisticForceIncrement, false, true, true},
		{persist.LockPessimisticRead, true, false, false},
		{persist.LockPessimisticWrite, true, false, false},
		{persist.LockPessimisticForceIncrement, true, false, true},
		{persist.LockNone, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.pessimistic, tt.mode.IsPessimistic())
			assert.Equal(t, tt.optimistic, tt.mode.IsOptimistic())
			assert.Equal(t, tt.bump, tt.mode.ForcesIncrement())
		})
	}

	m, err := persist.ParseLockModeType("pessimistic-force-increment")
	require.NoError(t, err)
	assert.Equal(t, persist.LockPessimisticForceIncrement, m)
}

func TestOptionParsing(t *testing.T) {
	scope, err := persist.ParsePessimisticLockScope("extended")
	require.NoError(t, err)
	assert.Equal(t, persist.LockScopeExtended, scope)
	assert.Equal(t, "EXTENDED", scope.String())

	retrieve, err := persist.ParseCacheRetrieveMode("bypass")
	require.NoError(t, err)
	assert.Equal(t, persist.CacheRetrieveBypass, retrieve)

	store, err := persist.ParseCacheStoreMode("Refresh")
	require.NoError(t, err)
	assert.Equal(t, persist.CacheStoreRefresh, store)

	_, err = persist.ParseCacheStoreMode("sometimes")
	assert.Error(t, err)
}

func TestTimeoutAndFetchGraph(t *testing.T) {
	assert.Equal(t, 2*time.Second, persist.Timeout(2*time.Second).Duration())
	assert.Equal(t, "0s", persist.Timeout(0).String())

	g := persist.NewGraph[struct{}]("summary")
	assert.Equal(t, "FetchGraph(summary)", persist.FetchGraph(g).String())
	assert.Equal(t, "FetchGraph(nil)", persist.FetchGraphOption{}.String())
}
