package persist_test

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/persist"
)

type account struct {
	ID   int64
	Name string
}

func TestQueryReference(t *testing.T) {
	ref := persist.NewQueryReference[account]("Account.byName", nil)
	assert.Equal(t, "Account.byName", ref.Name())
	assert.Equal(t, reflect.TypeFor[account](), ref.ResultType())
	assert.NotNil(t, ref.Hints())
	assert.Empty(t, ref.Hints())

	hints := map[string]any{persist.HintQueryTimeout: "2s"}
	ref = persist.NewQueryReference[account]("Account.all", hints)
	hints[persist.HintQueryTimeout] = "5s"
	assert.Equal(t, "2s", ref.Hints()[persist.HintQueryTimeout], "hints are copied")

	ref.Hints()[persist.HintFetchGraph] = "summary"
	assert.NotContains(t, ref.Hints(), persist.HintFetchGraph)

	with := ref.WithHint(persist.HintCacheStoreMode, persist.CacheStoreBypass)
	assert.Len(t, with.Hints(), 2)
	assert.Len(t, ref.Hints(), 1)

	var tqr persist.TypedQueryReference[account] = with
	assert.Equal(t, "Account.all", tqr.Name())
}

func TestConnectionFunction(t *testing.T) {
	errBoom := errors.New("boom")
	f := persist.ConnectionFunction[*sql.Conn, int](func(context.Context, *sql.Conn) (int, error) {
		return 0, errBoom
	})
	_, err := f.Apply(context.Background(), nil)
	assert.Same(t, errBoom, err)

	var seen time.Duration
	consume := persist.ConnectionConsumer[time.Duration](func(_ context.Context, d time.Duration) error {
		seen = d
		return nil
	})
	res, err := consume.Func().Apply(context.Background(), time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, struct{}{}, res)
	assert.Equal(t, time.Minute, seen)
	assert.NoError(t, consume.Accept(context.Background(), time.Second))
	assert.Equal(t, time.Second, seen)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "User:42", persist.CacheKey{Entity: "User", ID: int64(42)}.String())
	assert.Equal(t, "User:", persist.CachePrefix("User"))
}
