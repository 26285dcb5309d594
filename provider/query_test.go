package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/unit"
)

func seedLeague(t *testing.T, f *Factory) []*Team {
	t.Helper()
	em := newManager(t, f)
	teams := []*Team{{Name: "owls"}, {Name: "hawks"}, {Name: "eagles"}}
	inTx(t, em, func(ctx context.Context) {
		for _, team := range teams {
			require.NoError(t, em.Persist(ctx, team))
		}
		for i, name := range []string{"ada", "grace", "linus"} {
			require.NoError(t, em.Persist(ctx, &Player{Name: name, Team: teams[i%2]}))
		}
	})
	return teams
}

func TestTupleQuery(t *testing.T) {
	f := newFactory(t, localUnit)
	seedLeague(t, f)
	em := newManager(t, f)

	rows, err := CreateTupleQuery(em, "SELECT name AS team, id FROM teams ORDER BY name").ResultList(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	v, err := rows[0].GetAlias("team")
	require.NoError(t, err)
	assert.Equal(t, "eagles", v)
	alias, ok := rows[0].Elements()[1].Alias()
	assert.True(t, ok)
	assert.Equal(t, "id", alias)
	_, err = rows[0].GetAlias("missing")
	assert.Error(t, err)
}

func TestEntityQuery(t *testing.T) {
	f := newFactory(t, localUnit)
	teams := seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	q := CreateNativeQuery[*Player](em, "SELECT * FROM players WHERE team_id = ? ORDER BY id").SetParameter(1, teams[0].ID)
	players, err := q.ResultList(ctx)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "ada", players[0].Name)
	assert.Equal(t, "linus", players[1].Name)
	assert.True(t, em.Contains(players[0]), "results are managed")
	assert.Same(t, players[0].Team, players[1].Team)

	found, err := Find[Player](ctx, em, players[0].ID)
	require.NoError(t, err)
	assert.Same(t, players[0], found)

	byValue, err := CreateNativeQuery[Team](em, "SELECT id, name FROM teams ORDER BY id").ResultList(ctx)
	require.NoError(t, err)
	assert.Len(t, byValue, 3)

	_, err = CreateNativeQuery[Team](em, "SELECT name FROM teams").ResultList(ctx)
	assert.ErrorContains(t, err, "need the id column")
}

func TestScalarQuery(t *testing.T) {
	f := newFactory(t, localUnit)
	seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	n, err := CreateNativeQuery[int64](em, "SELECT count(*) FROM teams").SingleResult(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	names, err := CreateNativeQuery[string](em, "SELECT name FROM teams ORDER BY name").
		SetFirstResult(1).
		SetMaxResults(1).
		ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hawks"}, names)

	names, err = CreateNativeQuery[string](em, "SELECT name FROM teams ORDER BY name;").SetFirstResult(2).ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"owls"}, names)

	_, err = CreateNativeQuery[string](em, "SELECT name FROM teams WHERE name = ?").SetParameter(1, "none").SingleResult(ctx)
	assert.ErrorIs(t, err, persist.ErrNoResult)
	assert.True(t, persist.IsQueryError(err))

	_, err = CreateNativeQuery[string](em, "SELECT name FROM teams").SingleResult(ctx)
	assert.ErrorIs(t, err, persist.ErrNonUniqueResult)

	_, err = CreateNativeQuery[string](em, "SELECT id, name FROM teams").ResultList(ctx)
	assert.ErrorContains(t, err, "need one column")
}

func TestQueryParameters(t *testing.T) {
	f := newFactory(t, localUnit)
	em := newManager(t, f)
	ctx := context.Background()

	_, err := CreateNativeQuery[string](em, "SELECT name FROM teams WHERE id = ? AND name = ?").SetParameter(2, "x").ResultList(ctx)
	assert.ErrorContains(t, err, "parameter 1 is not set")

	_, err = CreateNativeQuery[string](em, "SELECT name FROM teams").SetParameter(0, "x").ResultList(ctx)
	assert.ErrorContains(t, err, "positions start at 1")
}

func TestNamedQuery(t *testing.T) {
	f := newFactory(t, localUnit)
	teams := seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	q, err := CreateQuery[string](em, persist.NewQueryReference[string]("Team.names", map[string]any{"vendor.fetch_size": 10}))
	require.NoError(t, err)
	assert.Equal(t, "5s", q.Hints()[persist.HintQueryTimeout])
	assert.Equal(t, 10, q.Hints()["vendor.fetch_size"])
	names, err := q.ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"eagles", "hawks", "owls"}, names)

	// Untyped references to entity queries read managed entities.
	refs := f.NamedQueries()
	require.Equal(t, "Player.byTeam", refs[0].Name())
	untyped, err := CreateQuery[any](em, refs[0])
	require.NoError(t, err)
	list, err := untyped.SetParameter(1, teams[1].ID).ResultList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	p, ok := list[0].(*Player)
	require.True(t, ok)
	assert.Equal(t, "grace", p.Name)

	_, err = CreateQuery[Team](em, persist.NewQueryReference[Team]("Player.byTeam", nil))
	assert.ErrorContains(t, err, "returns")

	_, err = CreateQuery[string](em, persist.NewQueryReference[string]("missing", nil))
	assert.ErrorContains(t, err, `no named query "missing"`)
}

func TestQueryHints(t *testing.T) {
	f := newFactory(t, localUnit+"shared-cache: true\n")
	seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	teams, err := CreateNativeQuery[*Team](em, "SELECT * FROM teams").
		SetHint(persist.HintCacheStoreMode, "BYPASS").
		ResultList(ctx)
	require.NoError(t, err)
	ok, err := f.Cache().Contains(ctx, Team{}, teams[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CreateNativeQuery[*Team](em, "SELECT * FROM teams").ResultList(ctx)
	require.NoError(t, err)
	ok, err = f.Cache().Contains(ctx, Team{}, teams[0].ID)
	require.NoError(t, err)
	assert.True(t, ok, "complete rows are cached")

	require.NoError(t, f.Cache().EvictAll(ctx))
	_, err = CreateNativeQuery[*Team](em, "SELECT id FROM teams").ResultList(ctx)
	require.NoError(t, err)
	ok, err = f.Cache().Contains(ctx, Team{}, teams[0].ID)
	require.NoError(t, err)
	assert.False(t, ok, "partial rows are not cached")

	g := persist.NewGraph[Player]("Player.bare").AddAttributeNodes("Name")
	require.NoError(t, f.AddNamedEntityGraph(g))
	players, err := CreateNativeQuery[*Player](newManager(t, f), "SELECT * FROM players ORDER BY id").
		SetHint(persist.HintFetchGraph, "Player.bare").
		ResultList(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, players)
	assert.Empty(t, players[0].Team.Name)

	_, err = CreateNativeQuery[*Player](em, "SELECT * FROM players").SetHint(persist.HintFetchGraph, "missing").ResultList(ctx)
	assert.ErrorContains(t, err, `no entity graph "missing"`)
	_, err = CreateNativeQuery[*Player](em, "SELECT * FROM players").SetHint(persist.HintCacheStoreMode, 3.5).ResultList(ctx)
	assert.Error(t, err)
	_, err = CreateNativeQuery[int64](em, "SELECT count(*) FROM players").SetHint(persist.HintQueryTimeout, "never").ResultList(ctx)
	assert.Error(t, err)

	n, err := CreateNativeQuery[int64](em, "SELECT count(*) FROM players").
		SetHint(persist.HintQueryTimeout, time.Second).
		SetHint("vendor.unknown", true).
		SingleResult(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestExecuteUpdate(t *testing.T) {
	f := newFactory(t, localUnit+"shared-cache: true\n")
	seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	q := CreateNativeQuery[any](em, "UPDATE players SET name = upper(name) WHERE team_id = ?").SetParameter(1, 1)
	_, err := q.ExecuteUpdate(ctx)
	assert.ErrorIs(t, err, persist.ErrTransactionRequired)

	_, err = CreateNativeQuery[*Team](em, "SELECT * FROM teams").ResultList(ctx)
	require.NoError(t, err)
	inTx(t, em, func(ctx context.Context) {
		n, err := q.ExecuteUpdate(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})
	ok, err := f.Cache().Contains(ctx, Team{}, 1)
	require.NoError(t, err)
	assert.False(t, ok, "bulk updates clear the cache")

	names, err := CreateNativeQuery[string](em, "SELECT name FROM players WHERE team_id = 1 ORDER BY id").ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "LINUS"}, names)
}

func TestQueryStatement(t *testing.T) {
	tests := []struct {
		dialect    string
		first, max int
		want       string
	}{
		{dialect: dialect.SQLite, want: "SELECT * FROM t WHERE a = ?"},
		{dialect: dialect.Postgres, want: "SELECT * FROM t WHERE a = $1"},
		{dialect: dialect.SQLite, max: 5, want: "SELECT * FROM (SELECT * FROM t WHERE a = ?) AS q LIMIT 5"},
		{dialect: dialect.SQLite, first: 2, want: "SELECT * FROM (SELECT * FROM t WHERE a = ?) AS q LIMIT -1 OFFSET 2"},
		{dialect: dialect.MySQL, first: 2, want: "SELECT * FROM (SELECT * FROM t WHERE a = ?) AS q LIMIT 18446744073709551615 OFFSET 2"},
		{dialect: dialect.Postgres, first: 2, max: 3, want: "SELECT * FROM (SELECT * FROM t WHERE a = $1) AS q LIMIT 3 OFFSET 2"},
		{dialect: dialect.Postgres, first: 2, want: "SELECT * FROM (SELECT * FROM t WHERE a = $1) AS q OFFSET 2"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			em := mockManager(t, tt.dialect)
			q := CreateNativeQuery[string](em, "SELECT * FROM t WHERE a = ?; ").SetFirstResult(tt.first).SetMaxResults(tt.max)
			assert.Equal(t, tt.want, q.statement())
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	em := mockManager(t, dialect.Postgres)
	q := CreateNativeQuery[int64](em, "SELECT pg_sleep(1)").SetHint(persist.HintQueryTimeout, time.Nanosecond)
	_, err := q.ResultList(context.Background())
	assert.ErrorIs(t, err, persist.ErrQueryTimeout)
}

func TestTimeoutErrorAfterSuccess(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.NoError(t, timeoutError(ctx, nil), "a read that finished in time stays a success")
	assert.ErrorIs(t, timeoutError(ctx, errors.New("interrupted")), persist.ErrQueryTimeout)
	assert.NotErrorIs(t, timeoutError(context.Background(), errors.New("interrupted")), persist.ErrQueryTimeout)
}

func TestSingleResultNonUnique(t *testing.T) {
	f := newFactory(t, localUnit)
	teams := seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	_, err := CreateNativeQuery[*Team](em, "SELECT * FROM teams ORDER BY id").SingleResult(ctx)
	assert.ErrorIs(t, err, persist.ErrNonUniqueResult)

	before := f.Stats().TotalQueries
	_, err = Find[Team](ctx, em, teams[1].ID)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.Stats().TotalQueries, "rows of a non-unique result are not managed")

	_, err = CreateTupleQuery(em, "SELECT name FROM teams").SingleResult(ctx)
	assert.ErrorIs(t, err, persist.ErrNonUniqueResult)

	team, err := CreateNativeQuery[*Team](em, "SELECT * FROM teams WHERE name = ?").SetParameter(1, "eagles").SingleResult(ctx)
	require.NoError(t, err)
	assert.True(t, em.Contains(team))
}

func TestInterfaceResultType(t *testing.T) {
	f := newFactory(t, localUnit)
	seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	_, err := CreateNativeQuery[fmt.Stringer](em, "SELECT name FROM teams").ResultList(ctx)
	assert.ErrorContains(t, err, "unsupported result type")

	rows, err := CreateNativeQuery[any](em, "SELECT name FROM teams").ResultList(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Implements(t, (*persist.Tuple)(nil), rows[0])
}

// mockManager returns a manager over a sqlmock connection of dialect d.
func mockManager(t *testing.T, d string) *EntityManager {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	u := &unit.Unit{Name: "mock", Dialect: d, DataSource: "mock", TransactionType: persist.ResourceLocal, Access: persist.AccessField, ConstraintMode: persist.ProviderDefault}
	f, err := NewFactory(u, sql.OpenDB(d, db), WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return newManager(t, f)
}
