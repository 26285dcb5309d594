package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

func TestFindMany(t *testing.T) {
	f := newFactory(t, localUnit)
	teams := seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	hawks, err := Find[Team](ctx, em, teams[1].ID)
	require.NoError(t, err)

	before := f.Stats().TotalQueries
	got, err := FindMany[Team](ctx, em, []any{int(teams[2].ID), teams[0].ID, teams[1].ID, teams[2].ID})
	require.NoError(t, err)
	assert.Equal(t, before+1, f.Stats().TotalQueries, "one query for the ids not yet managed")
	require.Len(t, got, 4)
	var names []string
	for _, team := range got {
		names = append(names, team.Name)
	}
	assert.Equal(t, []string{"eagles", "owls", "hawks", "eagles"}, names)
	assert.Same(t, hawks, got[2], "managed instances are reused")
	assert.Same(t, got[0], got[3])
	assert.True(t, em.Contains(got[0]))

	again, err := Find[Team](ctx, em, teams[0].ID)
	require.NoError(t, err)
	assert.Same(t, got[1], again)
}

func TestFindManyRelations(t *testing.T) {
	f := newFactory(t, localUnit)
	seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	players, err := FindMany[Player](ctx, em, []any{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, "owls", players[0].Team.Name)
	assert.Equal(t, "hawks", players[1].Team.Name)
	assert.Same(t, players[0].Team, players[2].Team)
}

func TestFindManyErrors(t *testing.T) {
	f := newFactory(t, localUnit)
	teams := seedLeague(t, f)
	ctx := context.Background()
	em := newManager(t, f)

	_, err := FindMany[Team](ctx, em, []any{teams[0].ID, 999})
	assert.ErrorIs(t, err, persist.ErrEntityNotFound)

	_, err = FindMany[Team](ctx, em, []any{teams[0].ID}, persist.LockPessimisticWrite)
	assert.ErrorIs(t, err, persist.ErrTransactionRequired)

	_, err = FindMany[Team](ctx, em, []any{nil})
	assert.Error(t, err)

	got, err := FindMany[Team](ctx, em, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, em.Close())
	_, err = FindMany[Team](ctx, em, []any{1})
	assert.ErrorIs(t, err, persist.ErrClosed)
}

func TestOrderByKeys(t *testing.T) {
	type item struct {
		id   int
		name string
	}
	items := []item{{1, "a"}, {2, "b"}, {3, "c"}}
	key := func(it item) int { return it.id }

	got, miss := orderByKeys([]int{3, 1, 3}, items, key)
	assert.Equal(t, -1, miss)
	assert.Equal(t, []item{{3, "c"}, {1, "a"}, {3, "c"}}, got)

	got, miss = orderByKeys([]int{2, 7, 9}, items, key)
	assert.Equal(t, 1, miss)
	assert.Nil(t, got)
}
