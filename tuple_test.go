package persist_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

func TestElement(t *testing.T) {
	name := persist.NewElement[string]("name")
	assert.Equal(t, reflect.TypeFor[string](), name.Type())
	alias, ok := name.Alias()
	assert.True(t, ok)
	assert.Equal(t, "name", alias)
	assert.Equal(t, "string name", name.String())

	t.Run("NoAlias", func(t *testing.T) {
		count := persist.NewElement[int64]("")
		alias, ok := count.Alias()
		assert.False(t, ok)
		assert.Empty(t, alias)
		assert.Equal(t, reflect.TypeFor[int64](), count.Type())
	})

	t.Run("ZeroValue", func(t *testing.T) {
		var e persist.Element[float64]
		assert.Equal(t, reflect.TypeFor[float64](), e.Type())
	})

	t.Run("Dynamic", func(t *testing.T) {
		e := persist.NewElementOf(reflect.TypeFor[bool](), "active")
		assert.Equal(t, reflect.TypeFor[bool](), e.Type())
		assert.NotNil(t, persist.NewElementOf(nil, "").Type())
	})
}

func TestTuple(t *testing.T) {
	name := persist.NewElement[string]("name")
	count := persist.NewElement[int64]("")
	tup, err := persist.NewTuple(
		[]persist.TupleElement[any]{name, count},
		[]any{[]byte("gopher"), int64(3)},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, tup.Len())

	v, err := tup.GetAlias("name")
	require.NoError(t, err)
	assert.Equal(t, []byte("gopher"), v)

	s, err := persist.TupleValue[string](tup, name)
	require.NoError(t, err)
	assert.Equal(t, "gopher", s)

	n, err := persist.TupleValue[int64](tup, count)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = tup.Get(2)
	assert.Error(t, err)
	_, err = tup.GetAlias("missing")
	assert.Error(t, err)
	_, err = persist.TupleValue[string](tup, persist.NewElement[string]("email"))
	assert.Error(t, err)

	tup.Values()[0] = "changed"
	v, _ = tup.Get(0)
	assert.Equal(t, []byte("gopher"), v, "Values returns a copy")

	_, err = persist.NewTuple([]persist.TupleElement[any]{name}, nil)
	assert.Error(t, err)
}

func TestConvertValue(t *testing.T) {
	i, err := persist.ConvertValue[int](int64(7))
	require.NoError(t, err)
	assert.Equal(t, 7, i)

	f, err := persist.ConvertValue[float64](int32(2))
	require.NoError(t, err)
	assert.Equal(t, 2.0, f)

	s, err := persist.ConvertValue[string](nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = persist.ConvertValue[string](int64(65))
	assert.Error(t, err, "numbers do not convert to strings")

	_, err = persist.ConvertValue[bool]("true")
	assert.Error(t, err)

	n, err := persist.ConvertValue[int64](2.0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "whole floats convert")
	_, err = persist.ConvertValue[int64](2.5)
	assert.ErrorContains(t, err, "does not fit")
	_, err = persist.ConvertValue[int8](int64(300))
	assert.Error(t, err, "overflow")
	_, err = persist.ConvertValue[uint32](int64(-1))
	assert.Error(t, err, "sign")
	_, err = persist.ConvertValue[int64](uint64(1 << 63))
	assert.Error(t, err, "sign")
	f32, err := persist.ConvertValue[float32](0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, f32, 1e-6)
}
