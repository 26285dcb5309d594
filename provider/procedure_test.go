package provider

import (
	"context"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/unit"
)

var int64Type = reflect.TypeFor[int64]()

func params(ps ...*procParam) []*procParam {
	for i, p := range ps {
		if p != nil {
			p.pos = i + 1
		}
	}
	return ps
}

func TestProcedureCall(t *testing.T) {
	in := func(v any) *procParam { return &procParam{mode: persist.ParamIn, value: v, set: true} }
	inout := func(v any) *procParam { return &procParam{mode: persist.ParamInOut, value: v, set: true} }
	out := &procParam{mode: persist.ParamOut}
	cursor := &procParam{mode: persist.ParamRefCursor}

	t.Run("postgres", func(t *testing.T) {
		c, err := procedureCall(dialect.Postgres, "bump", params(in("a"), inout(5), out, cursor))
		require.NoError(t, err)
		assert.Equal(t, `CALL "bump"($1, $2, NULL, NULL)`, c.call.query)
		assert.Equal(t, []any{"a", 5}, c.call.args)
		assert.Equal(t, []int{2, 3, 4}, c.returns)
		assert.Empty(t, c.setup)
		assert.Empty(t, c.fetch)
	})
	t.Run("mysql", func(t *testing.T) {
		out := &procParam{mode: persist.ParamOut}
		cursor := &procParam{mode: persist.ParamRefCursor}
		c, err := procedureCall(dialect.MySQL, "app.bump", params(in("a"), inout(5), out, cursor))
		require.NoError(t, err)
		assert.Equal(t, "CALL `app`.`bump`(?, @p2, @p3)", c.call.query)
		assert.Equal(t, []any{"a"}, c.call.args)
		assert.Equal(t, []procStmt{{query: "SET @p2 = ?", args: []any{5}}}, c.setup)
		assert.Equal(t, "SELECT @p2, @p3", c.fetch)
		assert.Equal(t, []int{2, 3}, c.fetched)
		assert.Empty(t, c.returns)
	})
	t.Run("no_params", func(t *testing.T) {
		c, err := procedureCall(dialect.MySQL, "purge", nil)
		require.NoError(t, err)
		assert.Equal(t, "CALL `purge`()", c.call.query)
		assert.Equal(t, []any{}, c.call.args)
	})
	t.Run("sqlite", func(t *testing.T) {
		_, err := procedureCall(dialect.SQLite, "bump", nil)
		assert.ErrorContains(t, err, "not supported")
	})
	t.Run("gap", func(t *testing.T) {
		_, err := procedureCall(dialect.Postgres, "bump", params(nil, in(1)))
		assert.ErrorContains(t, err, "parameter 1 is not registered")
	})
	t.Run("unset", func(t *testing.T) {
		_, err := procedureCall(dialect.Postgres, "bump", params(&procParam{mode: persist.ParamIn}))
		assert.ErrorContains(t, err, "parameter 1 is not set")
	})
}

func mockFactory(t *testing.T, d string) (*Factory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	u := &unit.Unit{Name: "mock", Dialect: d, DataSource: "mock", TransactionType: persist.ResourceLocal, Access: persist.AccessField, ConstraintMode: persist.ProviderDefault}
	f, err := NewFactory(u, sql.OpenDB(d, db), WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return f, mock
}

func TestStoredProcedureMySQL(t *testing.T) {
	f, mock := mockFactory(t, dialect.MySQL)
	em := newManager(t, f)
	mock.ExpectExec("SET @p2 = ?").WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CALL `bump`(?, @p2, @p3)").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("SELECT @p2, @p3").WillReturnRows(sqlmock.NewRows([]string{"@p2", "@p3"}).AddRow(int64(6), []byte("done")))

	q := em.CreateStoredProcedureQuery("bump").
		RegisterParameter(1, reflect.TypeFor[string](), persist.ParamIn).
		RegisterParameter(2, int64Type, persist.ParamInOut).
		RegisterParameter(3, reflect.TypeFor[string](), persist.ParamOut).
		SetParameter(1, "a").
		SetParameter(2, 5)
	_, err := q.OutputParameter(2)
	assert.ErrorContains(t, err, "was not executed")
	assert.EqualValues(t, -1, q.UpdateCount())

	hasRows, err := q.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, hasRows)
	assert.EqualValues(t, 3, q.UpdateCount())

	v, err := q.OutputParameter(2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)
	s, err := OutputValue[string](q, 3)
	require.NoError(t, err)
	assert.Equal(t, "done", s)

	_, err = q.OutputParameter(1)
	assert.ErrorContains(t, err, "is IN")
	_, err = q.OutputParameter(9)
	assert.ErrorContains(t, err, "not registered")
	_, err = q.ResultList(context.Background())
	assert.ErrorContains(t, err, "no result set")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoredProcedureMySQLResultSet(t *testing.T) {
	f, mock := mockFactory(t, dialect.MySQL)
	em := newManager(t, f)
	mock.ExpectQuery("CALL `report`(?)").WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "owls").AddRow(2, "hawks"))

	rows, err := em.CreateStoredProcedureQuery("report").
		RegisterParameter(1, int64Type, persist.ParamIn).
		RegisterParameter(2, nil, persist.ParamRefCursor).
		SetParameter(1, 7).
		ResultList(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	name, err := rows[1].GetAlias("name")
	require.NoError(t, err)
	assert.Equal(t, "hawks", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoredProcedurePostgresCursor(t *testing.T) {
	f, mock := mockFactory(t, dialect.Postgres)
	em := newManager(t, f)
	ctx := context.Background()

	q := em.CreateStoredProcedureQuery("report").
		RegisterParameter(1, int64Type, persist.ParamIn).
		RegisterParameter(2, reflect.TypeFor[string](), persist.ParamRefCursor).
		SetParameter(1, 7)
	_, err := q.Execute(ctx)
	assert.ErrorIs(t, err, persist.ErrTransactionRequired, "cursors need a transaction")

	mock.ExpectBegin()
	mock.ExpectQuery(`CALL "report"($1, NULL)`).WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"cur"}).AddRow("c1"))
	mock.ExpectQuery(`FETCH ALL FROM "c1"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "owls"))
	mock.ExpectCommit()

	inTx(t, em, func(ctx context.Context) {
		hasRows, err := q.Execute(ctx)
		require.NoError(t, err)
		assert.True(t, hasRows)
		rows, err := q.ResultList(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		v, err := rows[0].Get(1)
		require.NoError(t, err)
		assert.Equal(t, "owls", v)
		assert.EqualValues(t, -1, q.UpdateCount())
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoredProcedureErrors(t *testing.T) {
	f, _ := mockFactory(t, dialect.Postgres)
	em := newManager(t, f)
	ctx := context.Background()

	_, err := em.CreateStoredProcedureQuery("p").RegisterParameter(0, int64Type, persist.ParamIn).Execute(ctx)
	assert.ErrorContains(t, err, "positions start at 1")

	_, err = em.CreateStoredProcedureQuery("p").RegisterParameter(1, int64Type, persist.ParameterMode(9)).Execute(ctx)
	assert.ErrorContains(t, err, "invalid mode")

	_, err = em.CreateStoredProcedureQuery("p").
		RegisterParameter(1, int64Type, persist.ParamOut).
		SetParameter(1, 3).
		Execute(ctx)
	assert.ErrorContains(t, err, "parameter 1 is OUT")

	_, err = em.CreateStoredProcedureQuery("p").SetParameter(2, 3).Execute(ctx)
	assert.ErrorContains(t, err, "parameter 2 is not registered")

	_, err = em.CreateStoredProcedureQuery("p").SetHint(persist.HintQueryTimeout, "soon").Execute(ctx)
	assert.ErrorContains(t, err, persist.HintQueryTimeout)
}

func TestOutputValueConversion(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  reflect.Type
		want any
	}{
		{name: "nil", in: nil, typ: int64Type, want: nil},
		{name: "untyped", in: int64(3), typ: nil, want: int64(3)},
		{name: "bytes_to_string", in: []byte("x"), typ: reflect.TypeFor[string](), want: "x"},
		{name: "int_width", in: int64(3), typ: reflect.TypeFor[int32](), want: int32(3)},
		{name: "float_to_int", in: 2.0, typ: int64Type, want: int64(2)},
		{name: "int_to_float", in: int64(2), typ: reflect.TypeFor[float64](), want: 2.0},
		{name: "int_not_string", in: int64(65), typ: reflect.TypeFor[string](), want: int64(65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outputValue(tt.in, tt.typ))
		})
	}
}
