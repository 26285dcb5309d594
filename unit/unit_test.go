package unit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
)

const shop = `
name: shop
transaction-type: jta
dialect: sqlite3
data-source: "file:shop.db"
access: property
constraint-mode: no_constraint
shared-cache: true
properties:
  persist.show_sql: "true"
  persist.slow_query: "200ms"
  persist.lock.timeout: "1500"
named-queries:
  - name: User.byName
    query: "SELECT id, name FROM users WHERE name = ?"
    hints:
      persist.query.timeout: 2s
named-native-queries:
  - name: User.count
    query: "SELECT count(*) FROM users"
`

func TestParse(t *testing.T) {
	u, err := Parse([]byte(shop))
	require.NoError(t, err)

	assert.Equal(t, "shop", u.Name)
	assert.Equal(t, persist.JTA, u.TransactionType)
	assert.Equal(t, "sqlite", u.Dialect)
	assert.Equal(t, persist.AccessProperty, u.Access)
	assert.Equal(t, persist.NoConstraint, u.ConstraintMode)
	assert.True(t, u.SharedCache)

	show, err := u.Bool(PropShowSQL)
	require.NoError(t, err)
	assert.True(t, show)
	slow, err := u.Duration(PropSlowQuery)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, slow)
	lock, err := u.Duration(PropLockTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, lock)
	ttl, err := u.Duration(PropCacheTTL)
	require.NoError(t, err)
	assert.Zero(t, ttl)

	require.Len(t, u.Queries(), 2)
	q, ok := u.Query("User.byName")
	require.True(t, ok)
	assert.Equal(t, "2s", q.Hints[persist.HintQueryTimeout])
	_, ok = u.Query("User.count")
	assert.True(t, ok)
	_, ok = u.Query("missing")
	assert.False(t, ok)
}

func TestParseDefaults(t *testing.T) {
	u, err := Parse([]byte("name: app\ndialect: postgres\ndata-source: postgres://localhost/app\n"))
	require.NoError(t, err)
	assert.Equal(t, persist.ResourceLocal, u.TransactionType)
	assert.Equal(t, persist.AccessField, u.Access)
	assert.Equal(t, persist.ProviderDefault, u.ConstraintMode)
	assert.False(t, u.SharedCache)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{
			name: "enum",
			doc:  "name: a\ndialect: sqlite\ndata-source: x\ntransaction-type: XA\n",
			msg:  `invalid transaction type "XA"`,
		},
		{
			name: "dialect",
			doc:  "name: a\ndialect: oracle\ndata-source: x\n",
			msg:  `unsupported dialect "oracle"`,
		},
		{
			name: "duplicate_query",
			doc: "name: a\ndialect: sqlite\ndata-source: x\n" +
				"named-queries: [{name: q, query: SELECT 1}]\n" +
				"named-native-queries: [{name: q, query: SELECT 2}]\n",
			msg: `duplicate query name "q"`,
		},
		{
			name: "property",
			doc:  "name: a\ndialect: sqlite\ndata-source: x\nproperties: {persist.slow_query: soon}\n",
			msg:  "property persist.slow_query",
		},
		{
			name: "missing",
			doc:  "dialect: sqlite\n",
			msg:  "name is required\ndata-source is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("PERSIST_DATA", "/var/lib/shop")
	path := filepath.Join(t.TempDir(), "unit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: shop\ndialect: sqlite\ndata-source: file:${PERSIST_DATA}/shop.db\n"), 0o600))

	u, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:/var/lib/shop/shop.db", u.DataSource)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshal(t *testing.T) {
	u, err := Parse([]byte(shop))
	require.NoError(t, err)
	out, err := yaml.Marshal(u)
	require.NoError(t, err)
	assert.Contains(t, string(out), "transaction-type: JTA")
	assert.Contains(t, string(out), "constraint-mode: NO_CONSTRAINT")

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, u.Queries(), again.Queries())
}
