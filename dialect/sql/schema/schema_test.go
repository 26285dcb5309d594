package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	dsql "github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/dialect/sql/sqlgraph"
	"github.com/syssam/persist/metadata"
)

type (
	Team struct {
		ID   int64
		Name string `persist:",unique"`
	}

	Member struct {
		ID     int64
		Email  string
		Team   *Team `persist:",constraint=none"`
		Mentor *Member
	}

	Owner struct {
		ID  int64
		Pet *Pet
	}

	Pet struct {
		ID    int64
		Owner *Owner
	}

	Token struct {
		Key      uuid.UUID `persist:",id"`
		Label    sql.NullString
		Expires  *time.Time
		Attempts int32
		Score    float64
		Payload  []byte
		Active   bool
	}
)

func managed(t *testing.T, entities ...any) []*metadata.ManagedType {
	t.Helper()
	m := metadata.New()
	types := make([]*metadata.ManagedType, len(entities))
	for i, e := range entities {
		mt, err := m.Entity(e)
		require.NoError(t, err)
		types[i] = mt
	}
	return types
}

func TestStatementsSQLite(t *testing.T) {
	tables, err := Tables(dialect.SQLite, persist.ProviderDefault, managed(t, Team{}, Member{})...)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`CREATE TABLE IF NOT EXISTS "teams" ("id" integer PRIMARY KEY AUTOINCREMENT, "name" text NOT NULL UNIQUE)`,
		`CREATE TABLE IF NOT EXISTS "members" ("id" integer PRIMARY KEY AUTOINCREMENT, "email" text NOT NULL, "team_id" integer, "mentor_id" integer, ` +
			`CONSTRAINT "members_mentor_id_fkey" FOREIGN KEY ("mentor_id") REFERENCES "members" ("id"))`,
		`CREATE INDEX IF NOT EXISTS "members_team_id" ON "members" ("team_id")`,
		`CREATE INDEX IF NOT EXISTS "members_mentor_id" ON "members" ("mentor_id")`,
	}, Statements(dialect.SQLite, tables))
}

func TestConstraintModeDefault(t *testing.T) {
	tests := []struct {
		def  persist.ConstraintMode
		want int
	}{
		{persist.Constraint, 1},
		{persist.ProviderDefault, 1},
		{0, 1},
		{persist.NoConstraint, 0},
	}
	for _, tt := range tests {
		tables, err := Tables(dialect.Postgres, tt.def, managed(t, Team{}, Member{})...)
		require.NoError(t, err)
		members := tables[1]
		assert.Len(t, members.ForeignKeys, tt.want, "default %v", tt.def)
		_, ok := members.Column("team_id")
		assert.True(t, ok, "join column exists without a constraint")
	}
}

func TestStatementsPostgresCycle(t *testing.T) {
	tables, err := Tables(dialect.Postgres, persist.Constraint, managed(t, Owner{}, Pet{})...)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`CREATE TABLE IF NOT EXISTS "pets" ("id" bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY, "owner_id" bigint, PRIMARY KEY ("id"))`,
		`CREATE INDEX IF NOT EXISTS "pets_owner_id" ON "pets" ("owner_id")`,
		`CREATE TABLE IF NOT EXISTS "owners" ("id" bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY, "pet_id" bigint, PRIMARY KEY ("id"), ` +
			`CONSTRAINT "owners_pet_id_fkey" FOREIGN KEY ("pet_id") REFERENCES "pets" ("id"))`,
		`CREATE INDEX IF NOT EXISTS "owners_pet_id" ON "owners" ("pet_id")`,
		`ALTER TABLE "pets" ADD CONSTRAINT "pets_owner_id_fkey" FOREIGN KEY ("owner_id") REFERENCES "owners" ("id")`,
	}, Statements(dialect.Postgres, tables))
}

func TestStatementsMySQL(t *testing.T) {
	tables, err := Tables(dialect.MySQL, persist.Constraint, managed(t, Team{}, Member{})...)
	require.NoError(t, err)
	stmts := Statements(dialect.MySQL, tables)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS `teams` (`id` bigint NOT NULL AUTO_INCREMENT, `name` varchar(255) NOT NULL UNIQUE, PRIMARY KEY (`id`))", stmts[0])
	assert.Contains(t, stmts[1], "INDEX `members_team_id` (`team_id`)")
	assert.NotContains(t, stmts[1], "members_team_id_fkey")
}

func TestColumnTypes(t *testing.T) {
	tables, err := Tables(dialect.Postgres, persist.Constraint, managed(t, Token{})...)
	require.NoError(t, err)
	got := make(map[string]string)
	nullable := make(map[string]bool)
	for _, c := range tables[0].Columns {
		got[c.Name] = c.Type
		nullable[c.Name] = c.Nullable
	}
	assert.Equal(t, map[string]string{
		"key":      "uuid",
		"label":    "text",
		"expires":  "timestamp with time zone",
		"attempts": "integer",
		"score":    "double precision",
		"payload":  "bytea",
		"active":   "boolean",
	}, got)
	assert.True(t, nullable["label"])
	assert.True(t, nullable["expires"])
	assert.False(t, nullable["key"])
	assert.False(t, tables[0].PrimaryKey[0].Increment)
}

func TestTablesMissingTarget(t *testing.T) {
	_, err := Tables(dialect.SQLite, persist.Constraint, managed(t, Pet{})...)
	require.Error(t, err)
	assert.True(t, persist.IsMappingError(err))

	_, err = Tables(dialect.SQLite, persist.NoConstraint, managed(t, Pet{})...)
	assert.NoError(t, err, "no constraint, no reference to resolve")
}

func TestCreateTablesMock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "teams" ("id" integer PRIMARY KEY AUTOINCREMENT, "name" text NOT NULL UNIQUE)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	drv := dsql.OpenDB(dialect.SQLite, db)
	require.NoError(t, CreateTables(context.Background(), drv, dialect.SQLite, persist.Constraint, managed(t, Team{})...))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTablesSQLite(t *testing.T) {
	drv, err := dsql.Open(dialect.SQLite, "file:"+filepath.Join(t.TempDir(), "schema.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	defer drv.Close()

	ctx := context.Background()
	types := managed(t, Team{}, Member{})
	require.NoError(t, CreateTables(ctx, drv, dialect.SQLite, persist.Constraint, types...))
	require.NoError(t, CreateTables(ctx, drv, dialect.SQLite, persist.Constraint, types...), "creation is idempotent")

	var n int
	require.NoError(t, drv.DB().QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('teams', 'members')`).Scan(&n))
	assert.Equal(t, 2, n)

	_, err = drv.DB().Exec(`INSERT INTO teams (name) VALUES ('core')`)
	require.NoError(t, err)
	_, err = drv.DB().Exec(`INSERT INTO teams (name) VALUES ('core')`)
	assert.True(t, sqlgraph.IsUniqueConstraintError(err))

	_, err = drv.DB().Exec(`INSERT INTO members (email, team_id) VALUES ('a@example.com', 99)`)
	assert.NoError(t, err, "team_id has no constraint")
	_, err = drv.DB().Exec(`INSERT INTO members (email, mentor_id) VALUES ('b@example.com', 99)`)
	assert.True(t, sqlgraph.IsForeignKeyConstraintError(err))
}

func TestValidateSchema(t *testing.T) {
	id := &Column{Name: "id", Type: "integer"}
	users := &Table{Name: "users", Columns: []*Column{id, {Name: "id", Type: "text"}}, PrimaryKey: []*Column{id}}
	orphan := &Table{Name: "logs", Columns: []*Column{{Name: "user_id"}}}
	orphan.ForeignKeys = []*ForeignKey{{Symbol: "logs_user_fkey", Columns: []*Column{{Name: "uid"}}, RefTable: &Table{Name: "ghosts"}, RefColumns: []*Column{id}}}

	res := ValidateSchema([]*Table{users, orphan})
	assert.True(t, res.HasErrors())
	assert.True(t, res.HasWarnings(), "logs has no primary key")
	s := res.String()
	assert.Contains(t, s, "users.id: duplicate column name")
	assert.Contains(t, s, "logs.user_id: column has no type")
	assert.Contains(t, s, `references non-existent column "uid"`)
	assert.Contains(t, s, "references a table outside the schema")

	assert.Equal(t, "No issues found", ValidateSchema(nil).String())
}
