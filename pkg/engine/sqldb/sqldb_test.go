package sqldb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

func tables() (*schema.Table, *schema.Table) {
	things := &schema.Table{
		Namespace:  schema.NamespaceRaw,
		Name:       "things",
		Kind:       schema.KindDimension,
		Columns:    []schema.Column{{Name: "id", Type: schema.TypeInt64}, {Name: "name", Type: schema.TypeText}},
		PrimaryKey: []string{"id"},
	}
	values := &schema.Table{
		Namespace: schema.NamespaceData,
		Name:      "values",
		Kind:      schema.KindFact,
		Columns: []schema.Column{
			{Name: "thing_id", Type: schema.TypeInt64},
			{Name: "block_id", Type: schema.TypeInt64},
			{Name: "value", Type: schema.TypeFloat64, Nullable: true},
		},
		PrimaryKey:  []string{"thing_id", "block_id"},
		ForeignKeys: []schema.ForeignKey{{Column: "thing_id", RefTable: "raw.things", RefColumn: "id"}},
	}
	return things, values
}

func openSQLite(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.sqlite")
	d, err := engine.Resolve(path, "")
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())

	e, err := d.Open(context.Background(), path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	things, values := tables()
	require.NoError(t, e.CreateTable(context.Background(), things))
	require.NoError(t, e.CreateTable(context.Background(), values))
	return e.(*Engine), path
}

func count(t *testing.T, e *Engine, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSQLiteInsertAndCommit(t *testing.T) {
	e, _ := openSQLite(t)
	things, values := tables()
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBatch(ctx, things, [][]interface{}{{int64(1), "G1"}, {int64(2), "G2"}}))
	require.NoError(t, tx.InsertBatch(ctx, values, [][]interface{}{
		{int64(1), int64(1), 10.5},
		{int64(1), int64(2), 12.0},
		{int64(2), int64(1), nil},
	}))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 2, count(t, e, "raw__things"))
	assert.Equal(t, 3, count(t, e, "data__values"))

	var sum float64
	require.NoError(t, e.DB().QueryRow("SELECT SUM(value) FROM data__values").Scan(&sum))
	assert.Equal(t, 22.5, sum)
}

func TestSQLiteRollback(t *testing.T) {
	e, _ := openSQLite(t)
	things, _ := tables()
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBatch(ctx, things, [][]interface{}{{int64(1), "G1"}}))
	require.NoError(t, tx.Rollback())
	assert.Zero(t, count(t, e, "raw__things"))
}

func TestSQLiteForeignKeys(t *testing.T) {
	e, _ := openSQLite(t)
	_, values := tables()
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	err = tx.InsertBatch(ctx, values, [][]interface{}{{int64(9), int64(1), 1.0}})
	assert.Error(t, err)
}

func TestSQLiteStatementChunking(t *testing.T) {
	e, _ := openSQLite(t)
	things, _ := tables()
	ctx := context.Background()

	// Two columns per row; more rows than one statement can carry.
	n := SQLite.MaxParams/2 + 10
	rows := make([][]interface{}, n)
	for i := range rows {
		rows[i] = []interface{}{int64(i + 1), "g"}
	}
	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBatch(ctx, things, rows))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, n, count(t, e, "raw__things"))
}

func TestFileDriverExistsRemove(t *testing.T) {
	e, path := openSQLite(t)
	d, err := engine.Resolve(path, "")
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := d.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, e.Close())
	require.NoError(t, d.Remove(ctx, path))
	exists, err = d.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDialectTableName(t *testing.T) {
	assert.Equal(t, `"raw__things"`, SQLite.TableName("raw", "things"))
	assert.Equal(t, "`raw__things`", MySQL.TableName("raw", "things"))

	long := strings.Repeat("x", 80)
	name := MySQL.TableName("data", long)
	assert.Len(t, strings.Trim(name, "`"), MySQL.MaxIdentifier)
	assert.NotEqual(t, name, MySQL.TableName("data", long+"y"))
}

func TestCreateTableSQL(t *testing.T) {
	_, values := tables()

	ddl := SQLite.createTableSQL(values)
	assert.Contains(t, ddl, `CREATE TABLE "data__values"`)
	assert.Contains(t, ddl, `"value" REAL,`)
	assert.Contains(t, ddl, `PRIMARY KEY ("thing_id", "block_id")`)
	assert.Contains(t, ddl, `FOREIGN KEY ("thing_id") REFERENCES "raw__things" ("id")`)

	noCross := &Dialect{Name: "test", Namespaces: true}
	ddl = noCross.createTableSQL(values)
	assert.Contains(t, ddl, `CREATE TABLE "data"."values"`)
	assert.NotContains(t, ddl, "FOREIGN KEY")

	things, _ := tables()
	assert.Contains(t, MySQL.createTableSQL(things), "`name` LONGTEXT NOT NULL")
}

func TestInsertSQL(t *testing.T) {
	things, _ := tables()
	assert.Equal(t, `INSERT INTO "raw__things" ("id", "name") VALUES (?, ?), (?, ?)`, SQLite.insertSQL(things, 2))
}
