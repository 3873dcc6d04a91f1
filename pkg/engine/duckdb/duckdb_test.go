package duckdb

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/engine/sqldb"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

func TestDuckDBRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.duckdb")

	d, err := engine.Resolve(path, "")
	require.NoError(t, err)
	require.Equal(t, "duckdb", d.Name())

	e, err := d.Open(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e.Close()

	keys := &schema.Table{
		Namespace:  schema.NamespaceRaw,
		Name:       "keys",
		Kind:       schema.KindDimension,
		Columns:    []schema.Column{{Name: "key_id", Type: schema.TypeInt64}, {Name: "name", Type: schema.TypeText}},
		PrimaryKey: []string{"key_id"},
	}
	facts := &schema.Table{
		Namespace: schema.NamespaceData,
		Name:      "ST__Interval__Generators__Generation",
		Kind:      schema.KindFact,
		Columns: []schema.Column{
			{Name: "key_id", Type: schema.TypeInt64},
			{Name: "block_id", Type: schema.TypeInt64},
			{Name: "value", Type: schema.TypeFloat64, Nullable: true},
		},
		PrimaryKey:  []string{"key_id", "block_id"},
		ForeignKeys: []schema.ForeignKey{{Column: "key_id", RefTable: "raw.keys", RefColumn: "key_id"}},
	}
	require.NoError(t, e.CreateTable(ctx, keys))
	require.NoError(t, e.CreateTable(ctx, facts))

	nan := math.Float64frombits(0x7ff8000000000001)
	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBatch(ctx, keys, [][]interface{}{{int64(1), "G1"}}))
	require.NoError(t, tx.InsertBatch(ctx, facts, [][]interface{}{
		{int64(1), int64(1), 10.5},
		{int64(1), int64(2), nan},
		{int64(1), int64(3), nil},
	}))
	require.NoError(t, tx.Commit(ctx))

	db := e.(*sqldb.Engine).DB()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "data"."ST__Interval__Generators__Generation"`).Scan(&n))
	assert.Equal(t, 3, n)

	var v float64
	require.NoError(t, db.QueryRow(`SELECT value FROM "data"."ST__Interval__Generators__Generation" WHERE block_id = 2`).Scan(&v))
	assert.True(t, math.IsNaN(v))

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "data__ST__Interval__Generators__Generation"`).Scan(&n))
	assert.Equal(t, 3, n)

	tx, err = e.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertBatch(ctx, facts, [][]interface{}{{int64(42), int64(1), 1.0}})
	if err == nil {
		err = tx.Commit(ctx)
	} else {
		_ = tx.Rollback()
	}
	require.Error(t, err, "fact rows must reference an existing key")
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "data"."ST__Interval__Generators__Generation"`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, `"data__facts"`, Dialect.TableName("data", "facts"))
	assert.True(t, Dialect.CrossNamespaceForeignKeys)
	assert.True(t, Dialect.NamespaceViews)
}
