package postgres

import (
	"context"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
	"github.com/ajitpratap0/plexload/pkg/testutil"
)

func TestAccepts(t *testing.T) {
	d := &Driver{}
	assert.True(t, d.Accepts("postgres://localhost/plexos"))
	assert.True(t, d.Accepts("postgresql://u:p@db:5432/plexos?sslmode=disable"))
	assert.False(t, d.Accepts("out.duckdb"))
	assert.False(t, d.Accepts("mysql://u@tcp(db)/plexos"))

	resolved, err := engine.Resolve("postgres://localhost/plexos", "")
	require.NoError(t, err)
	assert.Equal(t, "postgres", resolved.Name())
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, `"data"."facts"`, dialect{}.TableName("data", "facts"))
	assert.Equal(t, `"a""b"`, quote(`a"b`))

	long := strings.Repeat("Generation_", 10)
	id := identifier("data", long)
	assert.Len(t, id[1], maxIdentifier)
	assert.NotEqual(t, id, identifier("data", long+"x"))
}

// TestPostgresRoundTrip needs a scratch database named by
// PLEXLOAD_TEST_POSTGRES_URL; its raw, data and report schemas are dropped.
func TestPostgresRoundTrip(t *testing.T) {
	testutil.IntegrationTest(t)
	url := os.Getenv("PLEXLOAD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("PLEXLOAD_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	d := &Driver{}
	require.NoError(t, d.Remove(ctx, url))

	e, err := d.Open(ctx, url, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e.Close()

	meta := &schema.Table{
		Namespace:  schema.NamespaceRaw,
		Name:       schema.MetaTable,
		Columns:    []schema.Column{{Name: "name", Type: schema.TypeText}, {Name: "value", Type: schema.TypeText, Nullable: true}},
		PrimaryKey: []string{"name"},
	}
	facts := &schema.Table{
		Namespace: schema.NamespaceData,
		Name:      "facts",
		Columns: []schema.Column{
			{Name: "block_id", Type: schema.TypeInt64},
			{Name: "value", Type: schema.TypeFloat64, Nullable: true},
		},
		PrimaryKey: []string{"block_id"},
	}
	require.NoError(t, e.CreateTable(ctx, meta))
	require.NoError(t, e.CreateTable(ctx, facts))

	exists, err := d.Exists(ctx, url)
	require.NoError(t, err)
	assert.True(t, exists)

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBatch(ctx, facts, [][]interface{}{{int64(1), 10.5}, {int64(2), math.NaN()}}))
	require.NoError(t, tx.Commit(ctx))

	pg := e.(*Engine)
	var n int
	require.NoError(t, pg.conn.QueryRow(ctx, `SELECT COUNT(*) FROM "data"."facts"`).Scan(&n))
	assert.Equal(t, 2, n)

	require.NoError(t, d.Remove(ctx, url))
}
