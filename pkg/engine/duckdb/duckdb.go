// Package duckdb registers the DuckDB engine, the default target.
package duckdb

import (
	_ "github.com/marcboeker/go-duckdb/v2" // registers the duckdb database/sql driver

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/engine/sqldb"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Dialect is the DuckDB dialect. DuckDB foreign keys cannot reference
// tables of another schema, so tables live flattened in the main schema
// with their keys enforced, and each namespace schema holds a view per
// table under its plain name.
var Dialect = &sqldb.Dialect{
	Name:                      "duckdb",
	DriverName:                "duckdb",
	CrossNamespaceForeignKeys: true,
	NamespaceViews:            true,
	MaxParams:                 8000,
	MaxOpenConns:              1,
	Types:                     map[schema.ColumnType]string{schema.TypeText: "VARCHAR"},
	KeyTypes:                  map[schema.ColumnType]string{schema.TypeText: "VARCHAR"},
}

func init() {
	engine.Register(sqldb.NewFileDriver(Dialect, []string{".duckdb", ".ddb"}, []string{".wal"},
		func(path string) string { return path }))
}
