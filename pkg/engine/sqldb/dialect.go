// Package sqldb implements engines over database/sql. A Dialect captures
// what differs between targets: identifier rules, column types, namespace
// support and statement limits.
package sqldb

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Dialect describes one SQL target.
type Dialect struct {
	Name       string
	DriverName string

	// Namespaces is true when the target has CREATE SCHEMA; otherwise
	// namespace and table are joined into one name.
	Namespaces bool
	// CrossNamespaceForeignKeys is false when foreign keys may only
	// reference tables of the same namespace.
	CrossNamespaceForeignKeys bool
	// NamespaceViews creates each namespace as a schema holding one view
	// per flattened table or view, so that ns.name stays queryable while
	// foreign keys live in a single schema. Only meaningful when
	// Namespaces is false.
	NamespaceViews bool
	// MaxIdentifier is the longest identifier the target keeps intact.
	MaxIdentifier int
	// MaxParams bounds the placeholders of one INSERT statement.
	MaxParams int
	// MaxOpenConns is applied to the pool when positive.
	MaxOpenConns int

	QuoteChar string
	// Types overrides the portable column types.
	Types map[schema.ColumnType]string
	// KeyTypes overrides column types of primary key columns.
	KeyTypes map[schema.ColumnType]string
	// Init runs once after connecting.
	Init []string
}

// Quote quotes an identifier.
func (d *Dialect) Quote(ident string) string {
	q := d.QuoteChar
	if q == "" {
		q = `"`
	}
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// TableName renders a namespace and table name as a table reference.
func (d *Dialect) TableName(namespace, name string) string {
	if d.Namespaces {
		return d.Quote(namespace) + "." + d.Quote(schema.ShortenIdentifier(name, d.MaxIdentifier))
	}
	return d.Quote(schema.ShortenIdentifier(namespace+"__"+name, d.MaxIdentifier))
}

func (d *Dialect) columnType(c schema.Column, primaryKey bool) string {
	if primaryKey {
		if t, ok := d.KeyTypes[c.Type]; ok {
			return t
		}
	}
	if t, ok := d.Types[c.Type]; ok {
		return t
	}
	return string(c.Type)
}

func (d *Dialect) createTableSQL(t *schema.Table) string {
	pk := make(map[string]bool, len(t.PrimaryKey))
	for _, c := range t.PrimaryKey {
		pk[c] = true
	}

	var parts []string
	for _, c := range t.Columns {
		def := d.Quote(c.Name) + " " + d.columnType(c, pk[c.Name])
		if !c.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+d.quoteAll(t.PrimaryKey)+")")
	}
	for _, fk := range t.ForeignKeys {
		refNS, refName := splitQualified(fk.RefTable)
		if refNS != t.Namespace && !d.CrossNamespaceForeignKeys {
			continue
		}
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.Quote(fk.Column), d.TableName(refNS, refName), d.Quote(fk.RefColumn)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.TableName(t.Namespace, t.Name), strings.Join(parts, ", "))
}

func (d *Dialect) insertSQL(t *schema.Table, rows int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ") + ")"
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.TableName(t.Namespace, t.Name), d.quoteAll(t.ColumnNames()))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
	}
	return b.String()
}

// rowsPerStatement is how many rows fit one INSERT of t.
func (d *Dialect) rowsPerStatement(t *schema.Table) int {
	n := d.MaxParams / len(t.Columns)
	if n < 1 {
		n = 1
	}
	return n
}

func (d *Dialect) quoteAll(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = d.Quote(id)
	}
	return strings.Join(q, ", ")
}

func splitQualified(qualified string) (string, string) {
	ns, name, _ := strings.Cut(qualified, ".")
	return ns, name
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite = &Dialect{
	Name:                      "sqlite",
	DriverName:                "sqlite",
	CrossNamespaceForeignKeys: true,
	MaxParams:                 32766,
	MaxOpenConns:              1,
	Types: map[schema.ColumnType]string{
		schema.TypeInt64:   "INTEGER",
		schema.TypeFloat64: "REAL",
	},
	Init: []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"},
}

// MySQL is the dialect of github.com/go-sql-driver/mysql.
var MySQL = &Dialect{
	Name:                      "mysql",
	DriverName:                "mysql",
	CrossNamespaceForeignKeys: true,
	MaxIdentifier:             64,
	MaxParams:                 65535,
	QuoteChar:                 "`",
	Types: map[schema.ColumnType]string{
		schema.TypeText:      "LONGTEXT",
		schema.TypeTimestamp: "DATETIME(6)",
	},
	KeyTypes: map[schema.ColumnType]string{
		schema.TypeText: "VARCHAR(255)",
	},
}
