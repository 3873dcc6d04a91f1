// Package schema maps a metadata model and series directory to the target
// schema: dimension tables in the raw namespace, one fact table per phase,
// period type, collection and property in the data namespace, labelled
// views over the dimensions in the processed namespace, and report views
// over the facts.
//
// Map is pure. The same model and directory always produce the same tables
// in the same order with the same columns.
package schema

import (
	"fmt"
	"sort"

	"github.com/ajitpratap0/plexload/pkg/decoder"
	"github.com/ajitpratap0/plexload/pkg/metadata"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// Namespaces.
const (
	NamespaceRaw       = "raw"
	NamespaceData      = "data"
	NamespaceProcessed = "processed"
	NamespaceReport    = "report"
)

// Bookkeeping tables.
const (
	MetaTable        = "meta"
	LoadBatchesTable = "load_batches"
)

// ColumnType is a portable column type; engines map it to their own.
type ColumnType string

// Column types.
const (
	TypeInt64     ColumnType = "BIGINT"
	TypeFloat64   ColumnType = "DOUBLE"
	TypeText      ColumnType = "TEXT"
	TypeBool      ColumnType = "BOOLEAN"
	TypeTimestamp ColumnType = "TIMESTAMP"
)

// TableKind tells dimension, fact and bookkeeping tables apart.
type TableKind int

// Table kinds.
const (
	KindDimension TableKind = iota
	KindBookkeeping
	KindFact
)

// Column is one table column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// ForeignKey references the primary key column of another table in the
// same schema.
type ForeignKey struct {
	Column    string
	RefTable  string // qualified
	RefColumn string
}

// Table is one target table.
type Table struct {
	Namespace   string
	Name        string
	Kind        TableKind
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey

	// Fact tables only.
	Phase      metadata.Phase
	PeriodType metadata.PeriodType
	Unit       string
	KeyIDs     []int64
}

// QualifiedName is namespace.name.
func (t *Table) QualifiedName() string {
	return Qualify(t.Namespace, t.Name)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Qualify joins a namespace and a table name.
func Qualify(namespace, name string) string {
	return namespace + "." + name
}

// Schema is the full target schema.
type Schema struct {
	// Tables in creation order: dimensions with referenced tables first,
	// then timestamp blocks, then bookkeeping, then facts sorted by name.
	Tables []*Table
	// Views in creation order: processed views before the report views.
	Views []View

	blocks []timestampBlock
	byName map[string]*Table
}

// Table returns the table with the qualified name.
func (s *Schema) Table(qualified string) (*Table, bool) {
	t, ok := s.byName[qualified]
	return t, ok
}

// Facts returns the fact tables sorted by name.
func (s *Schema) Facts() []*Table {
	var out []*Table
	for _, t := range s.Tables {
		if t.Kind == KindFact {
			out = append(out, t)
		}
	}
	return out
}

// Namespaces returns the namespaces used by tables and views.
func (s *Schema) Namespaces() []string {
	out := []string{NamespaceRaw, NamespaceData}
	seen := map[string]bool{}
	for _, v := range s.Views {
		seen[v.Namespace] = true
	}
	for _, ns := range []string{NamespaceProcessed, NamespaceReport} {
		if seen[ns] {
			out = append(out, ns)
		}
	}
	return out
}

// FactColumns is the column layout shared by every fact table.
var FactColumns = []Column{
	{Name: "key_id", Type: TypeInt64},
	{Name: "sample_id", Type: TypeInt64},
	{Name: "band_id", Type: TypeInt64},
	{Name: "membership_id", Type: TypeInt64},
	{Name: "block_id", Type: TypeInt64},
	{Name: "value", Type: TypeFloat64, Nullable: true},
}

// FactRow lays out one data point in FactColumns order.
func FactRow(p decoder.DataPoint) []interface{} {
	return []interface{}{p.Key.KeyID, p.Key.SampleID, p.Key.BandID, p.Key.MembershipID, p.BlockID, p.Value}
}

type factIdentity struct {
	phase      metadata.Phase
	periodType metadata.PeriodType
	collection int64
	property   string
}

// Map derives the schema for a model and its series directory.
func Map(m *metadata.Model, d *decoder.Directory) (*Schema, error) {
	s := &Schema{byName: make(map[string]*Table)}

	for _, dim := range dimensions {
		t := dim.table
		s.Tables = append(s.Tables, &t)
	}
	s.blocks = timestampBlocks(m)
	for _, tb := range s.blocks {
		s.Tables = append(s.Tables, tb.table)
	}
	s.Tables = append(s.Tables, metaTable(), loadBatchesTable())
	s.Views = processedViews(s.blocks)

	facts := make(map[string]*Table)
	identities := make(map[string]factIdentity)
	for _, key := range d.Keys() {
		prop, _ := m.Properties.Get(key.PropertyID)
		id := factIdentity{
			phase:      key.Phase,
			periodType: key.PeriodType,
			collection: key.CollectionID,
			property:   prop.TableName(key.IsSummary),
		}
		if prev, ok := identities[key.Table]; ok && prev != id {
			return nil, plexerrors.Newf(plexerrors.ErrorTypeSchemaCreateFailed,
				"fact table name %s is shared by different series", key.Table).
				WithDetail("table", key.Table).WithDetail("key_id", key.KeyID)
		}
		identities[key.Table] = id

		t, ok := facts[key.Table]
		if !ok {
			t = factTable(key)
			if unit, ok := m.Units.Get(key.UnitID); ok {
				t.Unit = unit.Name
			}
			facts[key.Table] = t
		}
		t.KeyIDs = append(t.KeyIDs, key.KeyID)
	}

	names := make([]string, 0, len(facts))
	for name := range facts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := facts[name]
		sort.Slice(t.KeyIDs, func(i, j int) bool { return t.KeyIDs[i] < t.KeyIDs[j] })
		s.Tables = append(s.Tables, t)
		s.Views = append(s.Views, reportView(t))
	}

	for _, t := range s.Tables {
		qn := t.QualifiedName()
		if _, dup := s.byName[qn]; dup {
			return nil, plexerrors.Newf(plexerrors.ErrorTypeSchemaCreateFailed, "table %s is defined twice", qn)
		}
		s.byName[qn] = t
	}
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			if _, ok := s.byName[fk.RefTable]; !ok {
				return nil, plexerrors.New(plexerrors.ErrorTypeSchemaCreateFailed,
					fmt.Sprintf("table %s references unknown table %s", t.QualifiedName(), fk.RefTable))
			}
		}
	}
	return s, nil
}

func factTable(key decoder.SeriesKey) *Table {
	cols := make([]Column, len(FactColumns))
	copy(cols, FactColumns)
	return &Table{
		Namespace:  NamespaceData,
		Name:       key.Table,
		Kind:       KindFact,
		Columns:    cols,
		PrimaryKey: []string{"key_id", "block_id"},
		ForeignKeys: []ForeignKey{
			{Column: "key_id", RefTable: Qualify(NamespaceRaw, "keys"), RefColumn: "key_id"},
			{Column: "membership_id", RefTable: Qualify(NamespaceRaw, "memberships"), RefColumn: "membership_id"},
		},
		Phase:      key.Phase,
		PeriodType: key.PeriodType,
	}
}

func metaTable() *Table {
	return &Table{
		Namespace: NamespaceRaw,
		Name:      MetaTable,
		Kind:      KindBookkeeping,
		Columns: []Column{
			{Name: "name", Type: TypeText},
			{Name: "value", Type: TypeText, Nullable: true},
		},
		PrimaryKey: []string{"name"},
	}
}

func loadBatchesTable() *Table {
	return &Table{
		Namespace: NamespaceRaw,
		Name:      LoadBatchesTable,
		Kind:      KindBookkeeping,
		Columns: []Column{
			{Name: "batch_index", Type: TypeInt64},
			{Name: "table_name", Type: TypeText},
			{Name: "row_count", Type: TypeInt64},
			{Name: "committed_at", Type: TypeTimestamp},
		},
		PrimaryKey: []string{"batch_index", "table_name"},
	}
}
