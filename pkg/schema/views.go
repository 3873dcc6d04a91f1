package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/plexload/pkg/metadata"
)

// View is a named SELECT over tables and earlier views. Report views label
// one fact table; processed views label the dimensions.
type View struct {
	Namespace string
	Name      string
	// Fact is the fact table of a report view.
	Fact *Table
	// Sources are the qualified tables and views the view reads.
	Sources []string

	query func(d Dialect) string
}

// QualifiedName is namespace.name.
func (v View) QualifiedName() string {
	return Qualify(v.Namespace, v.Name)
}

func reportView(t *Table) View {
	sources := []string{t.QualifiedName()}
	for _, name := range []string{"keys", "objects", "categories", "properties", "units", "periods"} {
		sources = append(sources, Qualify(NamespaceRaw, name))
	}
	return View{Namespace: NamespaceReport, Name: t.Name, Fact: t, Sources: sources}
}

// Dialect renders identifiers for one engine.
type Dialect interface {
	// TableName renders a namespace and table name as a table reference.
	TableName(namespace, name string) string
	// Quote quotes a column or alias identifier.
	Quote(ident string) string
}

// ViewSQL renders the SELECT statement of v.
func ViewSQL(v View, d Dialect) string {
	if v.query != nil {
		return v.query(d)
	}
	return reportSQL(v, d)
}

// reportSQL labels each fact row with its object, category, property, unit
// and period timestamp.
func reportSQL(v View, d Dialect) string {
	raw := func(name string) string { return d.TableName(NamespaceRaw, name) }
	q := d.Quote
	periodPhase := 0
	if v.Fact.PeriodType == 0 {
		periodPhase = int(v.Fact.Phase)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT f.%s, o.%s AS %s, c.%s AS %s, p.%s AS %s, u.%s AS %s, ",
		q("key_id"), q("name"), q("object_name"), q("name"), q("category_name"),
		q("name"), q("property_name"), q("name"), q("unit"))
	fmt.Fprintf(&b, "f.%s, f.%s, f.%s, per.%s, f.%s ",
		q("sample_id"), q("band_id"), q("block_id"), q("datetime"), q("value"))
	fmt.Fprintf(&b, "FROM %s f ", d.TableName(v.Fact.Namespace, v.Fact.Name))
	fmt.Fprintf(&b, "JOIN %s k ON k.%s = f.%s ", raw("keys"), q("key_id"), q("key_id"))
	fmt.Fprintf(&b, "JOIN %s o ON o.%s = k.%s ", raw("objects"), q("object_id"), q("object_id"))
	fmt.Fprintf(&b, "JOIN %s c ON c.%s = o.%s ", raw("categories"), q("category_id"), q("category_id"))
	fmt.Fprintf(&b, "JOIN %s p ON p.%s = k.%s ", raw("properties"), q("property_id"), q("property_id"))
	fmt.Fprintf(&b, "LEFT JOIN %s u ON u.%s = k.%s ", raw("units"), q("unit_id"), q("unit_id"))
	fmt.Fprintf(&b, "LEFT JOIN %s per ON per.%s = %d AND per.%s = %d AND per.%s = f.%s",
		raw("periods"), q("phase_id"), periodPhase, q("period_type_id"), int(v.Fact.PeriodType),
		q("block_id"), q("block_id"))
	return b.String()
}

// sqlf expands a view template. {raw:name} and {processed:name} become
// table references and {name} a quoted identifier.
func sqlf(d Dialect, tmpl string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(tmpl, '{')
		if start < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		end := strings.IndexByte(tmpl[start:], '}') + start
		b.WriteString(tmpl[:start])
		ref := tmpl[start+1 : end]
		if ns, name, ok := strings.Cut(ref, ":"); ok {
			b.WriteString(d.TableName(ns, name))
		} else {
			b.WriteString(d.Quote(ref))
		}
		tmpl = tmpl[end+1:]
	}
}

func processed(name, tmpl string, sources ...string) View {
	return View{
		Namespace: NamespaceProcessed,
		Name:      name,
		Sources:   sources,
		query:     func(d Dialect) string { return sqlf(d, tmpl) },
	}
}

func rawName(name string) string       { return Qualify(NamespaceRaw, name) }
func processedName(name string) string { return Qualify(NamespaceProcessed, name) }

// processedViews label the dimensions with names. Interval timestamp views
// aggregate the intervals of each block; the others pass blocks through.
func processedViews(blocks []timestampBlock) []View {
	var out []View
	for _, tb := range blocks {
		tmpl := "SELECT t.{block_id}, t.{datetime}, 1 AS {interval_length} FROM {raw:" + tb.table.Name + "} t"
		if tb.typ == metadata.PeriodInterval {
			tmpl = "SELECT t.{block_id}, MIN(t.{datetime}) AS {datetime}, COUNT(*) AS {interval_length} " +
				"FROM {raw:" + tb.table.Name + "} t GROUP BY t.{block_id}"
		}
		out = append(out, processed(tb.table.Name, tmpl, tb.table.QualifiedName()))
	}

	return append(out,
		processed("classes",
			"SELECT c.{class_id}, c.{name} AS {class}, g.{name} AS {class_group} "+
				"FROM {raw:classes} c LEFT JOIN {raw:class_groups} g ON g.{class_group_id} = c.{class_group_id}",
			rawName("classes"), rawName("class_groups")),
		processed("class_groups",
			"SELECT g.{class_group_id}, g.{name} AS {class_group}, COUNT(c.{class_id}) AS {n_classes} "+
				"FROM {raw:class_groups} g LEFT JOIN {raw:classes} c ON c.{class_group_id} = g.{class_group_id} "+
				"GROUP BY g.{class_group_id}, g.{name}",
			rawName("class_groups"), rawName("classes")),
		processed("categories",
			"SELECT cat.{category_id}, cat.{name} AS {category}, cat.{rank}, c.{class}, c.{class_group} "+
				"FROM {raw:categories} cat JOIN {processed:classes} c ON c.{class_id} = cat.{class_id}",
			rawName("categories"), processedName("classes")),
		processed("objects",
			"SELECT o.{object_id} AS {id}, o.{name}, cat.{name} AS {category}, c.{class_group}, c.{class} "+
				"FROM {raw:objects} o JOIN {processed:classes} c ON c.{class_id} = o.{class_id} "+
				"JOIN {raw:categories} cat ON cat.{category_id} = o.{category_id}",
			rawName("objects"), processedName("classes"), rawName("categories")),
		processed("properties",
			"SELECT p.{property_id}, FALSE AS {is_summary}, c.{name} AS {collection}, p.{name} AS {property}, "+
				"u.{name} AS {unit}, p.{band_id} "+
				"FROM {raw:properties} p LEFT JOIN {raw:collections} c ON c.{collection_id} = p.{collection_id} "+
				"LEFT JOIN {raw:units} u ON u.{unit_id} = p.{unit_id} "+
				"UNION ALL "+
				"SELECT p.{property_id}, TRUE AS {is_summary}, c.{name} AS {collection}, p.{summary_name} AS {property}, "+
				"u.{name} AS {unit}, p.{band_id} "+
				"FROM {raw:properties} p LEFT JOIN {raw:collections} c ON c.{collection_id} = p.{collection_id} "+
				"LEFT JOIN {raw:units} u ON u.{unit_id} = p.{summary_unit_id}",
			rawName("properties"), rawName("collections"), rawName("units")),
		processed("memberships",
			"SELECT m.{membership_id}, m.{parent_object_id} AS {parent_id}, m.{child_object_id} AS {child_id}, "+
				"m.{collection_name} AS {collection}, m.{collection_idx}, "+
				"p.{name} AS {parent_name}, p.{class} AS {parent_class}, p.{class_group} AS {parent_group}, "+
				"p.{category} AS {parent_category}, "+
				"ch.{name} AS {child_name}, ch.{class} AS {child_class}, ch.{class_group} AS {child_group}, "+
				"ch.{category} AS {child_category}, m.{kind} "+
				"FROM {raw:memberships} m JOIN {processed:objects} p ON p.{id} = m.{parent_object_id} "+
				"JOIN {processed:objects} ch ON ch.{id} = m.{child_object_id}",
			rawName("memberships"), processedName("objects")),
	)
}
