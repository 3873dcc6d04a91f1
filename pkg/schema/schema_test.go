package schema

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/plexload/pkg/archive"
	"github.com/ajitpratap0/plexload/pkg/decoder"
	"github.com/ajitpratap0/plexload/pkg/metadata"
	"github.com/ajitpratap0/plexload/pkg/testutil"
)

func mapSolution(t *testing.T, sol *testutil.Solution) (*Schema, *metadata.Model, *decoder.Directory) {
	t.Helper()
	a, err := archive.Open(sol.Write(t, t.TempDir()), archive.Options{})
	require.NoError(t, err)
	defer a.Close()

	m, err := metadata.Build(context.Background(), bytes.NewReader(sol.XML()), metadata.Options{})
	require.NoError(t, err)
	d, err := decoder.PlanDirectory(m, a.Entries())
	require.NoError(t, err)
	s, err := Map(m, d)
	require.NoError(t, err)
	return s, m, d
}

func twoProperties() *testutil.Solution {
	sol := testutil.GeneratorSolution(10.5, 12.0, 9.75)
	sol.Add("t_unit", "unit_id", "2", "value", "$")
	sol.Add("t_property", "property_id", "2", "name", "Generation Cost", "unit_id", "2", "collection_id", "1")
	sol.AddSeries(testutil.Series{KeyID: 2, MembershipID: 1, PropertyID: 2, Phase: testutil.PhaseST,
		PeriodType: testutil.PeriodInterval, Values: []float64{1, 2, 3}})
	sol.AddSeries(testutil.Series{KeyID: 3, MembershipID: 1, PropertyID: 1, Phase: testutil.PhaseST,
		PeriodType: testutil.PeriodInterval, Sample: 1, Values: []float64{4, 5, 6}})
	return sol
}

func TestMapGeneratorSchema(t *testing.T) {
	s, _, _ := mapSolution(t, testutil.GeneratorSolution(10.5, 12.0, 9.75))

	facts := s.Facts()
	require.Len(t, facts, 1)
	fact := facts[0]
	assert.Equal(t, "data.ST__Interval__Generators__Generation", fact.QualifiedName())
	assert.Equal(t, []string{"key_id", "sample_id", "band_id", "membership_id", "block_id", "value"}, fact.ColumnNames())
	assert.Equal(t, "MW", fact.Unit)
	assert.Equal(t, []int64{1}, fact.KeyIDs)
	assert.Equal(t, metadata.PhaseST, fact.Phase)

	for _, name := range []string{"raw.objects", "raw.memberships", "raw.keys", "raw.periods", "raw.meta", "raw.load_batches"} {
		_, ok := s.Table(name)
		assert.True(t, ok, name)
	}
	_, ok := s.Table("raw.timestamp_block_ST__Interval")
	assert.True(t, ok)

	var names []string
	for _, v := range s.Views {
		names = append(names, v.QualifiedName())
	}
	assert.Equal(t, []string{
		"processed.timestamp_block_ST__Interval",
		"processed.classes", "processed.class_groups", "processed.categories",
		"processed.objects", "processed.properties", "processed.memberships",
		"report.ST__Interval__Generators__Generation",
	}, names)
	assert.Equal(t, []string{NamespaceRaw, NamespaceData, NamespaceProcessed, NamespaceReport}, s.Namespaces())
}

func TestViewsReadEarlierRelations(t *testing.T) {
	s, _, _ := mapSolution(t, twoProperties())

	seen := map[string]bool{}
	for _, tbl := range s.Tables {
		seen[tbl.QualifiedName()] = true
	}
	for _, v := range s.Views {
		for _, src := range v.Sources {
			assert.True(t, seen[src], "%s reads %s before it is created", v.QualifiedName(), src)
		}
		seen[v.QualifiedName()] = true
	}
}

func TestMapGroupsSeriesPerTable(t *testing.T) {
	s, _, _ := mapSolution(t, twoProperties())

	facts := s.Facts()
	require.Len(t, facts, 2)
	assert.Equal(t, "ST__Interval__Generators__Generation", facts[0].Name)
	assert.Equal(t, []int64{1, 3}, facts[0].KeyIDs)
	assert.Equal(t, "ST__Interval__Generators__Generation_Cost", facts[1].Name)
	assert.Equal(t, "$", facts[1].Unit)
}

func TestMapIsDeterministic(t *testing.T) {
	sol := twoProperties()
	first, _, _ := mapSolution(t, sol)
	for i := 0; i < 5; i++ {
		again, _, _ := mapSolution(t, sol)
		assert.Equal(t, describe(first), describe(again))
	}
}

func describe(s *Schema) string {
	var b strings.Builder
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "%s %v %v %v\n", t.QualifiedName(), t.Columns, t.PrimaryKey, t.KeyIDs)
	}
	return b.String()
}

func TestTablesReferenceEarlierTables(t *testing.T) {
	s, _, _ := mapSolution(t, twoProperties())

	seen := map[string]bool{}
	for _, tbl := range s.Tables {
		for _, fk := range tbl.ForeignKeys {
			assert.True(t, seen[fk.RefTable], "%s references %s before it is created", tbl.QualifiedName(), fk.RefTable)
		}
		seen[tbl.QualifiedName()] = true
	}
}

func TestDimensionRows(t *testing.T) {
	s, m, d := mapSolution(t, testutil.GeneratorSolution(10.5, 12.0, 9.75))

	rows := map[string][][]interface{}{}
	for _, tr := range s.DimensionRows(m, d) {
		for _, r := range tr.Rows {
			require.Len(t, r, len(tr.Table.Columns), tr.Table.Name)
		}
		rows[tr.Table.Name] = tr.Rows
	}

	require.Len(t, rows["memberships"], 1)
	ms := rows["memberships"][0]
	assert.Equal(t, "Generators", ms[2])
	assert.Equal(t, "G1", ms[10])
	assert.Equal(t, metadata.KindObject, ms[11])
	assert.Equal(t, int64(0), ms[12], "collection_idx")

	require.Len(t, rows["collections"], 1)
	assert.Equal(t, int64(1), rows["collections"][0][6], "n_members")
	require.Len(t, rows["properties"], 1)
	assert.Equal(t, int64(1), rows["properties"][0][11], "band_id")

	blocks := rows["timestamp_block_ST__Interval"]
	require.Len(t, blocks, 3)
	assert.Equal(t, []interface{}{int64(2), time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)}, blocks[1])

	require.Len(t, rows["keys"], 1)
	assert.Equal(t, "ST__Interval__Generators__Generation", rows["keys"][0][12])

	// three ST interval blocks per phase, interval ids reused where a phase has no mapping
	assert.Len(t, rows["periods"], 12)
	first := rows["periods"][0]
	assert.Equal(t, int64(metadata.PhaseLT), first[0])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), first[3])

	require.Len(t, rows["samples"], 1)
	assert.Equal(t, 1.0, rows["samples"][0][3])
}

type ansi struct{}

func (ansi) TableName(ns, name string) string { return `"` + ns + `"."` + name + `"` }
func (ansi) Quote(ident string) string        { return `"` + ident + `"` }

func view(t *testing.T, s *Schema, qualified string) View {
	t.Helper()
	for _, v := range s.Views {
		if v.QualifiedName() == qualified {
			return v
		}
	}
	t.Fatalf("no view %s", qualified)
	return View{}
}

func TestProcessedViewSQL(t *testing.T) {
	s, _, _ := mapSolution(t, testutil.GeneratorSolution(1))

	sql := ViewSQL(view(t, s, "processed.timestamp_block_ST__Interval"), ansi{})
	assert.Equal(t, `SELECT t."block_id", MIN(t."datetime") AS "datetime", COUNT(*) AS "interval_length" `+
		`FROM "raw"."timestamp_block_ST__Interval" t GROUP BY t."block_id"`, sql)

	sql = ViewSQL(view(t, s, "processed.memberships"), ansi{})
	assert.Contains(t, sql, `JOIN "processed"."objects" ch ON ch."id" = m."child_object_id"`)
	assert.Contains(t, sql, `ch."category" AS "child_category"`)

	sql = ViewSQL(view(t, s, "processed.properties"), ansi{})
	assert.Contains(t, sql, `UNION ALL`)
	assert.Contains(t, sql, `p."summary_name" AS "property"`)
	assert.Contains(t, sql, `LEFT JOIN "raw"."units" u ON u."unit_id" = p."summary_unit_id"`)

	sql = ViewSQL(view(t, s, "processed.objects"), ansi{})
	assert.Contains(t, sql, `c."class_group"`)
	assert.Contains(t, sql, `cat."name" AS "category"`)
}

func TestTimestampBlocksPerPhase(t *testing.T) {
	sol := testutil.GeneratorSolution(1, 2, 3, 4)
	sol.Add("t_period_1", "day_id", "1", "date", "2024-01-01T00:00:00")
	for i := 1; i <= 4; i++ {
		sol.Add("t_phase_3", "interval_id", strconv.Itoa(i), "period_id", strconv.Itoa((i+1)/2))
	}
	s, m, d := mapSolution(t, sol)

	for _, name := range []string{"timestamp_block_MT__Interval", "timestamp_block_MT__Day",
		"timestamp_block_ST__Interval", "timestamp_block_ST__Day"} {
		_, ok := s.Table(Qualify(NamespaceRaw, name))
		assert.True(t, ok, name)
	}
	_, ok := s.Table("raw.timestamp_block_LT__Interval")
	assert.False(t, ok, "phases without an interval mapping get no timestamp table")

	rows := map[string][][]interface{}{}
	for _, tr := range s.DimensionRows(m, d) {
		rows[tr.Table.Name] = tr.Rows
	}
	mt := rows["timestamp_block_MT__Interval"]
	require.Len(t, mt, 4)
	assert.Equal(t, int64(1), mt[1][0], "intervals 1 and 2 share MT block 1")
	assert.Equal(t, int64(2), mt[2][0])
	assert.Len(t, rows["timestamp_block_MT__Day"], 1)

	day := ViewSQL(view(t, s, "processed.timestamp_block_MT__Day"), ansi{})
	assert.Contains(t, day, `1 AS "interval_length"`)
}

func TestViewSQL(t *testing.T) {
	s, _, _ := mapSolution(t, testutil.GeneratorSolution(1))

	sql := ViewSQL(view(t, s, "report.ST__Interval__Generators__Generation"), ansi{})
	assert.Contains(t, sql, `FROM "data"."ST__Interval__Generators__Generation" f`)
	assert.Contains(t, sql, `per."phase_id" = 4 AND per."period_type_id" = 0`)
	assert.Contains(t, sql, `LEFT JOIN "raw"."units" u`)
}

func TestFactRow(t *testing.T) {
	p := decoder.DataPoint{
		Key:     decoder.SeriesKey{KeyID: 7, SampleID: 1, BandID: 2, MembershipID: 3},
		BlockID: 4,
		Value:   9.75,
	}
	assert.Equal(t, []interface{}{int64(7), int64(1), int64(2), int64(3), int64(4), 9.75}, FactRow(p))
}
