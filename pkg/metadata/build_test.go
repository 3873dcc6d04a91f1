package metadata

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/testutil"
)

func build(t *testing.T, sol *testutil.Solution) (*Model, error) {
	t.Helper()
	return Build(testutil.TestContext(t), bytes.NewReader(sol.XML()), Options{Logger: testutil.TestLogger(t)})
}

func TestBuildGeneratorModel(t *testing.T) {
	m, err := build(t, testutil.GeneratorSolution(10.5, 12.0, 9.75))
	require.NoError(t, err)

	assert.Equal(t, "9.200 R06", m.Version)
	assert.Equal(t, 2, m.Classes.Len())
	assert.Equal(t, []int64{1, 2}, m.Objects.IDs())

	g1, ok := m.Objects.Get(testutil.G1ObjectID)
	require.True(t, ok)
	assert.Equal(t, "G1", g1.Name)
	assert.True(t, g1.Show)

	ms, ok := m.Memberships.Get(testutil.G1MembershipID)
	require.True(t, ok)
	assert.Equal(t, KindObject, m.MembershipKind(ms))

	prop, ok := m.Properties.Get(testutil.GenerationPropID)
	require.True(t, ok)
	assert.Equal(t, "Generation", prop.TableName(false))
	assert.Equal(t, int64(testutil.MWUnitID), prop.ReportUnitID())

	key, ok := m.Keys.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(PhaseST), key.PhaseID)
	assert.False(t, key.IsSummary)

	ki, ok := m.KeyIndexes.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(3), ki.Length)
	assert.Equal(t, int64(0), ki.Position)

	s, ok := m.Samples.Get(0)
	require.True(t, ok)
	assert.Equal(t, "Mean", s.Name)
	assert.Equal(t, int64(PhaseST), s.PhaseID)
	assert.Equal(t, 1.0, s.Weight)

	periods := m.Periods(PeriodInterval)
	require.Len(t, periods, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), periods[2].Time)
}

func TestBuildDerivesMembershipCountsAndBands(t *testing.T) {
	sol := testutil.GeneratorSolution(1, 2)
	sol.Add("t_object", "object_id", "3", "class_id", itoa(testutil.GeneratorClassID), "name", "G2",
		"category_id", itoa(testutil.GeneratorCategory), "index", "2", "show", "true")
	sol.Add("t_membership", "membership_id", "2", "parent_class_id", itoa(testutil.SystemClassID),
		"child_class_id", itoa(testutil.GeneratorClassID), "collection_id", itoa(testutil.GeneratorsCollID),
		"parent_object_id", itoa(testutil.SystemObjectID), "child_object_id", "3")
	sol.Add("t_band", "band_id", "3")
	sol.AddSeries(testutil.Series{KeyID: 2, MembershipID: 2, PropertyID: testutil.GenerationPropID,
		Phase: testutil.PhaseST, PeriodType: testutil.PeriodInterval, Band: 3, Values: []float64{5, 6}})
	m, err := build(t, sol)
	require.NoError(t, err)

	coll, ok := m.Collections.Get(testutil.GeneratorsCollID)
	require.True(t, ok)
	assert.Equal(t, int64(2), coll.NMembers)

	first, _ := m.Memberships.Get(1)
	second, _ := m.Memberships.Get(2)
	assert.Equal(t, int64(0), first.CollectionIndex)
	assert.Equal(t, int64(1), second.CollectionIndex)

	prop, ok := m.Properties.Get(testutil.GenerationPropID)
	require.True(t, ok)
	assert.Equal(t, int64(3), prop.BandID)
}

func TestBuildPeriodSpaces(t *testing.T) {
	sol := testutil.GeneratorSolution(1, 2, 3, 4)
	sol.Add("t_period_1", "day_id", "1", "date", "2024-01-01T00:00:00")
	sol.Add("t_period_1", "day_id", "2", "date", "2024-01-02T00:00:00")
	// MT aggregates intervals pairwise
	for i := 1; i <= 4; i++ {
		sol.Add("t_phase_3", "interval_id", itoa(i), "period_id", itoa((i+1)/2))
	}
	m, err := build(t, sol)
	require.NoError(t, err)

	st, ok := m.PeriodSpace(PhaseST, PeriodInterval)
	require.True(t, ok)
	assert.Len(t, st.Blocks, 4)
	assert.True(t, st.ContainsRange(1, 4))
	assert.False(t, st.ContainsRange(1, 5))
	assert.False(t, st.ContainsRange(3, 2))

	mt, ok := m.PeriodSpace(PhaseMT, PeriodInterval)
	require.True(t, ok)
	require.Len(t, mt.Blocks, 2)
	assert.Equal(t, int64(2), mt.Blocks[0].IntervalLength)
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), mt.Blocks[1].Time)

	// no phase rows: interval ids are used directly
	lt, ok := m.PeriodSpace(PhaseLT, PeriodInterval)
	require.True(t, ok)
	assert.Len(t, lt.Blocks, 4)

	day, ok := m.PeriodSpace(PhaseST, PeriodDay)
	require.True(t, ok)
	b, ok := day.Block(2)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), b.Time)

	_, ok = m.PeriodSpace(PhaseST, PeriodYear)
	assert.False(t, ok)
}

func TestBuildReportsAllViolations(t *testing.T) {
	sol := testutil.GeneratorSolution(1)
	sol.Add("t_object", "object_id", "9", "class_id", "77", "name", "Orphan", "category_id", "1")
	sol.Add("t_membership", "membership_id", "5", "parent_class_id", "1", "child_class_id", "2",
		"collection_id", "42", "parent_object_id", "1", "child_object_id", "2")
	sol.Add("t_property", "property_id", "3", "name", "Broken", "collection_id", "99")
	sol.Add("t_class", "class_id", "1", "name", "Again")
	sol.Add("t_unit", "value", "no id")

	_, err := build(t, sol)
	require.Error(t, err)
	assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeMetadataMalformed))

	violations := plexerrors.Violations(err)
	joined := strings.Join(violations, "\n")
	assert.Contains(t, joined, "object 9 (Orphan): unknown class 77")
	assert.Contains(t, joined, "membership 5: unknown collection 42")
	assert.Contains(t, joined, "property 3 (Broken): unknown collection 99")
	assert.Contains(t, joined, "duplicate class_id 1")
	assert.Contains(t, joined, "t_unit row 2: missing field unit_id")
	assert.GreaterOrEqual(t, len(violations), 5)
}

func TestBuildMembershipClassMismatch(t *testing.T) {
	sol := testutil.GeneratorSolution(1)
	// child object is the System object, not a Generator
	sol.Add("t_membership", "membership_id", "2", "parent_class_id", "1", "child_class_id", "2",
		"collection_id", "1", "parent_object_id", "1", "child_object_id", "1")

	_, err := build(t, sol)
	require.Error(t, err)
	assert.Contains(t, plexerrors.Violations(err), "membership 2: child object 1 is not of class 2")
}

func TestBuildRejectsWrongRoot(t *testing.T) {
	sol := testutil.GeneratorSolution(1)
	sol.Root = "SomethingElse"

	_, err := build(t, sol)
	require.Error(t, err)
	assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeMetadataMalformed))
}

func TestBuildRejectsInvalidXML(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ""},
		{name: "unclosed root", doc: "<SolutionDataset><t_class><class_id>1</class_id></t_class>"},
		{name: "mismatched tags", doc: "<SolutionDataset><t_class></t_object></SolutionDataset>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), strings.NewReader(tt.doc), Options{})
			require.Error(t, err)
			assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeMetadataMalformed))
		})
	}
}

func TestBuildVersion(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{version: "7.400 R02"},
		{version: "9.200 R06"},
		{version: "11.000"},
		{version: "6.300", wantErr: true},
		{version: "12.100", wantErr: true},
		{version: "unknown", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			sol := testutil.NewSolution("Base")
			sol.Add("t_config", "element", "Version", "value", tt.version)

			_, err := build(t, sol)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeMetadataVersionUnsupported))
		})
	}
}

func TestBuildWithoutVersion(t *testing.T) {
	m, err := build(t, testutil.NewSolution("Base"))
	require.NoError(t, err)
	assert.Empty(t, m.Version)
}

func TestBuildIgnoresUnknownTables(t *testing.T) {
	sol := testutil.GeneratorSolution(1)
	sol.Add("t_custom_extension", "anything", "1")
	_, err := build(t, sol)
	require.NoError(t, err)
}

func TestBuildKeepsDuplicateKeyIndexes(t *testing.T) {
	sol := testutil.GeneratorSolution(1, 2)
	sol.Add("t_key_index", "key_id", "1", "period_type_id", "0", "position", "0", "length", "1", "period_offset", "0")

	m, err := build(t, sol)
	require.NoError(t, err)
	require.Len(t, m.DuplicateKeyIndexes(), 1)
	assert.Equal(t, int64(1), m.DuplicateKeyIndexes()[0].Length)
}

func TestBuildCancelled(t *testing.T) {
	sol := testutil.NewSolution("Base")
	for i := 1; i <= 20000; i++ {
		sol.Add("t_band", "band_id", itoa(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, bytes.NewReader(sol.XML()), Options{})
	require.Error(t, err)
	assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeCancelled))
}

func TestSummary(t *testing.T) {
	m, err := build(t, testutil.GeneratorSolution(1, 2, 3))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, tc := range m.Summary() {
		counts[tc.Table] = tc.Rows
	}
	assert.Equal(t, 2, counts["t_object"])
	assert.Equal(t, 3, counts["t_period_0"])
	assert.Equal(t, 3, counts["t_phase_4"])
	assert.Equal(t, 0, counts["t_period_7"])
	assert.Equal(t, 1, counts["t_key_index"])
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
