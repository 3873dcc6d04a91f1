package pipeline

import (
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/plexload/pkg/engine/columnar"
	_ "github.com/ajitpratap0/plexload/pkg/engine/duckdb"
	"github.com/ajitpratap0/plexload/pkg/testutil"
)

const factName = "ST__Interval__Generators__Generation"

var payloadNaN = math.Float64frombits(0x7ff8000000000abc)

// EngineSuite converts one archive into every file based engine and reads
// the facts back with the engine's own client.
type EngineSuite struct {
	testutil.ConversionSuite
	values  []float64
	archive string
}

func TestEngines(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ConversionSuite.SetupTest()
	s.values = []float64{10.5, payloadNaN, math.Copysign(0, -1), 9.75}
	s.archive = s.WriteSolution(testutil.GeneratorSolution(s.values...))
}

func (s *EngineSuite) convert(engineName, file string) string {
	target := filepath.Join(s.Dir(), file)
	report, err := Run(s.Context(), Options{
		Config: newConfig(s.archive, target),
		Logger: zaptest.NewLogger(s.T()),
	})
	s.Require().NoError(err)
	s.Equal(engineName, report.Engine)
	s.EqualValues(len(s.values), report.FactRows)
	s.Equal(StateDone, report.State)
	return target
}

func (s *EngineSuite) sqlValues(driver, path, table string) []sql.NullFloat64 {
	db, err := sql.Open(driver, path)
	s.Require().NoError(err)
	defer db.Close()

	rows, err := db.Query("SELECT value FROM " + table + " ORDER BY block_id")
	s.Require().NoError(err)
	defer rows.Close()
	var out []sql.NullFloat64
	for rows.Next() {
		var v sql.NullFloat64
		s.Require().NoError(rows.Scan(&v))
		out = append(out, v)
	}
	s.Require().NoError(rows.Err())
	return out
}

func (s *EngineSuite) queryRow(driver, path, query string, dest ...interface{}) {
	db, err := sql.Open(driver, path)
	s.Require().NoError(err)
	defer db.Close()
	s.Require().NoError(db.QueryRow(query).Scan(dest...))
}

func (s *EngineSuite) TestSQLite() {
	path := s.convert("sqlite", "out.sqlite")
	got := s.sqlValues("sqlite", path, `"data__`+factName+`"`)
	s.Require().Len(got, len(s.values))
	s.Equal(10.5, got[0].Float64)
	s.False(got[1].Valid, "NaN is stored as NULL")
	s.Equal(9.75, got[3].Float64)

	var child, category, group string
	s.queryRow("sqlite", path, `SELECT child_name, child_category, child_group FROM "processed__memberships"`,
		&child, &category, &group)
	s.Equal("G1", child)
	s.Equal("-", category)
	s.Equal("Production", group)

	var blocks, intervals int
	s.queryRow("sqlite", path,
		`SELECT COUNT(*), SUM(interval_length) FROM "processed__timestamp_block_ST__Interval"`, &blocks, &intervals)
	s.Equal(len(s.values), blocks)
	s.Equal(len(s.values), intervals)
}

func (s *EngineSuite) TestDuckDB() {
	path := s.convert("duckdb", "out.duckdb")
	got := s.sqlValues("duckdb", path, `"data"."`+factName+`"`)
	s.Require().Len(got, len(s.values))
	s.Equal(10.5, got[0].Float64)
	s.True(got[1].Valid)
	s.True(math.IsNaN(got[1].Float64))
	s.Equal(9.75, got[3].Float64)

	var units int
	s.queryRow("duckdb", path, `SELECT COUNT(*) FROM "processed"."properties" WHERE unit = 'MW'`, &units)
	s.Equal(2, units, "summary and non-summary rows")
}

func (s *EngineSuite) TestDuckDBRejectsOrphanFacts() {
	path := s.convert("duckdb", "out.duckdb")
	db, err := sql.Open("duckdb", path)
	s.Require().NoError(err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO "data__` + factName + `" VALUES (999, 0, 1, 1, 99, 1.0)`)
	s.Error(err, "key 999 is not in raw.keys")
	_, err = db.Exec(`INSERT INTO "data__` + factName + `" VALUES (1, 0, 1, 999, 99, 1.0)`)
	s.Error(err, "membership 999 is not in raw.memberships")

	got := s.sqlValues("duckdb", path, `"data"."`+factName+`"`)
	s.Len(got, len(s.values))
}

func (s *EngineSuite) parts(dir string, f columnar.Format) []string {
	parts, err := columnar.Parts(dir, f, "data", factName)
	s.Require().NoError(err)
	s.Require().NotEmpty(parts)
	return parts
}

func (s *EngineSuite) TestParquet() {
	dir := s.convert("parquet", "out.parquet")

	var got []float64
	for _, part := range s.parts(dir, columnar.Parquet) {
		rdr, err := file.OpenParquetFile(part, false)
		s.Require().NoError(err)
		fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
		s.Require().NoError(err)
		tbl, err := fr.ReadTable(s.Context())
		s.Require().NoError(err)

		idx := tbl.Schema().FieldIndices("value")
		s.Require().Len(idx, 1)
		for _, chunk := range tbl.Column(idx[0]).Data().Chunks() {
			arr := chunk.(*array.Float64)
			for i := 0; i < arr.Len(); i++ {
				got = append(got, arr.Value(i))
			}
		}
		tbl.Release()
		s.Require().NoError(rdr.Close())
	}
	s.assertBits(got)
}

func (s *EngineSuite) TestAvro() {
	dir := s.convert("avro", "out.avro")

	var got []float64
	for _, part := range s.parts(dir, columnar.Avro) {
		f, err := os.Open(part)
		s.Require().NoError(err)
		ocf, err := goavro.NewOCFReader(f)
		s.Require().NoError(err)
		for ocf.Scan() {
			datum, err := ocf.Read()
			s.Require().NoError(err)
			v := datum.(map[string]interface{})["value"].(map[string]interface{})["double"].(float64)
			got = append(got, v)
		}
		s.Require().NoError(ocf.Err())
		s.Require().NoError(f.Close())
	}
	s.assertBits(got)
}

func (s *EngineSuite) assertBits(got []float64) {
	s.Require().Len(got, len(s.values))
	for i, want := range s.values {
		s.Equal(math.Float64bits(want), math.Float64bits(got[i]), "value %d", i)
	}
}
