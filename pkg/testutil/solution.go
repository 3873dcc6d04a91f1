package testutil

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// Phase and period type ids as they appear in solution metadata.
const (
	PhaseLT   = 1
	PhasePASA = 2
	PhaseMT   = 3
	PhaseST   = 4

	PeriodInterval = 0
	PeriodDay      = 1
	PeriodWeek     = 2
	PeriodMonth    = 3
	PeriodYear     = 4
	PeriodHour     = 6
	PeriodQuarter  = 7
)

// Field is one child element of a metadata row.
type Field struct {
	Name  string
	Value string
}

// Row is one metadata table row, e.g. a t_class element.
type Row struct {
	Table  string
	Fields []Field
}

type extraEntry struct {
	name             string
	method           uint16
	content          []byte
	raw              bool
	uncompressedSize uint64
}

// Series describes one data series appended by AddSeries.
type Series struct {
	KeyID        int
	MembershipID int
	PropertyID   int
	ModelID      int
	Phase        int
	PeriodType   int
	Band         int
	Sample       int
	Timeslice    int
	Summary      bool
	PeriodOffset int
	Values       []float64
}

// Solution builds a synthetic solution archive in memory.
type Solution struct {
	ModelName string
	// XMLName overrides the metadata entry name.
	XMLName string
	// Root overrides the document root element.
	Root string
	// DataMethod is the compression method of BIN entries (default Deflate).
	DataMethod uint16

	rows  []Row
	data  map[int][]byte
	extra []extraEntry
	// OmitData skips writing BIN entries for the listed period types.
	OmitData map[int]bool
}

// NewSolution returns an empty solution for modelName.
func NewSolution(modelName string) *Solution {
	return &Solution{
		ModelName:  modelName,
		DataMethod: zip.Deflate,
		data:       map[int][]byte{},
		OmitData:   map[int]bool{},
	}
}

// ZipName is the conventional archive file name.
func (s *Solution) ZipName() string {
	return fmt.Sprintf("Model %s Solution.zip", s.ModelName)
}

// Add appends a row to table; kv holds alternating field names and values.
func (s *Solution) Add(table string, kv ...string) *Solution {
	if len(kv)%2 != 0 {
		panic("testutil: Add needs name/value pairs")
	}
	row := Row{Table: table}
	for i := 0; i < len(kv); i += 2 {
		row.Fields = append(row.Fields, Field{Name: kv[i], Value: kv[i+1]})
	}
	s.rows = append(s.rows, row)
	return s
}

// Rows returns the metadata rows added so far.
func (s *Solution) Rows() []Row {
	return s.rows
}

// AppendData appends values to the BIN entry of periodType and returns the
// byte position at which they start.
func (s *Solution) AppendData(periodType int, values []float64) int64 {
	pos := int64(len(s.data[periodType]))
	s.data[periodType] = append(s.data[periodType], Float64LE(values)...)
	return pos
}

// SetRawData replaces the BIN payload of periodType.
func (s *Solution) SetRawData(periodType int, b []byte) {
	s.data[periodType] = b
}

// AddSeries appends values to the BIN entry and adds the t_key and
// t_key_index rows describing them.
func (s *Solution) AddSeries(sr Series) *Solution {
	pos := s.AppendData(sr.PeriodType, sr.Values)
	keyPeriodType := "0"
	if sr.Summary {
		keyPeriodType = "1"
	}
	model := sr.ModelID
	if model == 0 {
		model = 1
	}
	band := sr.Band
	if band == 0 {
		band = 1
	}
	s.Add("t_key",
		"key_id", itoa(sr.KeyID),
		"membership_id", itoa(sr.MembershipID),
		"model_id", itoa(model),
		"phase_id", itoa(sr.Phase),
		"property_id", itoa(sr.PropertyID),
		"period_type_id", keyPeriodType,
		"band_id", itoa(band),
		"sample_id", itoa(sr.Sample),
		"timeslice_id", itoa(sr.Timeslice),
	)
	s.Add("t_key_index",
		"key_id", itoa(sr.KeyID),
		"period_type_id", itoa(sr.PeriodType),
		"position", strconv.FormatInt(pos, 10),
		"length", itoa(len(sr.Values)),
		"period_offset", itoa(sr.PeriodOffset),
	)
	return s
}

// AddEntry adds an arbitrary archive entry compressed with method.
func (s *Solution) AddEntry(name string, content []byte, method uint16) *Solution {
	s.extra = append(s.extra, extraEntry{name: name, method: method, content: content})
	return s
}

// AddRawEntry adds an entry whose bytes are written as-is under method,
// which need not be a method the reader supports.
func (s *Solution) AddRawEntry(name string, method uint16, raw []byte, uncompressedSize uint64) *Solution {
	s.extra = append(s.extra, extraEntry{
		name:             name,
		method:           method,
		content:          raw,
		raw:              true,
		uncompressedSize: uncompressedSize,
	})
	return s
}

// XML renders the metadata document.
func (s *Solution) XML() []byte {
	root := s.Root
	if root == "" {
		root = "SolutionDataset"
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" standalone="yes"?>` + "\n")
	fmt.Fprintf(&buf, "<%s xmlns=\"http://tempuri.org/SolutionDataset.xsd\">\n", root)
	for _, row := range s.rows {
		fmt.Fprintf(&buf, "  <%s>", row.Table)
		for _, f := range row.Fields {
			fmt.Fprintf(&buf, "<%s>", f.Name)
			_ = xml.EscapeText(&buf, []byte(f.Value))
			fmt.Fprintf(&buf, "</%s>", f.Name)
		}
		fmt.Fprintf(&buf, "</%s>\n", row.Table)
	}
	fmt.Fprintf(&buf, "</%s>\n", root)
	return buf.Bytes()
}

// Zip renders the archive.
func (s *Solution) Zip() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	xmlName := s.XMLName
	if xmlName == "" {
		xmlName = fmt.Sprintf("Model %s Solution.xml", s.ModelName)
	}
	if err := writeEntry(zw, xmlName, zip.Deflate, s.XML()); err != nil {
		return nil, err
	}

	periodTypes := make([]int, 0, len(s.data))
	for pt := range s.data {
		periodTypes = append(periodTypes, pt)
	}
	sort.Ints(periodTypes)
	for _, pt := range periodTypes {
		if s.OmitData[pt] {
			continue
		}
		if err := writeEntry(zw, fmt.Sprintf("t_data_%d.BIN", pt), s.DataMethod, s.data[pt]); err != nil {
			return nil, err
		}
	}

	for _, e := range s.extra {
		if !e.raw {
			if err := writeEntry(zw, e.name, e.method, e.content); err != nil {
				return nil, err
			}
			continue
		}
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               e.name,
			Method:             e.method,
			CRC32:              crc32.ChecksumIEEE(e.content),
			CompressedSize64:   uint64(len(e.content)),
			UncompressedSize64: e.uncompressedSize,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.content); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write writes the archive into dir and returns its path.
func (s *Solution) Write(t testing.TB, dir string) string {
	t.Helper()
	data, err := s.Zip()
	require.NoError(t, err)
	path := filepath.Join(dir, s.ZipName())
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// WriteXML writes the bare metadata document into dir and returns its path.
func (s *Solution) WriteXML(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("Model %s Solution.xml", s.ModelName))
	require.NoError(t, os.WriteFile(path, s.XML(), 0o600))
	return path
}

func writeEntry(zw *zip.Writer, name string, method uint16, content []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}

// Float64LE encodes values as little-endian IEEE-754 doubles.
func Float64LE(values []float64) []byte {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// Ids used by GeneratorSolution.
const (
	SystemClassID     = 1
	GeneratorClassID  = 2
	SystemObjectID    = 1
	G1ObjectID        = 2
	GeneratorsCollID  = 1
	G1MembershipID    = 1
	GenerationPropID  = 1
	MWUnitID          = 1
	GeneratorCategory = 1
)

// GeneratorSolution returns a solution with class Generator, object G1,
// property Generation (MW) and one ST interval series holding values, with
// one interval period per value.
func GeneratorSolution(values ...float64) *Solution {
	s := NewSolution("Base")
	s.Add("t_config", "element", "Version", "value", "9.200 R06")
	s.Add("t_class_group", "class_group_id", "1", "name", "Production", "lang_id", "0")
	s.Add("t_class", "class_id", itoa(SystemClassID), "name", "System", "class_group_id", "1", "lang_id", "0")
	s.Add("t_class", "class_id", itoa(GeneratorClassID), "name", "Generator", "class_group_id", "1", "lang_id", "0")
	s.Add("t_category", "category_id", itoa(GeneratorCategory), "class_id", itoa(GeneratorClassID), "rank", "0", "name", "-")
	s.Add("t_category", "category_id", "2", "class_id", itoa(SystemClassID), "rank", "0", "name", "-")
	s.Add("t_object", "object_id", itoa(SystemObjectID), "class_id", itoa(SystemClassID), "name", "System",
		"category_id", "2", "index", "0", "show", "true")
	s.Add("t_object", "object_id", itoa(G1ObjectID), "class_id", itoa(GeneratorClassID), "name", "G1",
		"category_id", itoa(GeneratorCategory), "index", "1", "show", "true")
	s.Add("t_collection", "collection_id", itoa(GeneratorsCollID), "parent_class_id", itoa(SystemClassID),
		"child_class_id", itoa(GeneratorClassID), "name", "Generators", "complement_name", "", "lang_id", "0")
	s.Add("t_membership", "membership_id", itoa(G1MembershipID), "parent_class_id", itoa(SystemClassID),
		"child_class_id", itoa(GeneratorClassID), "collection_id", itoa(GeneratorsCollID),
		"parent_object_id", itoa(SystemObjectID), "child_object_id", itoa(G1ObjectID))
	s.Add("t_unit", "unit_id", itoa(MWUnitID), "value", "MW", "lang_id", "0")
	s.Add("t_property", "property_id", itoa(GenerationPropID), "name", "Generation", "summary_name", "Generation",
		"enum_id", "1", "unit_id", itoa(MWUnitID), "summary_unit_id", itoa(MWUnitID), "is_multi_band", "false",
		"is_period", "true", "is_summary", "false", "collection_id", itoa(GeneratorsCollID), "lang_id", "0")
	s.Add("t_model", "model_id", "1", "name", "Base")
	s.Add("t_band", "band_id", "1")
	s.Add("t_sample", "sample_id", "0", "sample_name", "Mean")
	s.Add("t_sample_weight", "sample_id", "0", "phase_id", itoa(PhaseST), "value", "1")
	s.Add("t_timeslice", "timeslice_id", "0", "name", "All")

	for i := range values {
		s.Add("t_period_0",
			"interval_id", itoa(i+1),
			"datetime", fmt.Sprintf("01/01/2024 %02d:00:00", i),
			"hour_id", itoa(i+1), "day_id", "1", "week_id", "1", "month_id", "1",
			"fiscal_year_id", "1", "period_of_day", itoa(i+1))
		s.Add("t_phase_4", "interval_id", itoa(i+1), "period_id", itoa(i+1))
	}

	s.AddSeries(Series{
		KeyID:        1,
		MembershipID: G1MembershipID,
		PropertyID:   GenerationPropID,
		Phase:        PhaseST,
		PeriodType:   PeriodInterval,
		Values:       values,
	})
	return s
}
