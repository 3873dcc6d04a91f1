// Package metadata builds the metadata model of a solution from its XML
// document.
//
// The document is parsed in a single forward pass into id-keyed tables. A
// resolution pass then checks every cross reference and collects all
// violations, so a broken document reports every problem at once:
//
//	model, err := metadata.Build(ctx, r, metadata.Options{Logger: log})
//	if plexerrors.IsType(err, plexerrors.ErrorTypeMetadataMalformed) {
//	    for _, v := range plexerrors.Violations(err) {
//	        fmt.Println(v)
//	    }
//	}
package metadata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// RootElement is the document element of a solution metadata file.
const RootElement = "SolutionDataset"

// Supported major versions of the solution schema.
const (
	MinMajorVersion = 7
	MaxMajorVersion = 11
)

// Options for Build.
type Options struct {
	Logger *zap.Logger
}

type rawField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type rawRow struct {
	Fields []rawField `xml:",any"`
}

type builder struct {
	m          *Model
	logger     *zap.Logger
	violations []string
	rowCounts  map[string]int
	unknown    map[string]bool
}

// Build parses and validates a metadata document.
func Build(ctx context.Context, r io.Reader, opts Options) (*Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &builder{
		m:         newModel(),
		logger:    logger.With(zap.String("component", "metadata")),
		rowCounts: make(map[string]int),
		unknown:   make(map[string]bool),
	}

	if err := b.parse(ctx, r); err != nil {
		return nil, err
	}
	if err := b.checkVersion(); err != nil {
		return nil, err
	}

	b.finish()
	b.resolve()
	if len(b.violations) > 0 {
		return nil, plexerrors.Malformed(b.violations)
	}

	b.m.buildSpaces()
	b.logger.Debug("metadata model built",
		zap.String("version", b.m.Version),
		zap.Int("objects", b.m.Objects.Len()),
		zap.Int("keys", b.m.Keys.Len()),
		zap.Int("key_indexes", b.m.KeyIndexes.Len()))
	return b.m, nil
}

func (b *builder) parse(ctx context.Context, r io.Reader) error {
	d := xml.NewDecoder(r)
	d.Strict = true

	root, err := nextStart(d)
	if err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeMetadataMalformed, "document has no root element")
	}
	if root.Name.Local != RootElement {
		return plexerrors.Malformed([]string{
			fmt.Sprintf("root element is %q, expected %q", root.Name.Local, RootElement),
		})
	}

	rows := 0
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return plexerrors.New(plexerrors.ErrorTypeMetadataMalformed, "document ends before root element closes")
		}
		if err != nil {
			return plexerrors.Wrap(err, plexerrors.ErrorTypeMetadataMalformed, "invalid XML")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			var row rawRow
			if err := d.DecodeElement(&row, &t); err != nil {
				return plexerrors.Wrap(err, plexerrors.ErrorTypeMetadataMalformed, "invalid XML").
					WithDetail("table", t.Name.Local)
			}
			b.addRow(t.Name.Local, row)

			rows++
			if rows%10000 == 0 {
				if err := ctx.Err(); err != nil {
					return plexerrors.Wrap(err, plexerrors.ErrorTypeCancelled, "metadata parse cancelled")
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return xml.StartElement{}, errors.New("empty document")
			}
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func (b *builder) violate(format string, args ...interface{}) {
	b.violations = append(b.violations, fmt.Sprintf(format, args...))
}

// rowReader reads typed fields from one row, recording a violation for
// each missing or invalid required field.
type rowReader struct {
	b      *builder
	table  string
	n      int
	fields map[string]string
	ok     bool
}

func (b *builder) reader(table string, row rawRow) *rowReader {
	b.rowCounts[table]++
	fields := make(map[string]string, len(row.Fields))
	for _, f := range row.Fields {
		fields[f.XMLName.Local] = strings.TrimSpace(f.Value)
	}
	return &rowReader{b: b, table: table, n: b.rowCounts[table], fields: fields, ok: true}
}

func (r *rowReader) fail(format string, args ...interface{}) {
	r.ok = false
	r.b.violate("%s row %d: %s", r.table, r.n, fmt.Sprintf(format, args...))
}

func (r *rowReader) int(name string) int64 {
	v, present := r.fields[name]
	if !present {
		r.fail("missing field %s", name)
		return 0
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail("field %s: invalid integer %q", name, v)
		return 0
	}
	return i
}

func (r *rowReader) optInt(name string) int64 {
	v, present := r.fields[name]
	if !present || v == "" {
		return 0
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail("field %s: invalid integer %q", name, v)
		return 0
	}
	return i
}

func (r *rowReader) str(name string) string {
	return r.fields[name]
}

func (r *rowReader) has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

func (r *rowReader) bool(name string) bool {
	v, present := r.fields[name]
	if !present || v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "true", "1", "-1":
		return true
	case "false", "0":
		return false
	}
	r.fail("field %s: invalid boolean %q", name, v)
	return false
}

func (r *rowReader) float(name string) float64 {
	v, present := r.fields[name]
	if !present || v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail("field %s: invalid number %q", name, v)
		return 0
	}
	return f
}

// Timestamps are day-first in interval tables and ISO 8601 elsewhere; both
// are accepted everywhere.
var timeLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (r *rowReader) time(name string) time.Time {
	v, present := r.fields[name]
	if !present {
		r.fail("missing field %s", name)
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC()
		}
	}
	r.fail("field %s: invalid timestamp %q", name, v)
	return time.Time{}
}

func (b *builder) dup(r *rowReader, field string, id int64) {
	b.violate("%s row %d: duplicate %s %d", r.table, r.n, field, id)
}

func periodTableName(t PeriodType) string {
	return fmt.Sprintf("t_period_%d", int(t))
}

func phaseTableName(p Phase) string {
	return fmt.Sprintf("t_phase_%d", int(p))
}

// periodFields maps each period table to its id and timestamp fields.
var periodFields = map[PeriodType][2]string{
	PeriodInterval: {"interval_id", "datetime"},
	PeriodDay:      {"day_id", "date"},
	PeriodWeek:     {"week_id", "week_ending"},
	PeriodMonth:    {"month_id", "month_beginning"},
	PeriodYear:     {"fiscal_year_id", "year_ending"},
	PeriodHour:     {"hour_id", "datetime"},
	PeriodQuarter:  {"quarter_id", "quarter_beginning"},
}

func (b *builder) addRow(table string, row rawRow) {
	m := b.m
	switch table {
	case "t_class":
		r := b.reader(table, row)
		c := Class{ID: r.int("class_id"), Name: r.str("name"), ClassGroupID: r.optInt("class_group_id"), LangID: r.optInt("lang_id")}
		if r.ok && !m.Classes.put(c.ID, c) {
			b.dup(r, "class_id", c.ID)
		}
	case "t_class_group":
		r := b.reader(table, row)
		g := ClassGroup{ID: r.int("class_group_id"), Name: r.str("name"), LangID: r.optInt("lang_id")}
		if r.ok && !m.ClassGroups.put(g.ID, g) {
			b.dup(r, "class_group_id", g.ID)
		}
	case "t_category":
		r := b.reader(table, row)
		c := Category{ID: r.int("category_id"), ClassID: r.int("class_id"), Rank: r.optInt("rank"), Name: r.str("name")}
		if r.ok && !m.Categories.put(c.ID, c) {
			b.dup(r, "category_id", c.ID)
		}
	case "t_object":
		r := b.reader(table, row)
		o := Object{
			ID:         r.int("object_id"),
			ClassID:    r.int("class_id"),
			CategoryID: r.int("category_id"),
			Name:       r.str("name"),
			Index:      r.optInt("index"),
			Show:       r.bool("show"),
		}
		if r.ok && !m.Objects.put(o.ID, o) {
			b.dup(r, "object_id", o.ID)
		}
	case "t_collection":
		r := b.reader(table, row)
		c := Collection{
			ID:             r.int("collection_id"),
			ParentClassID:  r.int("parent_class_id"),
			ChildClassID:   r.int("child_class_id"),
			Name:           r.str("name"),
			ComplementName: r.str("complement_name"),
			LangID:         r.optInt("lang_id"),
		}
		if r.ok && !m.Collections.put(c.ID, c) {
			b.dup(r, "collection_id", c.ID)
		}
	case "t_membership":
		r := b.reader(table, row)
		ms := Membership{
			ID:             r.int("membership_id"),
			CollectionID:   r.int("collection_id"),
			ParentClassID:  r.int("parent_class_id"),
			ChildClassID:   r.int("child_class_id"),
			ParentObjectID: r.int("parent_object_id"),
			ChildObjectID:  r.int("child_object_id"),
		}
		if r.ok && !m.Memberships.put(ms.ID, ms) {
			b.dup(r, "membership_id", ms.ID)
		}
	case "t_property":
		r := b.reader(table, row)
		p := Property{
			ID:            r.int("property_id"),
			Name:          r.str("name"),
			SummaryName:   r.str("summary_name"),
			EnumID:        r.optInt("enum_id"),
			UnitID:        r.optInt("unit_id"),
			SummaryUnitID: r.optInt("summary_unit_id"),
			IsMultiBand:   r.bool("is_multi_band"),
			IsPeriod:      r.bool("is_period"),
			IsSummary:     r.bool("is_summary"),
			CollectionID:  r.int("collection_id"),
			LangID:        r.optInt("lang_id"),
		}
		if r.ok && !m.Properties.put(p.ID, p) {
			b.dup(r, "property_id", p.ID)
		}
	case "t_unit":
		r := b.reader(table, row)
		u := Unit{ID: r.int("unit_id"), Name: r.str("value"), LangID: r.optInt("lang_id")}
		if r.ok && !m.Units.put(u.ID, u) {
			b.dup(r, "unit_id", u.ID)
		}
	case "t_band":
		r := b.reader(table, row)
		id := r.int("band_id")
		if r.ok && !m.Bands.put(id, Band{ID: id}) {
			b.dup(r, "band_id", id)
		}
	case "t_model":
		r := b.reader(table, row)
		mi := ModelInfo{ID: r.int("model_id"), Name: r.str("name")}
		if r.ok && !m.Models.put(mi.ID, mi) {
			b.dup(r, "model_id", mi.ID)
		}
	case "t_sample":
		r := b.reader(table, row)
		s := Sample{ID: r.int("sample_id"), Name: r.str("sample_name")}
		if r.ok && !m.Samples.put(s.ID, s) {
			b.dup(r, "sample_id", s.ID)
		}
	case "t_sample_weight":
		r := b.reader(table, row)
		w := SampleWeight{SampleID: r.int("sample_id"), PhaseID: r.optInt("phase_id"), Weight: r.float("value")}
		if r.ok {
			m.SampleWeights = append(m.SampleWeights, w)
		}
	case "t_timeslice":
		r := b.reader(table, row)
		ts := Timeslice{ID: r.int("timeslice_id"), Name: r.str("name")}
		if r.ok && !m.Timeslices.put(ts.ID, ts) {
			b.dup(r, "timeslice_id", ts.ID)
		}
	case "t_attribute":
		r := b.reader(table, row)
		a := Attribute{
			ID:          r.int("attribute_id"),
			ClassID:     r.int("class_id"),
			EnumID:      r.optInt("enum_id"),
			Name:        r.str("name"),
			Description: r.str("description"),
			LangID:      r.optInt("lang_id"),
		}
		if r.ok && !m.Attributes.put(a.ID, a) {
			b.dup(r, "attribute_id", a.ID)
		}
	case "t_attribute_data":
		r := b.reader(table, row)
		ad := AttributeData{AttributeID: r.int("attribute_id"), Value: r.str("value")}
		if r.has("object_id") {
			ad.ObjectID = r.int("object_id")
			ad.HasObject = true
		}
		if r.ok {
			m.AttributeData = append(m.AttributeData, ad)
		}
	case "t_memo_object":
		r := b.reader(table, row)
		mo := MemoObject{ObjectID: r.int("object_id"), ColumnID: r.int("column_id"), Value: r.str("value")}
		if r.ok {
			m.MemoObjects = append(m.MemoObjects, mo)
		}
	case "t_custom_column":
		r := b.reader(table, row)
		cc := CustomColumn{ID: r.int("column_id"), Name: r.str("name"), Position: r.optInt("position"), ClassID: r.int("class_id")}
		if r.ok && !m.CustomColumns.put(cc.ID, cc) {
			b.dup(r, "column_id", cc.ID)
		}
	case "t_config":
		r := b.reader(table, row)
		e := ConfigEntry{Element: r.str("element"), Value: r.str("value")}
		if e.Element == "" {
			r.fail("missing field element")
		}
		if r.ok {
			m.Config = append(m.Config, e)
		}
	case "t_key":
		r := b.reader(table, row)
		k := Key{
			ID:           r.int("key_id"),
			MembershipID: r.int("membership_id"),
			ModelID:      r.optInt("model_id"),
			PhaseID:      r.int("phase_id"),
			PropertyID:   r.int("property_id"),
			// period_type_id on a key is 1 for summary keys
			IsSummary:   r.optInt("period_type_id") == 1,
			BandID:      r.optInt("band_id"),
			SampleID:    r.optInt("sample_id"),
			TimesliceID: r.optInt("timeslice_id"),
		}
		if r.ok && !m.Keys.put(k.ID, k) {
			b.dup(r, "key_id", k.ID)
		}
	case "t_key_index":
		r := b.reader(table, row)
		ki := KeyIndex{
			KeyID:        r.int("key_id"),
			PeriodTypeID: r.int("period_type_id"),
			Position:     r.int("position"),
			Length:       r.int("length"),
			PeriodOffset: r.optInt("period_offset"),
		}
		// duplicate key ids are a directory fault, reported by the decoder
		if r.ok && !m.KeyIndexes.put(ki.KeyID, ki) {
			m.duplicateKeyIndexes = append(m.duplicateKeyIndexes, ki)
		}
	default:
		if typ, ok := periodTableType(table); ok {
			fields := periodFields[typ]
			r := b.reader(table, row)
			p := Period{ID: r.int(fields[0]), Time: r.time(fields[1])}
			if r.ok && !m.periodTable(typ).put(p.ID, p) {
				b.dup(r, fields[0], p.ID)
			}
			return
		}
		if phase, ok := phaseTablePhase(table); ok {
			r := b.reader(table, row)
			pi := PhaseInterval{IntervalID: r.int("interval_id"), PeriodID: r.int("period_id")}
			if r.ok {
				m.PhaseIntervals[phase] = append(m.PhaseIntervals[phase], pi)
			}
			return
		}
		if !b.unknown[table] {
			b.unknown[table] = true
			b.logger.Debug("ignoring unknown metadata table", zap.String("table", table))
		}
	}
}

func periodTableType(table string) (PeriodType, bool) {
	rest, ok := strings.CutPrefix(table, "t_period_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || !PeriodType(n).Valid() {
		return 0, false
	}
	return PeriodType(n), true
}

func phaseTablePhase(table string) (Phase, bool) {
	rest, ok := strings.CutPrefix(table, "t_phase_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || !Phase(n).Valid() {
		return 0, false
	}
	return Phase(n), true
}

// checkVersion accepts documents without a Version entry and those whose
// major version lies within the supported range.
func (b *builder) checkVersion() error {
	for _, e := range b.m.Config {
		if e.Element != "Version" {
			continue
		}
		b.m.Version = e.Value
		major, ok := majorVersion(e.Value)
		if !ok || major < MinMajorVersion || major > MaxMajorVersion {
			return plexerrors.Newf(plexerrors.ErrorTypeMetadataVersionUnsupported,
				"schema version %q is not supported (supported majors %d-%d)",
				e.Value, MinMajorVersion, MaxMajorVersion).WithDetail("version", e.Value)
		}
	}
	return nil
}

func majorVersion(v string) (int, bool) {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// finish orders tables, merges sample weights into samples and derives
// membership counts, collection indexes and property bands.
func (b *builder) finish() {
	m := b.m
	m.ClassGroups.sortIDs()
	m.Classes.sortIDs()
	m.Categories.sortIDs()
	m.Objects.sortIDs()
	m.Collections.sortIDs()
	m.Memberships.sortIDs()
	m.Properties.sortIDs()
	m.Units.sortIDs()
	m.Bands.sortIDs()
	m.Models.sortIDs()
	m.Samples.sortIDs()
	m.Timeslices.sortIDs()
	m.Attributes.sortIDs()
	m.CustomColumns.sortIDs()
	m.Keys.sortIDs()
	m.KeyIndexes.sortIDs()
	for _, tbl := range m.periods {
		tbl.sortIDs()
	}

	for _, w := range m.SampleWeights {
		s, ok := m.Samples.Get(w.SampleID)
		if !ok {
			continue
		}
		s.PhaseID = w.PhaseID
		s.Weight = w.Weight
		m.Samples.rows[w.SampleID] = s
	}

	members := make(map[int64]int64)
	for _, id := range m.Memberships.ids {
		ms := m.Memberships.rows[id]
		ms.CollectionIndex = members[ms.CollectionID]
		members[ms.CollectionID]++
		m.Memberships.rows[id] = ms
	}
	for id, c := range m.Collections.rows {
		c.NMembers = members[id]
		m.Collections.rows[id] = c
	}
	for _, k := range m.Keys.rows {
		p, ok := m.Properties.rows[k.PropertyID]
		if ok && k.BandID > p.BandID {
			p.BandID = k.BandID
			m.Properties.rows[k.PropertyID] = p
		}
	}
}
