package schema

import (
	"github.com/ajitpratap0/plexload/pkg/decoder"
	"github.com/ajitpratap0/plexload/pkg/metadata"
)

// TableRows is the content of one table.
type TableRows struct {
	Table *Table
	Rows  [][]interface{}
}

type dimension struct {
	table Table
	rows  func(m *metadata.Model, d *decoder.Directory) [][]interface{}
}

func col(name string, typ ColumnType) Column {
	return Column{Name: name, Type: typ}
}

func nullable(name string, typ ColumnType) Column {
	return Column{Name: name, Type: typ, Nullable: true}
}

func fk(column, table, refColumn string) ForeignKey {
	return ForeignKey{Column: column, RefTable: Qualify(NamespaceRaw, table), RefColumn: refColumn}
}

func dim(name string, pk []string, fks []ForeignKey, cols ...Column) Table {
	return Table{Namespace: NamespaceRaw, Name: name, Kind: KindDimension, Columns: cols, PrimaryKey: pk, ForeignKeys: fks}
}

// dimensions are listed so that referenced tables come first.
var dimensions = []dimension{
	{
		table: dim("class_groups", []string{"class_group_id"}, nil,
			col("class_group_id", TypeInt64), col("name", TypeText), col("lang_id", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.ClassGroups.Rows(), func(g metadata.ClassGroup) []interface{} {
				return []interface{}{g.ID, g.Name, g.LangID}
			})
		},
	},
	{
		table: dim("classes", []string{"class_id"}, nil,
			col("class_id", TypeInt64), col("name", TypeText), col("class_group_id", TypeInt64),
			col("lang_id", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Classes.Rows(), func(c metadata.Class) []interface{} {
				return []interface{}{c.ID, c.Name, c.ClassGroupID, c.LangID}
			})
		},
	},
	{
		table: dim("categories", []string{"category_id"},
			[]ForeignKey{fk("class_id", "classes", "class_id")},
			col("category_id", TypeInt64), col("class_id", TypeInt64), col("rank", TypeInt64),
			col("name", TypeText)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Categories.Rows(), func(c metadata.Category) []interface{} {
				return []interface{}{c.ID, c.ClassID, c.Rank, c.Name}
			})
		},
	},
	{
		table: dim("objects", []string{"object_id"},
			[]ForeignKey{fk("class_id", "classes", "class_id"), fk("category_id", "categories", "category_id")},
			col("object_id", TypeInt64), col("class_id", TypeInt64), col("category_id", TypeInt64),
			col("name", TypeText), col("object_index", TypeInt64), col("show", TypeBool)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Objects.Rows(), func(o metadata.Object) []interface{} {
				return []interface{}{o.ID, o.ClassID, o.CategoryID, o.Name, o.Index, o.Show}
			})
		},
	},
	{
		table: dim("collections", []string{"collection_id"},
			[]ForeignKey{fk("parent_class_id", "classes", "class_id"), fk("child_class_id", "classes", "class_id")},
			col("collection_id", TypeInt64), col("parent_class_id", TypeInt64), col("child_class_id", TypeInt64),
			col("name", TypeText), col("complement_name", TypeText), col("lang_id", TypeInt64),
			col("n_members", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Collections.Rows(), func(c metadata.Collection) []interface{} {
				return []interface{}{c.ID, c.ParentClassID, c.ChildClassID, c.Name, c.ComplementName, c.LangID, c.NMembers}
			})
		},
	},
	{
		table: dim("memberships", []string{"membership_id"},
			[]ForeignKey{
				fk("collection_id", "collections", "collection_id"),
				fk("parent_object_id", "objects", "object_id"),
				fk("child_object_id", "objects", "object_id"),
			},
			col("membership_id", TypeInt64), col("collection_id", TypeInt64), col("collection_name", TypeText),
			col("parent_class_id", TypeInt64), col("parent_class_name", TypeText),
			col("child_class_id", TypeInt64), col("child_class_name", TypeText),
			col("parent_object_id", TypeInt64), col("parent_object_name", TypeText),
			col("child_object_id", TypeInt64), col("child_object_name", TypeText),
			col("kind", TypeText), col("collection_idx", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Memberships.Rows(), func(ms metadata.Membership) []interface{} {
				coll, _ := m.Collections.Get(ms.CollectionID)
				pc, _ := m.Classes.Get(ms.ParentClassID)
				cc, _ := m.Classes.Get(ms.ChildClassID)
				po, _ := m.Objects.Get(ms.ParentObjectID)
				co, _ := m.Objects.Get(ms.ChildObjectID)
				return []interface{}{
					ms.ID, ms.CollectionID, coll.Name,
					ms.ParentClassID, pc.Name,
					ms.ChildClassID, cc.Name,
					ms.ParentObjectID, po.Name,
					ms.ChildObjectID, co.Name,
					m.MembershipKind(ms), ms.CollectionIndex,
				}
			})
		},
	},
	{
		table: dim("units", []string{"unit_id"}, nil,
			col("unit_id", TypeInt64), col("name", TypeText), col("lang_id", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Units.Rows(), func(u metadata.Unit) []interface{} {
				return []interface{}{u.ID, u.Name, u.LangID}
			})
		},
	},
	{
		table: dim("properties", []string{"property_id"},
			[]ForeignKey{fk("collection_id", "collections", "collection_id")},
			col("property_id", TypeInt64), col("collection_id", TypeInt64), col("name", TypeText),
			col("summary_name", TypeText), col("enum_id", TypeInt64), col("unit_id", TypeInt64),
			col("summary_unit_id", TypeInt64), col("is_multi_band", TypeBool), col("is_period", TypeBool),
			col("is_summary", TypeBool), col("lang_id", TypeInt64), col("band_id", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Properties.Rows(), func(p metadata.Property) []interface{} {
				return []interface{}{
					p.ID, p.CollectionID, p.Name, p.SummaryName, p.EnumID, p.UnitID,
					p.SummaryUnitID, p.IsMultiBand, p.IsPeriod, p.IsSummary, p.LangID, p.BandID,
				}
			})
		},
	},
	{
		table: dim("bands", []string{"band_id"}, nil, col("band_id", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Bands.Rows(), func(b metadata.Band) []interface{} {
				return []interface{}{b.ID}
			})
		},
	},
	{
		table: dim("models", []string{"model_id"}, nil, col("model_id", TypeInt64), col("name", TypeText)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Models.Rows(), func(mi metadata.ModelInfo) []interface{} {
				return []interface{}{mi.ID, mi.Name}
			})
		},
	},
	{
		table: dim("samples", []string{"sample_id"}, nil,
			col("sample_id", TypeInt64), col("name", TypeText), col("phase_id", TypeInt64),
			col("weight", TypeFloat64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Samples.Rows(), func(s metadata.Sample) []interface{} {
				return []interface{}{s.ID, s.Name, s.PhaseID, s.Weight}
			})
		},
	},
	{
		table: dim("timeslices", []string{"timeslice_id"}, nil,
			col("timeslice_id", TypeInt64), col("name", TypeText)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Timeslices.Rows(), func(ts metadata.Timeslice) []interface{} {
				return []interface{}{ts.ID, ts.Name}
			})
		},
	},
	{
		table: dim("periods", []string{"phase_id", "period_type_id", "block_id"}, nil,
			col("phase_id", TypeInt64), col("period_type_id", TypeInt64), col("block_id", TypeInt64),
			col("datetime", TypeTimestamp), col("interval_length", TypeInt64)),
		rows: periodRows,
	},
	{
		table: dim("attributes", []string{"attribute_id"},
			[]ForeignKey{fk("class_id", "classes", "class_id")},
			col("attribute_id", TypeInt64), col("class_id", TypeInt64), col("enum_id", TypeInt64),
			col("name", TypeText), col("description", TypeText), col("lang_id", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.Attributes.Rows(), func(a metadata.Attribute) []interface{} {
				return []interface{}{a.ID, a.ClassID, a.EnumID, a.Name, a.Description, a.LangID}
			})
		},
	},
	{
		table: dim("attribute_data", []string{"row_id"},
			[]ForeignKey{fk("attribute_id", "attributes", "attribute_id"), fk("object_id", "objects", "object_id")},
			col("row_id", TypeInt64), col("attribute_id", TypeInt64), nullable("object_id", TypeInt64),
			col("value", TypeText)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			out := make([][]interface{}, 0, len(m.AttributeData))
			for i, ad := range m.AttributeData {
				var object interface{}
				if ad.HasObject {
					object = ad.ObjectID
				}
				out = append(out, []interface{}{int64(i + 1), ad.AttributeID, object, ad.Value})
			}
			return out
		},
	},
	{
		table: dim("custom_columns", []string{"column_id"},
			[]ForeignKey{fk("class_id", "classes", "class_id")},
			col("column_id", TypeInt64), col("class_id", TypeInt64), col("name", TypeText),
			col("position", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.CustomColumns.Rows(), func(cc metadata.CustomColumn) []interface{} {
				return []interface{}{cc.ID, cc.ClassID, cc.Name, cc.Position}
			})
		},
	},
	{
		table: dim("memo_objects", []string{"row_id"},
			[]ForeignKey{fk("object_id", "objects", "object_id"), fk("column_id", "custom_columns", "column_id")},
			col("row_id", TypeInt64), col("object_id", TypeInt64), col("column_id", TypeInt64),
			col("value", TypeText)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			out := make([][]interface{}, 0, len(m.MemoObjects))
			for i, mo := range m.MemoObjects {
				out = append(out, []interface{}{int64(i + 1), mo.ObjectID, mo.ColumnID, mo.Value})
			}
			return out
		},
	},
	{
		table: dim("config", []string{"row_id"}, nil,
			col("row_id", TypeInt64), col("element", TypeText), col("value", TypeText)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			out := make([][]interface{}, 0, len(m.Config))
			for i, e := range m.Config {
				out = append(out, []interface{}{int64(i + 1), e.Element, e.Value})
			}
			return out
		},
	},
	{
		table: dim("keys", []string{"key_id"},
			[]ForeignKey{
				fk("membership_id", "memberships", "membership_id"),
				fk("property_id", "properties", "property_id"),
			},
			col("key_id", TypeInt64), col("membership_id", TypeInt64), col("object_id", TypeInt64),
			col("property_id", TypeInt64), col("model_id", TypeInt64), col("phase_id", TypeInt64),
			col("period_type_id", TypeInt64), col("band_id", TypeInt64), col("sample_id", TypeInt64),
			col("timeslice_id", TypeInt64), col("is_summary", TypeBool), col("unit_id", TypeInt64),
			col("table_name", TypeText)),
		rows: func(_ *metadata.Model, d *decoder.Directory) [][]interface{} {
			return rowsOf(d.Keys(), func(k decoder.SeriesKey) []interface{} {
				return []interface{}{
					k.KeyID, k.MembershipID, k.ObjectID, k.PropertyID, k.ModelID, int64(k.Phase),
					int64(k.PeriodType), k.BandID, k.SampleID, k.TimesliceID, k.IsSummary, k.UnitID, k.Table,
				}
			})
		},
	},
	{
		table: dim("key_indexes", []string{"key_id"},
			[]ForeignKey{fk("key_id", "keys", "key_id")},
			col("key_id", TypeInt64), col("period_type_id", TypeInt64), col("position", TypeInt64),
			col("length", TypeInt64), col("period_offset", TypeInt64)),
		rows: func(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
			return rowsOf(m.KeyIndexes.Rows(), func(ki metadata.KeyIndex) []interface{} {
				return []interface{}{ki.KeyID, ki.PeriodTypeID, ki.Position, ki.Length, ki.PeriodOffset}
			})
		},
	},
}

func rowsOf[T any](items []T, fn func(T) []interface{}) [][]interface{} {
	out := make([][]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}

// periodRows emits interval blocks per phase and the phase independent
// blocks of the other period types under phase 0.
func periodRows(m *metadata.Model, _ *decoder.Directory) [][]interface{} {
	var out [][]interface{}
	emit := func(phase int64, space *metadata.PeriodSpace) {
		for _, b := range space.Blocks {
			out = append(out, []interface{}{phase, int64(space.PeriodType), b.ID, b.Time, b.IntervalLength})
		}
	}
	for _, phase := range metadata.Phases {
		if space, ok := m.PeriodSpace(phase, metadata.PeriodInterval); ok {
			emit(int64(phase), space)
		}
	}
	for _, typ := range metadata.PeriodTypes {
		if typ == metadata.PeriodInterval {
			continue
		}
		if space, ok := m.PeriodSpace(0, typ); ok {
			emit(0, space)
		}
	}
	return out
}

// timestampBlock is the raw timestamp table of one phase and period type:
// one row per interval mapped to an interval block, one row per declared
// period otherwise.
type timestampBlock struct {
	phase metadata.Phase
	typ   metadata.PeriodType
	table *Table
}

func timestampBlockName(phase metadata.Phase, typ metadata.PeriodType) string {
	return "timestamp_block_" + phase.String() + "__" + typ.String()
}

// timestampBlocks lists the timestamp tables of every phase that maps
// intervals to periods.
func timestampBlocks(m *metadata.Model) []timestampBlock {
	var out []timestampBlock
	for _, phase := range metadata.Phases {
		if len(m.PhaseIntervals[phase]) == 0 {
			continue
		}
		for _, typ := range metadata.PeriodTypes {
			if _, ok := m.PeriodSpace(phase, typ); !ok {
				continue
			}
			t := dim(timestampBlockName(phase, typ), nil, nil,
				col("block_id", TypeInt64), col("datetime", TypeTimestamp))
			t.Phase, t.PeriodType = phase, typ
			out = append(out, timestampBlock{phase: phase, typ: typ, table: &t})
		}
	}
	return out
}

func (tb timestampBlock) rows(m *metadata.Model) [][]interface{} {
	var out [][]interface{}
	if tb.typ != metadata.PeriodInterval {
		space, _ := m.PeriodSpace(tb.phase, tb.typ)
		for _, b := range space.Blocks {
			out = append(out, []interface{}{b.ID, b.Time})
		}
		return out
	}
	intervals := make(map[int64]metadata.Period)
	for _, p := range m.Periods(metadata.PeriodInterval) {
		intervals[p.ID] = p
	}
	for _, pi := range m.PhaseIntervals[tb.phase] {
		if iv, ok := intervals[pi.IntervalID]; ok {
			out = append(out, []interface{}{pi.PeriodID, iv.Time})
		}
	}
	return out
}

// DimensionRows returns the rows of every dimension table in creation
// order.
func (s *Schema) DimensionRows(m *metadata.Model, d *decoder.Directory) []TableRows {
	out := make([]TableRows, 0, len(dimensions)+len(s.blocks))
	for _, dim := range dimensions {
		t, ok := s.Table(Qualify(dim.table.Namespace, dim.table.Name))
		if !ok {
			continue
		}
		out = append(out, TableRows{Table: t, Rows: dim.rows(m, d)})
	}
	for _, tb := range s.blocks {
		out = append(out, TableRows{Table: tb.table, Rows: tb.rows(m)})
	}
	return out
}
