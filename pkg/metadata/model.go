package metadata

import (
	"sort"
	"time"
)

// Table is an id-keyed set of rows iterated in ascending id order.
type Table[T any] struct {
	ids  []int64
	rows map[int64]T
}

func newTable[T any]() Table[T] {
	return Table[T]{rows: make(map[int64]T)}
}

// put inserts a row and reports false when id is already present.
func (t *Table[T]) put(id int64, row T) bool {
	if _, dup := t.rows[id]; dup {
		return false
	}
	t.rows[id] = row
	t.ids = append(t.ids, id)
	return true
}

func (t *Table[T]) sortIDs() {
	sort.Slice(t.ids, func(i, j int) bool { return t.ids[i] < t.ids[j] })
}

// Get returns the row with id.
func (t Table[T]) Get(id int64) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

// Has reports whether id is present.
func (t Table[T]) Has(id int64) bool {
	_, ok := t.rows[id]
	return ok
}

// Len returns the number of rows.
func (t Table[T]) Len() int {
	return len(t.ids)
}

// IDs returns the ids in ascending order.
func (t Table[T]) IDs() []int64 {
	out := make([]int64, len(t.ids))
	copy(out, t.ids)
	return out
}

// Rows returns the rows in ascending id order.
func (t Table[T]) Rows() []T {
	out := make([]T, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.rows[id])
	}
	return out
}

// Model is the validated metadata graph of a solution. It is immutable
// after Build and safe for concurrent readers. References between entities
// are ids resolved through the tables.
type Model struct {
	Version string

	ClassGroups   Table[ClassGroup]
	Classes       Table[Class]
	Categories    Table[Category]
	Objects       Table[Object]
	Collections   Table[Collection]
	Memberships   Table[Membership]
	Properties    Table[Property]
	Units         Table[Unit]
	Bands         Table[Band]
	Models        Table[ModelInfo]
	Samples       Table[Sample]
	Timeslices    Table[Timeslice]
	Attributes    Table[Attribute]
	CustomColumns Table[CustomColumn]
	Keys          Table[Key]
	KeyIndexes    Table[KeyIndex]

	SampleWeights  []SampleWeight
	AttributeData  []AttributeData
	MemoObjects    []MemoObject
	Config         []ConfigEntry
	PhaseIntervals map[Phase][]PhaseInterval

	periods map[PeriodType]*Table[Period]
	spaces  map[spaceKey]*PeriodSpace

	duplicateKeyIndexes []KeyIndex
}

func newModel() *Model {
	return &Model{
		ClassGroups:    newTable[ClassGroup](),
		Classes:        newTable[Class](),
		Categories:     newTable[Category](),
		Objects:        newTable[Object](),
		Collections:    newTable[Collection](),
		Memberships:    newTable[Membership](),
		Properties:     newTable[Property](),
		Units:          newTable[Unit](),
		Bands:          newTable[Band](),
		Models:         newTable[ModelInfo](),
		Samples:        newTable[Sample](),
		Timeslices:     newTable[Timeslice](),
		Attributes:     newTable[Attribute](),
		CustomColumns:  newTable[CustomColumn](),
		Keys:           newTable[Key](),
		KeyIndexes:     newTable[KeyIndex](),
		PhaseIntervals: make(map[Phase][]PhaseInterval),
		periods:        make(map[PeriodType]*Table[Period]),
		spaces:         make(map[spaceKey]*PeriodSpace),
	}
}

func (m *Model) periodTable(t PeriodType) *Table[Period] {
	tbl, ok := m.periods[t]
	if !ok {
		p := newTable[Period]()
		tbl = &p
		m.periods[t] = tbl
	}
	return tbl
}

// DuplicateKeyIndexes returns key index rows whose key id was already
// indexed. Only the first row per key is kept in KeyIndexes.
func (m *Model) DuplicateKeyIndexes() []KeyIndex {
	return m.duplicateKeyIndexes
}

// Periods returns the declared periods of a type in id order.
func (m *Model) Periods(t PeriodType) []Period {
	tbl, ok := m.periods[t]
	if !ok {
		return nil
	}
	return tbl.Rows()
}

// MembershipKind is KindObject when the membership's collection hangs off
// the System class, else KindRelation.
func (m *Model) MembershipKind(ms Membership) string {
	coll, ok := m.Collections.Get(ms.CollectionID)
	if !ok {
		return KindRelation
	}
	parent, ok := m.Classes.Get(coll.ParentClassID)
	if ok && parent.Name == "System" {
		return KindObject
	}
	return KindRelation
}

// Block is one entry of a period space: the block id values are reported
// against, its start timestamp and the number of intervals it spans.
type Block struct {
	ID             int64
	Time           time.Time
	IntervalLength int64
}

// PeriodSpace is the ordered set of blocks a (phase, period type) pair
// declares.
type PeriodSpace struct {
	Phase      Phase
	PeriodType PeriodType
	Blocks     []Block

	index      map[int64]int
	contiguous bool
}

type spaceKey struct {
	phase Phase
	typ   PeriodType
}

func newPeriodSpace(phase Phase, typ PeriodType, blocks []Block) *PeriodSpace {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
	s := &PeriodSpace{
		Phase:      phase,
		PeriodType: typ,
		Blocks:     blocks,
		index:      make(map[int64]int, len(blocks)),
		contiguous: true,
	}
	for i, b := range blocks {
		s.index[b.ID] = i
		if i > 0 && b.ID != blocks[i-1].ID+1 {
			s.contiguous = false
		}
	}
	return s
}

// Block returns the block with id.
func (s *PeriodSpace) Block(id int64) (Block, bool) {
	i, ok := s.index[id]
	if !ok {
		return Block{}, false
	}
	return s.Blocks[i], true
}

// ContainsRange reports whether every block id in [lo, hi] is declared.
// An inverted range is never contained.
func (s *PeriodSpace) ContainsRange(lo, hi int64) bool {
	if lo > hi || len(s.Blocks) == 0 {
		return false
	}
	if s.contiguous {
		return lo >= s.Blocks[0].ID && hi <= s.Blocks[len(s.Blocks)-1].ID
	}
	for id := lo; id <= hi; id++ {
		if _, ok := s.index[id]; !ok {
			return false
		}
	}
	return true
}

// PeriodSpace returns the declared blocks of a phase and period type, or
// false when the document declares none.
//
// Interval blocks are the phase's period ids: each starts at the earliest
// mapped interval and spans the number of mapped intervals. Without phase
// rows the interval ids are used directly. Other period types are phase
// independent with one block per declared period.
func (m *Model) PeriodSpace(phase Phase, typ PeriodType) (*PeriodSpace, bool) {
	key := spaceKey{phase: phase, typ: typ}
	if typ != PeriodInterval {
		key.phase = 0
	}
	s, ok := m.spaces[key]
	return s, ok
}

// buildSpaces precomputes every period space so lookups need no locking.
func (m *Model) buildSpaces() {
	intervals := m.periods[PeriodInterval]
	if intervals != nil && intervals.Len() > 0 {
		for _, phase := range Phases {
			mapping := m.PhaseIntervals[phase]
			var blocks []Block
			if len(mapping) == 0 {
				for _, p := range intervals.Rows() {
					blocks = append(blocks, Block{ID: p.ID, Time: p.Time, IntervalLength: 1})
				}
			} else {
				byPeriod := make(map[int64]*Block)
				for _, pi := range mapping {
					iv, ok := intervals.Get(pi.IntervalID)
					if !ok {
						continue
					}
					b, ok := byPeriod[pi.PeriodID]
					if !ok {
						byPeriod[pi.PeriodID] = &Block{ID: pi.PeriodID, Time: iv.Time, IntervalLength: 1}
						continue
					}
					b.IntervalLength++
					if iv.Time.Before(b.Time) {
						b.Time = iv.Time
					}
				}
				blocks = make([]Block, 0, len(byPeriod))
				for _, b := range byPeriod {
					blocks = append(blocks, *b)
				}
			}
			m.spaces[spaceKey{phase: phase, typ: PeriodInterval}] = newPeriodSpace(phase, PeriodInterval, blocks)
		}
	}

	for _, typ := range PeriodTypes {
		if typ == PeriodInterval {
			continue
		}
		tbl := m.periods[typ]
		if tbl == nil || tbl.Len() == 0 {
			continue
		}
		blocks := make([]Block, 0, tbl.Len())
		for _, p := range tbl.Rows() {
			blocks = append(blocks, Block{ID: p.ID, Time: p.Time, IntervalLength: 1})
		}
		m.spaces[spaceKey{typ: typ}] = newPeriodSpace(0, typ, blocks)
	}
}

// TableCount is the row count of one metadata table.
type TableCount struct {
	Table string
	Rows  int
}

// Summary returns row counts per metadata table in a fixed order.
func (m *Model) Summary() []TableCount {
	out := []TableCount{
		{"t_class_group", m.ClassGroups.Len()},
		{"t_class", m.Classes.Len()},
		{"t_category", m.Categories.Len()},
		{"t_object", m.Objects.Len()},
		{"t_collection", m.Collections.Len()},
		{"t_membership", m.Memberships.Len()},
		{"t_property", m.Properties.Len()},
		{"t_unit", m.Units.Len()},
		{"t_band", m.Bands.Len()},
		{"t_model", m.Models.Len()},
		{"t_sample", m.Samples.Len()},
		{"t_sample_weight", len(m.SampleWeights)},
		{"t_timeslice", m.Timeslices.Len()},
		{"t_attribute", m.Attributes.Len()},
		{"t_attribute_data", len(m.AttributeData)},
		{"t_custom_column", m.CustomColumns.Len()},
		{"t_memo_object", len(m.MemoObjects)},
		{"t_config", len(m.Config)},
		{"t_key", m.Keys.Len()},
		{"t_key_index", m.KeyIndexes.Len()},
	}
	for _, typ := range PeriodTypes {
		out = append(out, TableCount{periodTableName(typ), len(m.Periods(typ))})
	}
	for _, phase := range Phases {
		out = append(out, TableCount{phaseTableName(phase), len(m.PhaseIntervals[phase])})
	}
	return out
}
