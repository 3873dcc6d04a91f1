// Package decoder plans and decodes the binary series of a solution.
//
// PlanDirectory checks every key index row against the metadata model and
// the archive catalog before any byte is decoded. A Reader then walks one
// BIN entry in position order and yields the values as chunks of a single
// series, skipping the gaps between series without buffering them.
package decoder

import (
	"math"
	"sort"

	"github.com/ajitpratap0/plexload/pkg/archive"
	"github.com/ajitpratap0/plexload/pkg/metadata"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// ValueSize is the width of one encoded value.
const ValueSize = 8

// Series is one planned series: where its values live and what they mean.
type Series struct {
	Key SeriesKey
	// Offset is the byte position of the first value in the entry.
	Offset int64
	Length int64
	// FirstBlock is the block id of the first value.
	FirstBlock int64
}

// End is the byte position just past the series.
func (s Series) End() int64 {
	return s.Offset + ValueSize*s.Length
}

// Segment is the set of series stored in one BIN entry, in position order.
type Segment struct {
	Entry      string
	PeriodType metadata.PeriodType
	Size       int64
	Series     []Series
}

// Points returns the number of values declared in the segment.
func (s Segment) Points() int64 {
	var n int64
	for _, sr := range s.Series {
		n += sr.Length
	}
	return n
}

// Directory is the validated series directory of a solution.
type Directory struct {
	Segments []Segment
	keys     map[int64]SeriesKey
}

// TotalPoints is the sum of all declared series lengths.
func (d *Directory) TotalPoints() int64 {
	var n int64
	for _, seg := range d.Segments {
		n += seg.Points()
	}
	return n
}

// Keys returns the resolved keys of every planned series in key id order.
func (d *Directory) Keys() []SeriesKey {
	out := make([]SeriesKey, 0, len(d.keys))
	for _, k := range d.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

// Key returns the resolved key of keyID.
func (d *Directory) Key(keyID int64) (SeriesKey, bool) {
	k, ok := d.keys[keyID]
	return k, ok
}

// ResolveKey resolves a key through its membership, child object and
// property. periodType comes from the key index row.
func ResolveKey(m *metadata.Model, keyID, periodType int64) (SeriesKey, error) {
	unresolved := func(format string, args ...interface{}) error {
		return plexerrors.Newf(plexerrors.ErrorTypeUnresolvedSeriesKey, format, args...).
			WithDetail("key_id", keyID)
	}

	key, ok := m.Keys.Get(keyID)
	if !ok {
		return SeriesKey{}, unresolved("key %d is not declared", keyID)
	}
	ms, ok := m.Memberships.Get(key.MembershipID)
	if !ok {
		return SeriesKey{}, unresolved("key %d: unknown membership %d", keyID, key.MembershipID)
	}
	obj, ok := m.Objects.Get(ms.ChildObjectID)
	if !ok {
		return SeriesKey{}, unresolved("key %d: unknown object %d", keyID, ms.ChildObjectID)
	}
	coll, ok := m.Collections.Get(ms.CollectionID)
	if !ok {
		return SeriesKey{}, unresolved("key %d: unknown collection %d", keyID, ms.CollectionID)
	}
	prop, ok := m.Properties.Get(key.PropertyID)
	if !ok {
		return SeriesKey{}, unresolved("key %d: unknown property %d", keyID, key.PropertyID)
	}
	phase := metadata.Phase(key.PhaseID)
	if !phase.Valid() {
		return SeriesKey{}, unresolved("key %d: unknown phase %d", keyID, key.PhaseID)
	}
	typ := metadata.PeriodType(periodType)
	if !typ.Valid() {
		return SeriesKey{}, unresolved("key %d: unknown period type %d", keyID, periodType)
	}

	return SeriesKey{
		KeyID:        key.ID,
		MembershipID: ms.ID,
		ObjectID:     obj.ID,
		ClassID:      obj.ClassID,
		PropertyID:   prop.ID,
		CollectionID: coll.ID,
		UnitID:       prop.ReportUnitID(),
		ModelID:      key.ModelID,
		Phase:        phase,
		PeriodType:   typ,
		SampleID:     key.SampleID,
		BandID:       key.BandID,
		TimesliceID:  key.TimesliceID,
		IsSummary:    key.IsSummary,
		Table:        FactTableName(phase, typ, coll.Name, prop.TableName(key.IsSummary)),
	}, nil
}

// PlanDirectory validates the key index of m against the archive catalog
// and groups the series per BIN entry. Rows are checked in key id order and
// the first fault is returned.
func PlanDirectory(m *metadata.Model, entries []archive.Entry) (*Directory, error) {
	return planDirectory(m, entries, false)
}

// PlanMetadata resolves and validates the keys of m for a metadata-only
// input. The directory has no segments, so no points are decoded and fact
// tables stay empty.
func PlanMetadata(m *metadata.Model) (*Directory, error) {
	return planDirectory(m, nil, true)
}

// PlanArchive plans the series of an open archive, using PlanMetadata for a
// metadata-only input.
func PlanArchive(m *metadata.Model, a *archive.Archive) (*Directory, error) {
	if a.MetadataOnly() {
		return PlanMetadata(m)
	}
	return PlanDirectory(m, a.Entries())
}

func planDirectory(m *metadata.Model, entries []archive.Entry, metadataOnly bool) (*Directory, error) {
	if dups := m.DuplicateKeyIndexes(); len(dups) > 0 {
		return nil, plexerrors.Newf(plexerrors.ErrorTypeDirectoryCorrupt,
			"key %d is indexed more than once", dups[0].KeyID).WithDetail("key_id", dups[0].KeyID)
	}

	sizes := make(map[string]int64, len(entries))
	for _, e := range entries {
		sizes[e.Name] = e.UncompressedSize
	}

	d := &Directory{keys: make(map[int64]SeriesKey, m.KeyIndexes.Len())}
	segments := make(map[metadata.PeriodType]*Segment)

	for _, ki := range m.KeyIndexes.Rows() {
		key, err := ResolveKey(m, ki.KeyID, ki.PeriodTypeID)
		if err != nil {
			return nil, err
		}

		corrupt := func(format string, args ...interface{}) error {
			return plexerrors.Newf(plexerrors.ErrorTypeDirectoryCorrupt, format, args...).
				WithDetail("key_id", ki.KeyID)
		}
		switch {
		case ki.Position < 0:
			return nil, corrupt("key %d: negative position %d", ki.KeyID, ki.Position)
		case ki.Position%ValueSize != 0:
			return nil, corrupt("key %d: position %d is not aligned to %d bytes", ki.KeyID, ki.Position, ValueSize)
		case ki.Length < 0:
			return nil, corrupt("key %d: negative length %d", ki.KeyID, ki.Length)
		case ki.PeriodOffset < 0:
			return nil, corrupt("key %d: negative period offset %d", ki.KeyID, ki.PeriodOffset)
		case ki.Length > math.MaxInt64/ValueSize:
			return nil, corrupt("key %d: length %d exceeds any addressable entry", ki.KeyID, ki.Length)
		case ki.PeriodOffset > math.MaxInt64-ki.Length-1:
			return nil, corrupt("key %d: period offset %d plus length %d overflows the block ids",
				ki.KeyID, ki.PeriodOffset, ki.Length)
		}

		// Length and PeriodOffset are bounded above, so End and the last
		// block id cannot overflow.
		sr := Series{Key: key, Offset: ki.Position, Length: ki.Length, FirstBlock: ki.PeriodOffset + 1}
		if space, ok := m.PeriodSpace(key.Phase, key.PeriodType); ok && sr.Length > 0 {
			last := sr.FirstBlock + sr.Length - 1
			if !space.ContainsRange(sr.FirstBlock, last) {
				return nil, corrupt("key %d: blocks %d-%d are outside the %s %s period space",
					ki.KeyID, sr.FirstBlock, last, key.Phase, key.PeriodType)
			}
		}
		d.keys[key.KeyID] = key
		if sr.Length == 0 || metadataOnly {
			continue
		}

		name := archive.DataEntryName(int(key.PeriodType))
		size, ok := sizes[name]
		if !ok {
			return nil, plexerrors.Newf(plexerrors.ErrorTypeEntryNotFound,
				"key %d: entry %s is missing", ki.KeyID, name).
				WithDetail("entry", name).WithDetail("key_id", ki.KeyID)
		}
		if sr.Offset > size || sr.Length > (size-sr.Offset)/ValueSize {
			return nil, plexerrors.Newf(plexerrors.ErrorTypePayloadTruncated,
				"key %d: %d values at byte %d run past the %d bytes of %s", ki.KeyID, sr.Length, sr.Offset, size, name).
				WithDetail("entry", name).WithDetail("offset", size).WithDetail("key_id", ki.KeyID)
		}

		seg, ok := segments[key.PeriodType]
		if !ok {
			seg = &Segment{Entry: name, PeriodType: key.PeriodType, Size: size}
			segments[key.PeriodType] = seg
		}
		seg.Series = append(seg.Series, sr)
	}

	for _, typ := range metadata.PeriodTypes {
		seg, ok := segments[typ]
		if !ok {
			continue
		}
		sort.Slice(seg.Series, func(i, j int) bool { return seg.Series[i].Offset < seg.Series[j].Offset })
		for i := 1; i < len(seg.Series); i++ {
			prev, cur := seg.Series[i-1], seg.Series[i]
			if cur.Offset < prev.End() {
				return nil, plexerrors.Newf(plexerrors.ErrorTypeDirectoryCorrupt,
					"keys %d and %d overlap in %s", prev.Key.KeyID, cur.Key.KeyID, seg.Entry).
					WithDetail("entry", seg.Entry).WithDetail("key_id", cur.Key.KeyID)
			}
		}
		d.Segments = append(d.Segments, *seg)
	}
	return d, nil
}
