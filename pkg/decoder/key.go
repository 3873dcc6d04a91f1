package decoder

import (
	"strings"

	"github.com/ajitpratap0/plexload/pkg/metadata"
)

// SeriesKey is a fully resolved series identity.
type SeriesKey struct {
	KeyID        int64
	MembershipID int64
	ObjectID     int64
	ClassID      int64
	PropertyID   int64
	CollectionID int64
	UnitID       int64
	ModelID      int64
	Phase        metadata.Phase
	PeriodType   metadata.PeriodType
	SampleID     int64
	BandID       int64
	TimesliceID  int64
	IsSummary    bool
	// Table is the fact table the series is loaded into.
	Table string
}

// DataPoint is one decoded value.
type DataPoint struct {
	Key     SeriesKey
	BlockID int64
	Value   float64
}

// Chunk is a run of consecutive values of one series. Values[i] has block
// id FirstBlock+i.
type Chunk struct {
	Key        SeriesKey
	FirstBlock int64
	Values     []float64
}

// Len returns the number of points in the chunk.
func (c Chunk) Len() int {
	return len(c.Values)
}

// Point returns the i-th point of the chunk.
func (c Chunk) Point(i int) DataPoint {
	return DataPoint{Key: c.Key, BlockID: c.FirstBlock + int64(i), Value: c.Values[i]}
}

var tableNameReplacer = strings.NewReplacer(" ", "_", "-", "_")

// FactTableName names the fact table of a phase, period type, collection
// and property, e.g. ST__Interval__Generators__Generation.
func FactTableName(phase metadata.Phase, typ metadata.PeriodType, collection, property string) string {
	name := phase.String() + "__" + typ.String() + "__" + collection + "__" + property
	return tableNameReplacer.Replace(name)
}
