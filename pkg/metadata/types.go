package metadata

import (
	"fmt"
	"time"
)

// Phase is the simulation phase a series belongs to.
type Phase int

// Simulation phases.
const (
	PhaseLT   Phase = 1
	PhasePASA Phase = 2
	PhaseMT   Phase = 3
	PhaseST   Phase = 4
)

// Phases lists every known phase in id order.
var Phases = []Phase{PhaseLT, PhasePASA, PhaseMT, PhaseST}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseLT && p <= PhaseST
}

func (p Phase) String() string {
	switch p {
	case PhaseLT:
		return "LT"
	case PhasePASA:
		return "PASA"
	case PhaseMT:
		return "MT"
	case PhaseST:
		return "ST"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// PeriodType is the reporting granularity of a series.
type PeriodType int

// Period types. Id 5 is not used by solution files.
const (
	PeriodInterval PeriodType = 0
	PeriodDay      PeriodType = 1
	PeriodWeek     PeriodType = 2
	PeriodMonth    PeriodType = 3
	PeriodYear     PeriodType = 4
	PeriodHour     PeriodType = 6
	PeriodQuarter  PeriodType = 7
)

// PeriodTypes lists every known period type in id order.
var PeriodTypes = []PeriodType{
	PeriodInterval, PeriodDay, PeriodWeek, PeriodMonth, PeriodYear, PeriodHour, PeriodQuarter,
}

// Valid reports whether t is a known period type.
func (t PeriodType) Valid() bool {
	switch t {
	case PeriodInterval, PeriodDay, PeriodWeek, PeriodMonth, PeriodYear, PeriodHour, PeriodQuarter:
		return true
	}
	return false
}

func (t PeriodType) String() string {
	switch t {
	case PeriodInterval:
		return "Interval"
	case PeriodDay:
		return "Day"
	case PeriodWeek:
		return "Week"
	case PeriodMonth:
		return "Month"
	case PeriodYear:
		return "Year"
	case PeriodHour:
		return "Hour"
	case PeriodQuarter:
		return "Quarter"
	}
	return fmt.Sprintf("PeriodType(%d)", int(t))
}

// Class is a category of simulated object (Generator, Node, Line, ...).
type Class struct {
	ID           int64
	Name         string
	ClassGroupID int64
	LangID       int64
}

// ClassGroup groups classes.
type ClassGroup struct {
	ID     int64
	Name   string
	LangID int64
}

// Category is a user grouping of objects within a class.
type Category struct {
	ID      int64
	ClassID int64
	Rank    int64
	Name    string
}

// Object is a simulated entity.
type Object struct {
	ID         int64
	ClassID    int64
	CategoryID int64
	Name       string
	Index      int64
	Show       bool
}

// Collection is a typed relationship between a parent and a child class.
type Collection struct {
	ID             int64
	ParentClassID  int64
	ChildClassID   int64
	Name           string
	ComplementName string
	LangID         int64
	// NMembers counts the memberships of the collection.
	NMembers int64
}

// Membership links a parent object to a child object through a collection.
type Membership struct {
	ID             int64
	CollectionID   int64
	ParentClassID  int64
	ChildClassID   int64
	ParentObjectID int64
	ChildObjectID  int64
	// CollectionIndex is the 0-based position of the membership among its
	// collection's memberships in id order.
	CollectionIndex int64
}

// Membership kinds.
const (
	KindObject   = "object"
	KindRelation = "relation"
)

// Property is a reported measure of a collection.
type Property struct {
	ID            int64
	Name          string
	SummaryName   string
	EnumID        int64
	UnitID        int64
	SummaryUnitID int64
	IsMultiBand   bool
	IsPeriod      bool
	IsSummary     bool
	CollectionID  int64
	LangID        int64
	// BandID is the highest band id any key of the property reports.
	BandID int64
}

// TableName is the property name used to label series of a key; summary
// keys use the summary name.
func (p Property) TableName(isSummaryKey bool) string {
	if isSummaryKey && p.SummaryName != "" {
		return p.SummaryName
	}
	return p.Name
}

// ReportUnitID is the unit of the reported values: the summary unit for
// summary properties, else the unit.
func (p Property) ReportUnitID() int64 {
	if p.IsSummary {
		return p.SummaryUnitID
	}
	return p.UnitID
}

// Unit of measure.
type Unit struct {
	ID     int64
	Name   string
	LangID int64
}

// Band is a multi-band index.
type Band struct {
	ID int64
}

// ModelInfo is a simulated model.
type ModelInfo struct {
	ID   int64
	Name string
}

// Sample is a stochastic sample, with its weight when one is declared.
type Sample struct {
	ID      int64
	Name    string
	PhaseID int64
	Weight  float64
}

// SampleWeight weighs a sample within a phase.
type SampleWeight struct {
	SampleID int64
	PhaseID  int64
	Weight   float64
}

// Timeslice is a named time slice.
type Timeslice struct {
	ID   int64
	Name string
}

// Attribute is a class level attribute definition.
type Attribute struct {
	ID          int64
	ClassID     int64
	EnumID      int64
	Name        string
	Description string
	LangID      int64
}

// AttributeData is an attribute value, optionally bound to an object.
type AttributeData struct {
	AttributeID int64
	ObjectID    int64
	HasObject   bool
	Value       string
}

// MemoObject is a custom column value of an object.
type MemoObject struct {
	ObjectID int64
	ColumnID int64
	Value    string
}

// CustomColumn is a user defined object column.
type CustomColumn struct {
	ID       int64
	Name     string
	Position int64
	ClassID  int64
}

// ConfigEntry is one t_config element/value pair.
type ConfigEntry struct {
	Element string
	Value   string
}

// Key identifies one series: a membership, a property and the phase,
// band, sample and timeslice it was reported for.
type Key struct {
	ID           int64
	MembershipID int64
	ModelID      int64
	PhaseID      int64
	PropertyID   int64
	IsSummary    bool
	BandID       int64
	SampleID     int64
	TimesliceID  int64
}

// KeyIndex locates the values of a key inside t_data_<PeriodTypeID>.BIN.
// Value i has block id i + PeriodOffset + 1.
type KeyIndex struct {
	KeyID        int64
	PeriodTypeID int64
	Position     int64
	Length       int64
	PeriodOffset int64
}

// Period is one declared reporting period.
type Period struct {
	ID   int64
	Time time.Time
}

// PhaseInterval maps an interval to the period id of a phase.
type PhaseInterval struct {
	IntervalID int64
	PeriodID   int64
}
