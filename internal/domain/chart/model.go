package chart

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Channel names. Each maps to one jsonb column of the snapshot row and
// identifies which channel a mutation rewrites.
const (
	ChannelVitals        = "vitals"
	ChannelBloodPressure = "blood_pressure"
	ChannelRhythm        = "rhythm"
	ChannelTrainOfFour   = "train_of_four"
	ChannelVentilation   = "ventilation"
	ChannelOutputs       = "outputs"
)

// Broadcast section labels. Receivers use them to decide which part of
// their view to refresh.
const (
	SectionVitals      = "vitals"
	SectionVentilation = "ventilation"
	SectionOutput      = "output"
)

// VitalPoint is one scalar observation in a typed vital channel
// (heart rate, SpO2, temperature, ...). Timestamps are integer
// milliseconds since epoch throughout; values are stored as given.
type VitalPoint struct {
	ID        uuid.UUID `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BloodPressurePoint carries one non-invasive or arterial reading.
type BloodPressurePoint struct {
	ID        uuid.UUID `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Systolic  float64   `json:"systolic"`
	Diastolic float64   `json:"diastolic"`
	Mean      float64   `json:"mean"`
}

// RhythmPoint records a categorical cardiac rhythm code.
type RhythmPoint struct {
	ID        uuid.UUID `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Value     string    `json:"value"`
}

// TrainOfFourPoint records a neuromuscular monitoring measurement.
type TrainOfFourPoint struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  int64     `json:"timestamp"`
	Value      float64   `json:"value"`
	Percentage float64   `json:"percentage"`
}

// VentilationPoint records a categorical ventilation mode code.
type VentilationPoint struct {
	ID        uuid.UUID `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Value     string    `json:"value"`
}

// OutputPoint is one scalar entry in a keyed output channel
// (urine output, blood loss, ...).
type OutputPoint struct {
	ID        uuid.UUID `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Snapshot is the full multi-channel time-series document for one
// clinical record. An empty snapshot is a valid state meaning no
// measurements have been taken yet. Field names are stable wire
// contracts consumed by chart-rendering clients.
type Snapshot struct {
	RecordID      uuid.UUID                `json:"recordId" db:"record_id"`
	Vitals        map[string][]VitalPoint  `json:"vitals" db:"vitals"`
	BloodPressure []BloodPressurePoint     `json:"bloodPressure" db:"blood_pressure"`
	Rhythm        []RhythmPoint            `json:"rhythm" db:"rhythm"`
	TrainOfFour   []TrainOfFourPoint       `json:"trainOfFour" db:"train_of_four"`
	Ventilation   []VentilationPoint       `json:"ventilation" db:"ventilation"`
	Outputs       map[string][]OutputPoint `json:"outputs" db:"outputs"`
	CreatedAt     time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at" db:"updated_at"`
}

// NewSnapshot returns an empty snapshot for a record, with all channels
// initialized so the wire form is {} / [] rather than null.
func NewSnapshot(recordID uuid.UUID) *Snapshot {
	return &Snapshot{
		RecordID:      recordID,
		Vitals:        make(map[string][]VitalPoint),
		BloodPressure: []BloodPressurePoint{},
		Rhythm:        []RhythmPoint{},
		TrainOfFour:   []TrainOfFourPoint{},
		Ventilation:   []VentilationPoint{},
		Outputs:       make(map[string][]OutputPoint),
	}
}

// SortChannels orders every channel ascending by timestamp. Storage
// order is unconstrained (historical backfill appends out of order);
// rendering order is not.
func (s *Snapshot) SortChannels() {
	for _, points := range s.Vitals {
		sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	}
	sort.SliceStable(s.BloodPressure, func(i, j int) bool { return s.BloodPressure[i].Timestamp < s.BloodPressure[j].Timestamp })
	sort.SliceStable(s.Rhythm, func(i, j int) bool { return s.Rhythm[i].Timestamp < s.Rhythm[j].Timestamp })
	sort.SliceStable(s.TrainOfFour, func(i, j int) bool { return s.TrainOfFour[i].Timestamp < s.TrainOfFour[j].Timestamp })
	sort.SliceStable(s.Ventilation, func(i, j int) bool { return s.Ventilation[i].Timestamp < s.Ventilation[j].Timestamp })
	for _, points := range s.Outputs {
		sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	}
}
