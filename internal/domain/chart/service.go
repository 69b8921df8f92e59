package chart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intraop/intraop/internal/platform/db"
)

// RecordGuard answers questions about the owning clinical record. Write
// paths call EnsureOpen inside the mutation transaction so a concurrent
// close cannot race a point write.
type RecordGuard interface {
	EnsureExists(ctx context.Context, id uuid.UUID) error
	EnsureOpen(ctx context.Context, id uuid.UUID) error
}

// Broadcaster fans a section-scoped update out to live viewers of a
// record, skipping the originating session.
type Broadcaster interface {
	Broadcast(recordID, section string, data interface{}, originSessionID string)
}

// VitalInput is a scalar add into a typed vital channel.
type VitalInput struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// VitalUpdate is a partial update; nil fields keep their stored value.
type VitalUpdate struct {
	Timestamp *int64   `json:"timestamp"`
	Value     *float64 `json:"value"`
}

type BloodPressureInput struct {
	Timestamp int64   `json:"timestamp"`
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
	Mean      float64 `json:"mean"`
}

type BloodPressureUpdate struct {
	Timestamp *int64   `json:"timestamp"`
	Systolic  *float64 `json:"systolic"`
	Diastolic *float64 `json:"diastolic"`
	Mean      *float64 `json:"mean"`
}

type RhythmInput struct {
	Timestamp int64  `json:"timestamp"`
	Value     string `json:"value"`
}

type TrainOfFourInput struct {
	Timestamp  int64   `json:"timestamp"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

type VentilationInput struct {
	Timestamp int64  `json:"timestamp"`
	Value     string `json:"value"`
}

// ObservationUpdate targets a point in the rhythm, train-of-four or
// ventilation channel by id alone; the containing channel decides which
// fields apply. Code updates categorical values, Value and Percentage
// update train-of-four measurements.
type ObservationUpdate struct {
	Timestamp  *int64   `json:"timestamp"`
	Code       *string  `json:"code"`
	Value      *float64 `json:"value"`
	Percentage *float64 `json:"percentage"`
}

type OutputInput struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type OutputUpdate struct {
	Timestamp *int64   `json:"timestamp"`
	Value     *float64 `json:"value"`
}

// VentilationBulkInput records one ventilator check: an optional mode
// change plus any number of scalar parameters (tidal volume, FiO2, peep,
// ...), all stamped with the same timestamp.
type VentilationBulkInput struct {
	Timestamp  int64              `json:"timestamp"`
	Mode       string             `json:"mode"`
	Parameters map[string]float64 `json:"parameters"`
}

// Service implements point-level mutations over clinical snapshots.
// Every write runs in a transaction that re-checks the record is still
// open, rewrites only the touched channel columns, and broadcasts the
// updated snapshot to live viewers on success.
type Service struct {
	snapshots SnapshotRepository
	records   RecordGuard
	tx        db.TxRunner
	events    Broadcaster
	logger    zerolog.Logger
}

func NewService(snapshots SnapshotRepository, records RecordGuard, tx db.TxRunner, events Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		snapshots: snapshots,
		records:   records,
		tx:        tx,
		events:    events,
		logger:    logger,
	}
}

// Get returns the snapshot for a record, creating an empty one on first
// access. Channels are sorted ascending by timestamp for rendering.
func (s *Service) Get(ctx context.Context, recordID uuid.UUID) (*Snapshot, error) {
	snap, err := s.snapshots.Get(ctx, recordID)
	if errors.Is(err, ErrNotFound) {
		if err := s.records.EnsureExists(ctx, recordID); err != nil {
			return nil, err
		}
		if err := s.snapshots.Create(ctx, NewSnapshot(recordID)); err != nil {
			return nil, err
		}
		snap, err = s.snapshots.Get(ctx, recordID)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	snap.SortChannels()
	return snap, nil
}

// AddVital appends a scalar point to the named vital channel.
func (s *Service) AddVital(ctx context.Context, recordID uuid.UUID, vitalType string, in VitalInput, sessionID string) (*Snapshot, error) {
	if vitalType == "" {
		return nil, fmt.Errorf("%w: vital type is required", ErrValidation)
	}
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		snap.Vitals[vitalType] = append(snap.Vitals[vitalType], VitalPoint{
			ID:        uuid.New(),
			Timestamp: in.Timestamp,
			Value:     in.Value,
		})
		return []string{ChannelVitals}, nil
	})
}

// UpdateVital applies a partial update to a vital point found by id,
// searching every vital channel of the record.
func (s *Service) UpdateVital(ctx context.Context, recordID, pointID uuid.UUID, upd VitalUpdate, sessionID string) (*Snapshot, error) {
	if upd.Timestamp == nil && upd.Value == nil {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if upd.Timestamp != nil && *upd.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp must be positive", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		for vitalType, points := range snap.Vitals {
			for i := range points {
				if points[i].ID != pointID {
					continue
				}
				if upd.Timestamp != nil {
					points[i].Timestamp = *upd.Timestamp
				}
				if upd.Value != nil {
					points[i].Value = *upd.Value
				}
				snap.Vitals[vitalType] = points
				return []string{ChannelVitals}, nil
			}
		}
		return nil, fmt.Errorf("%w: vital point %s", ErrNotFound, pointID)
	})
}

// DeleteVital removes a point from the named vital channel.
func (s *Service) DeleteVital(ctx context.Context, recordID uuid.UUID, vitalType string, pointID uuid.UUID, sessionID string) (*Snapshot, error) {
	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		points, ok := snap.Vitals[vitalType]
		if !ok {
			return nil, fmt.Errorf("%w: vital channel %q", ErrNotFound, vitalType)
		}
		for i := range points {
			if points[i].ID != pointID {
				continue
			}
			points = append(points[:i], points[i+1:]...)
			if len(points) == 0 {
				delete(snap.Vitals, vitalType)
			} else {
				snap.Vitals[vitalType] = points
			}
			return []string{ChannelVitals}, nil
		}
		return nil, fmt.Errorf("%w: vital point %s", ErrNotFound, pointID)
	})
}

// AddBloodPressure appends a reading to the blood pressure channel.
func (s *Service) AddBloodPressure(ctx context.Context, recordID uuid.UUID, in BloodPressureInput, sessionID string) (*Snapshot, error) {
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		snap.BloodPressure = append(snap.BloodPressure, BloodPressurePoint{
			ID:        uuid.New(),
			Timestamp: in.Timestamp,
			Systolic:  in.Systolic,
			Diastolic: in.Diastolic,
			Mean:      in.Mean,
		})
		return []string{ChannelBloodPressure}, nil
	})
}

// UpdateBloodPressure applies a partial update to a blood pressure point.
func (s *Service) UpdateBloodPressure(ctx context.Context, recordID, pointID uuid.UUID, upd BloodPressureUpdate, sessionID string) (*Snapshot, error) {
	if upd.Timestamp == nil && upd.Systolic == nil && upd.Diastolic == nil && upd.Mean == nil {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if upd.Timestamp != nil && *upd.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp must be positive", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		for i := range snap.BloodPressure {
			if snap.BloodPressure[i].ID != pointID {
				continue
			}
			if upd.Timestamp != nil {
				snap.BloodPressure[i].Timestamp = *upd.Timestamp
			}
			if upd.Systolic != nil {
				snap.BloodPressure[i].Systolic = *upd.Systolic
			}
			if upd.Diastolic != nil {
				snap.BloodPressure[i].Diastolic = *upd.Diastolic
			}
			if upd.Mean != nil {
				snap.BloodPressure[i].Mean = *upd.Mean
			}
			return []string{ChannelBloodPressure}, nil
		}
		return nil, fmt.Errorf("%w: blood pressure point %s", ErrNotFound, pointID)
	})
}

// DeleteBloodPressure removes a blood pressure point by id.
func (s *Service) DeleteBloodPressure(ctx context.Context, recordID, pointID uuid.UUID, sessionID string) (*Snapshot, error) {
	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		for i := range snap.BloodPressure {
			if snap.BloodPressure[i].ID != pointID {
				continue
			}
			snap.BloodPressure = append(snap.BloodPressure[:i], snap.BloodPressure[i+1:]...)
			return []string{ChannelBloodPressure}, nil
		}
		return nil, fmt.Errorf("%w: blood pressure point %s", ErrNotFound, pointID)
	})
}

// AddRhythm appends a cardiac rhythm code.
func (s *Service) AddRhythm(ctx context.Context, recordID uuid.UUID, in RhythmInput, sessionID string) (*Snapshot, error) {
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if in.Value == "" {
		return nil, fmt.Errorf("%w: rhythm value is required", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		snap.Rhythm = append(snap.Rhythm, RhythmPoint{
			ID:        uuid.New(),
			Timestamp: in.Timestamp,
			Value:     in.Value,
		})
		return []string{ChannelRhythm}, nil
	})
}

// AddTrainOfFour appends a neuromuscular monitoring measurement.
func (s *Service) AddTrainOfFour(ctx context.Context, recordID uuid.UUID, in TrainOfFourInput, sessionID string) (*Snapshot, error) {
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVitals, func(snap *Snapshot) ([]string, error) {
		snap.TrainOfFour = append(snap.TrainOfFour, TrainOfFourPoint{
			ID:         uuid.New(),
			Timestamp:  in.Timestamp,
			Value:      in.Value,
			Percentage: in.Percentage,
		})
		return []string{ChannelTrainOfFour}, nil
	})
}

// AddVentilation appends a ventilation mode code.
func (s *Service) AddVentilation(ctx context.Context, recordID uuid.UUID, in VentilationInput, sessionID string) (*Snapshot, error) {
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if in.Value == "" {
		return nil, fmt.Errorf("%w: ventilation mode is required", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVentilation, func(snap *Snapshot) ([]string, error) {
		snap.Ventilation = append(snap.Ventilation, VentilationPoint{
			ID:        uuid.New(),
			Timestamp: in.Timestamp,
			Value:     in.Value,
		})
		return []string{ChannelVentilation}, nil
	})
}

// AddVentilationBulk records one ventilator check atomically: the mode
// change, if any, plus one vital point per scalar parameter, all at the
// same timestamp. Either everything persists or nothing does.
func (s *Service) AddVentilationBulk(ctx context.Context, recordID uuid.UUID, in VentilationBulkInput, sessionID string) (*Snapshot, error) {
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if in.Mode == "" && len(in.Parameters) == 0 {
		return nil, fmt.Errorf("%w: bulk entry needs a mode or at least one parameter", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionVentilation, func(snap *Snapshot) ([]string, error) {
		var channels []string
		if in.Mode != "" {
			snap.Ventilation = append(snap.Ventilation, VentilationPoint{
				ID:        uuid.New(),
				Timestamp: in.Timestamp,
				Value:     in.Mode,
			})
			channels = append(channels, ChannelVentilation)
		}
		if len(in.Parameters) > 0 {
			params := make([]string, 0, len(in.Parameters))
			for param := range in.Parameters {
				if param == "" {
					return nil, fmt.Errorf("%w: parameter name must not be empty", ErrValidation)
				}
				params = append(params, param)
			}
			sort.Strings(params)
			for _, param := range params {
				snap.Vitals[param] = append(snap.Vitals[param], VitalPoint{
					ID:        uuid.New(),
					Timestamp: in.Timestamp,
					Value:     in.Parameters[param],
				})
			}
			channels = append(channels, ChannelVitals)
		}
		return channels, nil
	})
}

// UpdateObservation applies a partial update to a point identified only
// by id, searching the rhythm, train-of-four and ventilation channels in
// that order. The containing channel decides which fields are legal.
func (s *Service) UpdateObservation(ctx context.Context, recordID, pointID uuid.UUID, upd ObservationUpdate, sessionID string) (*Snapshot, error) {
	if upd.Timestamp == nil && upd.Code == nil && upd.Value == nil && upd.Percentage == nil {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if upd.Timestamp != nil && *upd.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp must be positive", ErrValidation)
	}
	if upd.Code != nil && *upd.Code == "" {
		return nil, fmt.Errorf("%w: code must not be empty", ErrValidation)
	}

	var section string
	snap, err := s.mutateDeferred(ctx, recordID, func(snap *Snapshot) ([]string, error) {
		for i := range snap.Rhythm {
			if snap.Rhythm[i].ID != pointID {
				continue
			}
			if upd.Value != nil || upd.Percentage != nil {
				return nil, fmt.Errorf("%w: numeric fields do not apply to a rhythm point", ErrValidation)
			}
			if upd.Timestamp != nil {
				snap.Rhythm[i].Timestamp = *upd.Timestamp
			}
			if upd.Code != nil {
				snap.Rhythm[i].Value = *upd.Code
			}
			section = SectionVitals
			return []string{ChannelRhythm}, nil
		}
		for i := range snap.TrainOfFour {
			if snap.TrainOfFour[i].ID != pointID {
				continue
			}
			if upd.Code != nil {
				return nil, fmt.Errorf("%w: code does not apply to a train-of-four point", ErrValidation)
			}
			if upd.Timestamp != nil {
				snap.TrainOfFour[i].Timestamp = *upd.Timestamp
			}
			if upd.Value != nil {
				snap.TrainOfFour[i].Value = *upd.Value
			}
			if upd.Percentage != nil {
				snap.TrainOfFour[i].Percentage = *upd.Percentage
			}
			section = SectionVitals
			return []string{ChannelTrainOfFour}, nil
		}
		for i := range snap.Ventilation {
			if snap.Ventilation[i].ID != pointID {
				continue
			}
			if upd.Value != nil || upd.Percentage != nil {
				return nil, fmt.Errorf("%w: numeric fields do not apply to a ventilation point", ErrValidation)
			}
			if upd.Timestamp != nil {
				snap.Ventilation[i].Timestamp = *upd.Timestamp
			}
			if upd.Code != nil {
				snap.Ventilation[i].Value = *upd.Code
			}
			section = SectionVentilation
			return []string{ChannelVentilation}, nil
		}
		return nil, fmt.Errorf("%w: observation point %s", ErrNotFound, pointID)
	})
	if err != nil {
		return nil, err
	}
	s.events.Broadcast(recordID.String(), section, snap, sessionID)
	return snap, nil
}

// DeleteObservation removes a point from whichever of the rhythm,
// train-of-four or ventilation channels contains it.
func (s *Service) DeleteObservation(ctx context.Context, recordID, pointID uuid.UUID, sessionID string) (*Snapshot, error) {
	var section string
	snap, err := s.mutateDeferred(ctx, recordID, func(snap *Snapshot) ([]string, error) {
		for i := range snap.Rhythm {
			if snap.Rhythm[i].ID == pointID {
				snap.Rhythm = append(snap.Rhythm[:i], snap.Rhythm[i+1:]...)
				section = SectionVitals
				return []string{ChannelRhythm}, nil
			}
		}
		for i := range snap.TrainOfFour {
			if snap.TrainOfFour[i].ID == pointID {
				snap.TrainOfFour = append(snap.TrainOfFour[:i], snap.TrainOfFour[i+1:]...)
				section = SectionVitals
				return []string{ChannelTrainOfFour}, nil
			}
		}
		for i := range snap.Ventilation {
			if snap.Ventilation[i].ID == pointID {
				snap.Ventilation = append(snap.Ventilation[:i], snap.Ventilation[i+1:]...)
				section = SectionVentilation
				return []string{ChannelVentilation}, nil
			}
		}
		return nil, fmt.Errorf("%w: observation point %s", ErrNotFound, pointID)
	})
	if err != nil {
		return nil, err
	}
	s.events.Broadcast(recordID.String(), section, snap, sessionID)
	return snap, nil
}

// AddOutput appends a scalar entry to the named output channel.
func (s *Service) AddOutput(ctx context.Context, recordID uuid.UUID, param string, in OutputInput, sessionID string) (*Snapshot, error) {
	if param == "" {
		return nil, fmt.Errorf("%w: output parameter is required", ErrValidation)
	}
	if in.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionOutput, func(snap *Snapshot) ([]string, error) {
		snap.Outputs[param] = append(snap.Outputs[param], OutputPoint{
			ID:        uuid.New(),
			Timestamp: in.Timestamp,
			Value:     in.Value,
		})
		return []string{ChannelOutputs}, nil
	})
}

// UpdateOutput applies a partial update to an output point found by id,
// searching every output channel of the record.
func (s *Service) UpdateOutput(ctx context.Context, recordID, pointID uuid.UUID, upd OutputUpdate, sessionID string) (*Snapshot, error) {
	if upd.Timestamp == nil && upd.Value == nil {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if upd.Timestamp != nil && *upd.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp must be positive", ErrValidation)
	}

	return s.mutate(ctx, recordID, sessionID, SectionOutput, func(snap *Snapshot) ([]string, error) {
		for param, points := range snap.Outputs {
			for i := range points {
				if points[i].ID != pointID {
					continue
				}
				if upd.Timestamp != nil {
					points[i].Timestamp = *upd.Timestamp
				}
				if upd.Value != nil {
					points[i].Value = *upd.Value
				}
				snap.Outputs[param] = points
				return []string{ChannelOutputs}, nil
			}
		}
		return nil, fmt.Errorf("%w: output point %s", ErrNotFound, pointID)
	})
}

// DeleteOutput removes a point from the named output channel.
func (s *Service) DeleteOutput(ctx context.Context, recordID uuid.UUID, param string, pointID uuid.UUID, sessionID string) (*Snapshot, error) {
	return s.mutate(ctx, recordID, sessionID, SectionOutput, func(snap *Snapshot) ([]string, error) {
		points, ok := snap.Outputs[param]
		if !ok {
			return nil, fmt.Errorf("%w: output channel %q", ErrNotFound, param)
		}
		for i := range points {
			if points[i].ID != pointID {
				continue
			}
			points = append(points[:i], points[i+1:]...)
			if len(points) == 0 {
				delete(snap.Outputs, param)
			} else {
				snap.Outputs[param] = points
			}
			return []string{ChannelOutputs}, nil
		}
		return nil, fmt.Errorf("%w: output point %s", ErrNotFound, pointID)
	})
}

// mutate runs one point mutation and broadcasts the result under the
// given section label.
func (s *Service) mutate(ctx context.Context, recordID uuid.UUID, sessionID, section string, apply func(*Snapshot) ([]string, error)) (*Snapshot, error) {
	snap, err := s.mutateDeferred(ctx, recordID, apply)
	if err != nil {
		return nil, err
	}
	s.events.Broadcast(recordID.String(), section, snap, sessionID)
	return snap, nil
}

// mutateDeferred runs one point mutation inside a transaction without
// broadcasting, for callers that only know the section label after the
// apply step has located the point. The record's open status is
// re-checked inside the same transaction as the channel write, so a
// mutation can never land on a record that closed concurrently.
func (s *Service) mutateDeferred(ctx context.Context, recordID uuid.UUID, apply func(*Snapshot) ([]string, error)) (*Snapshot, error) {
	var snap *Snapshot
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.records.EnsureOpen(ctx, recordID); err != nil {
			return err
		}

		var err error
		snap, err = s.load(ctx, recordID)
		if err != nil {
			return err
		}

		channels, err := apply(snap)
		if err != nil {
			return err
		}
		return s.snapshots.UpdateChannels(ctx, snap, channels...)
	})
	if err != nil {
		return nil, err
	}

	snap.SortChannels()
	return snap, nil
}

// load fetches the snapshot inside the current transaction, creating the
// empty row on first write to a record.
func (s *Service) load(ctx context.Context, recordID uuid.UUID) (*Snapshot, error) {
	snap, err := s.snapshots.Get(ctx, recordID)
	if errors.Is(err, ErrNotFound) {
		if err := s.snapshots.Create(ctx, NewSnapshot(recordID)); err != nil {
			return nil, err
		}
		return s.snapshots.Get(ctx, recordID)
	}
	return snap, err
}
