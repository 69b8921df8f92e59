package chart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intraop/intraop/internal/domain/record"
)

// mockSnapshotRepo deep-copies on read and copies back only the named
// channels on write, so a service that forgets to list a touched channel
// fails these tests.
type mockSnapshotRepo struct {
	snaps map[uuid.UUID]*Snapshot
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{snaps: make(map[uuid.UUID]*Snapshot)}
}

func cloneSnapshot(t *Snapshot) *Snapshot {
	raw, _ := json.Marshal(t)
	var c Snapshot
	_ = json.Unmarshal(raw, &c)
	if c.Vitals == nil {
		c.Vitals = make(map[string][]VitalPoint)
	}
	if c.Outputs == nil {
		c.Outputs = make(map[string][]OutputPoint)
	}
	return &c
}

func (m *mockSnapshotRepo) Get(_ context.Context, recordID uuid.UUID) (*Snapshot, error) {
	snap, ok := m.snaps[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

func (m *mockSnapshotRepo) Create(_ context.Context, snap *Snapshot) error {
	if _, ok := m.snaps[snap.RecordID]; ok {
		return nil
	}
	m.snaps[snap.RecordID] = cloneSnapshot(snap)
	return nil
}

func (m *mockSnapshotRepo) UpdateChannels(_ context.Context, snap *Snapshot, channels ...string) error {
	stored, ok := m.snaps[snap.RecordID]
	if !ok {
		return ErrNotFound
	}
	incoming := cloneSnapshot(snap)
	for _, channel := range channels {
		switch channel {
		case ChannelVitals:
			stored.Vitals = incoming.Vitals
		case ChannelBloodPressure:
			stored.BloodPressure = incoming.BloodPressure
		case ChannelRhythm:
			stored.Rhythm = incoming.Rhythm
		case ChannelTrainOfFour:
			stored.TrainOfFour = incoming.TrainOfFour
		case ChannelVentilation:
			stored.Ventilation = incoming.Ventilation
		case ChannelOutputs:
			stored.Outputs = incoming.Outputs
		}
	}
	return nil
}

type stubGuard struct {
	exists bool
	status string
}

func (g *stubGuard) EnsureExists(context.Context, uuid.UUID) error {
	if !g.exists {
		return record.ErrNotFound
	}
	return nil
}

func (g *stubGuard) EnsureOpen(context.Context, uuid.UUID) error {
	if !g.exists {
		return record.ErrNotFound
	}
	if g.status != record.StatusOpen {
		return record.ErrRecordClosed
	}
	return nil
}

type nopTx struct{}

func (nopTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type broadcastCall struct {
	recordID string
	section  string
	origin   string
}

type mockBroadcaster struct {
	calls []broadcastCall
}

func (m *mockBroadcaster) Broadcast(recordID, section string, _ interface{}, originSessionID string) {
	m.calls = append(m.calls, broadcastCall{recordID: recordID, section: section, origin: originSessionID})
}

func newTestService(t *testing.T) (*Service, *mockSnapshotRepo, *stubGuard, *mockBroadcaster) {
	t.Helper()
	repo := newMockSnapshotRepo()
	guard := &stubGuard{exists: true, status: record.StatusOpen}
	events := &mockBroadcaster{}
	svc := NewService(repo, guard, nopTx{}, events, zerolog.Nop())
	return svc, repo, guard, events
}

func TestGetCreatesEmptySnapshotOnFirstAccess(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.Get(context.Background(), recordID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Vitals) != 0 || len(snap.BloodPressure) != 0 {
		t.Errorf("first snapshot not empty: %+v", snap)
	}
	if _, ok := repo.snaps[recordID]; !ok {
		t.Error("empty snapshot row was not persisted")
	}
}

func TestGetMissingRecord(t *testing.T) {
	svc, _, guard, _ := newTestService(t)
	guard.exists = false

	_, err := svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected record.ErrNotFound, got %v", err)
	}
}

func TestAddVitalAssignsIDAndBroadcasts(t *testing.T) {
	svc, _, _, events := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.AddVital(context.Background(), recordID, "heart_rate", VitalInput{Timestamp: 1700000000000, Value: 72}, "session-1")
	if err != nil {
		t.Fatalf("AddVital: %v", err)
	}

	points := snap.Vitals["heart_rate"]
	if len(points) != 1 {
		t.Fatalf("heart_rate points = %d, want 1", len(points))
	}
	if points[0].ID == uuid.Nil {
		t.Error("point id not assigned")
	}
	if points[0].Value != 72 {
		t.Errorf("value = %v, want 72", points[0].Value)
	}

	if len(events.calls) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(events.calls))
	}
	call := events.calls[0]
	if call.section != SectionVitals || call.origin != "session-1" || call.recordID != recordID.String() {
		t.Errorf("broadcast = %+v", call)
	}
}

func TestAddVitalValidation(t *testing.T) {
	svc, _, _, events := newTestService(t)
	recordID := uuid.New()

	if _, err := svc.AddVital(context.Background(), recordID, "", VitalInput{Timestamp: 1}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty type: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AddVital(context.Background(), recordID, "heart_rate", VitalInput{}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("zero timestamp: expected ErrValidation, got %v", err)
	}
	if len(events.calls) != 0 {
		t.Error("rejected input still broadcast an event")
	}
}

func TestMutationsRejectedWhenRecordClosed(t *testing.T) {
	svc, repo, guard, events := newTestService(t)
	recordID := uuid.New()

	if _, err := svc.AddVital(context.Background(), recordID, "spo2", VitalInput{Timestamp: 100, Value: 98}, ""); err != nil {
		t.Fatalf("AddVital: %v", err)
	}
	guard.status = record.StatusClosed
	events.calls = nil

	_, err := svc.AddVital(context.Background(), recordID, "spo2", VitalInput{Timestamp: 200, Value: 97}, "")
	if !errors.Is(err, record.ErrRecordClosed) {
		t.Fatalf("expected record.ErrRecordClosed, got %v", err)
	}
	if len(repo.snaps[recordID].Vitals["spo2"]) != 1 {
		t.Error("write landed on a closed record")
	}
	if len(events.calls) != 0 {
		t.Error("rejected write still broadcast an event")
	}
}

func TestUpdateVitalSearchesAllChannelsAndPreservesID(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	recordID := uuid.New()

	if _, err := svc.AddVital(context.Background(), recordID, "heart_rate", VitalInput{Timestamp: 100, Value: 70}, ""); err != nil {
		t.Fatalf("AddVital: %v", err)
	}
	snap, err := svc.AddVital(context.Background(), recordID, "spo2", VitalInput{Timestamp: 100, Value: 99}, "")
	if err != nil {
		t.Fatalf("AddVital: %v", err)
	}
	target := snap.Vitals["spo2"][0]

	newValue := 97.0
	updated, err := svc.UpdateVital(context.Background(), recordID, target.ID, VitalUpdate{Value: &newValue}, "")
	if err != nil {
		t.Fatalf("UpdateVital: %v", err)
	}

	got := updated.Vitals["spo2"][0]
	if got.ID != target.ID {
		t.Error("update changed the point id")
	}
	if got.Value != 97 {
		t.Errorf("value = %v, want 97", got.Value)
	}
	if got.Timestamp != 100 {
		t.Errorf("timestamp changed to %d on a value-only update", got.Timestamp)
	}
	if updated.Vitals["heart_rate"][0].Value != 70 {
		t.Error("unrelated channel was modified")
	}
}

func TestUpdateVitalUnknownPoint(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	recordID := uuid.New()

	if _, err := svc.AddVital(context.Background(), recordID, "heart_rate", VitalInput{Timestamp: 100, Value: 70}, ""); err != nil {
		t.Fatalf("AddVital: %v", err)
	}

	v := 80.0
	_, err := svc.UpdateVital(context.Background(), recordID, uuid.New(), VitalUpdate{Value: &v}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateVitalRequiresAField(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.UpdateVital(context.Background(), uuid.New(), uuid.New(), VitalUpdate{}, "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDeleteVitalRemovesEmptyChannel(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.AddVital(context.Background(), recordID, "temp", VitalInput{Timestamp: 100, Value: 36.6}, "")
	if err != nil {
		t.Fatalf("AddVital: %v", err)
	}
	pointID := snap.Vitals["temp"][0].ID

	after, err := svc.DeleteVital(context.Background(), recordID, "temp", pointID, "")
	if err != nil {
		t.Fatalf("DeleteVital: %v", err)
	}
	if _, ok := after.Vitals["temp"]; ok {
		t.Error("empty vital channel kept its key")
	}

	if _, err := svc.DeleteVital(context.Background(), recordID, "temp", pointID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestBloodPressureLifecycle(t *testing.T) {
	svc, _, _, events := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.AddBloodPressure(context.Background(), recordID, BloodPressureInput{
		Timestamp: 100, Systolic: 120, Diastolic: 80, Mean: 93,
	}, "session-1")
	if err != nil {
		t.Fatalf("AddBloodPressure: %v", err)
	}
	if events.calls[0].section != SectionVitals {
		t.Errorf("blood pressure broadcast under %q, want vitals", events.calls[0].section)
	}
	pointID := snap.BloodPressure[0].ID

	sys := 118.0
	updated, err := svc.UpdateBloodPressure(context.Background(), recordID, pointID, BloodPressureUpdate{Systolic: &sys}, "")
	if err != nil {
		t.Fatalf("UpdateBloodPressure: %v", err)
	}
	got := updated.BloodPressure[0]
	if got.Systolic != 118 || got.Diastolic != 80 || got.Mean != 93 {
		t.Errorf("partial update clobbered fields: %+v", got)
	}

	after, err := svc.DeleteBloodPressure(context.Background(), recordID, pointID, "")
	if err != nil {
		t.Fatalf("DeleteBloodPressure: %v", err)
	}
	if len(after.BloodPressure) != 0 {
		t.Errorf("blood pressure points = %d after delete", len(after.BloodPressure))
	}
}

func TestUpdateObservationFindsContainingChannel(t *testing.T) {
	svc, _, _, events := newTestService(t)
	recordID := uuid.New()

	if _, err := svc.AddRhythm(context.Background(), recordID, RhythmInput{Timestamp: 100, Value: "sinus"}, ""); err != nil {
		t.Fatalf("AddRhythm: %v", err)
	}
	snapTOF, err := svc.AddTrainOfFour(context.Background(), recordID, TrainOfFourInput{Timestamp: 100, Value: 4, Percentage: 95}, "")
	if err != nil {
		t.Fatalf("AddTrainOfFour: %v", err)
	}
	snapVent, err := svc.AddVentilation(context.Background(), recordID, VentilationInput{Timestamp: 100, Value: "SIMV"}, "")
	if err != nil {
		t.Fatalf("AddVentilation: %v", err)
	}

	tofID := snapTOF.TrainOfFour[0].ID
	ventID := snapVent.Ventilation[0].ID
	rhythmID := snapVent.Rhythm[0].ID

	// Numeric update lands on the train-of-four point.
	pct := 88.0
	updated, err := svc.UpdateObservation(context.Background(), recordID, tofID, ObservationUpdate{Percentage: &pct}, "")
	if err != nil {
		t.Fatalf("UpdateObservation tof: %v", err)
	}
	if updated.TrainOfFour[0].Percentage != 88 {
		t.Errorf("tof percentage = %v", updated.TrainOfFour[0].Percentage)
	}

	// Code update lands on the ventilation point and broadcasts under the
	// ventilation section.
	events.calls = nil
	code := "PCV"
	updated, err = svc.UpdateObservation(context.Background(), recordID, ventID, ObservationUpdate{Code: &code}, "")
	if err != nil {
		t.Fatalf("UpdateObservation vent: %v", err)
	}
	if updated.Ventilation[0].Value != "PCV" {
		t.Errorf("ventilation value = %q", updated.Ventilation[0].Value)
	}
	if events.calls[0].section != SectionVentilation {
		t.Errorf("ventilation update broadcast under %q", events.calls[0].section)
	}

	// A code does not apply to a train-of-four point.
	if _, err := svc.UpdateObservation(context.Background(), recordID, tofID, ObservationUpdate{Code: &code}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("code on tof point: expected ErrValidation, got %v", err)
	}

	// A numeric value does not apply to a rhythm point.
	v := 3.0
	if _, err := svc.UpdateObservation(context.Background(), recordID, rhythmID, ObservationUpdate{Value: &v}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("value on rhythm point: expected ErrValidation, got %v", err)
	}
}

func TestDeleteObservation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.AddRhythm(context.Background(), recordID, RhythmInput{Timestamp: 100, Value: "afib"}, "")
	if err != nil {
		t.Fatalf("AddRhythm: %v", err)
	}
	rhythmID := snap.Rhythm[0].ID

	after, err := svc.DeleteObservation(context.Background(), recordID, rhythmID, "")
	if err != nil {
		t.Fatalf("DeleteObservation: %v", err)
	}
	if len(after.Rhythm) != 0 {
		t.Errorf("rhythm points = %d after delete", len(after.Rhythm))
	}

	if _, err := svc.DeleteObservation(context.Background(), recordID, uuid.New(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown point: expected ErrNotFound, got %v", err)
	}
}

func TestVentilationBulkIsAtomicAndStampsOneTimestamp(t *testing.T) {
	svc, _, _, events := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.AddVentilationBulk(context.Background(), recordID, VentilationBulkInput{
		Timestamp: 1700000000000,
		Mode:      "SIMV",
		Parameters: map[string]float64{
			"tidal_volume": 450,
			"fio2":         0.4,
			"peep":         5,
		},
	}, "session-1")
	if err != nil {
		t.Fatalf("AddVentilationBulk: %v", err)
	}

	if len(snap.Ventilation) != 1 || snap.Ventilation[0].Value != "SIMV" {
		t.Errorf("ventilation channel = %+v", snap.Ventilation)
	}
	for _, param := range []string{"tidal_volume", "fio2", "peep"} {
		points := snap.Vitals[param]
		if len(points) != 1 {
			t.Fatalf("%s points = %d, want 1", param, len(points))
		}
		if points[0].Timestamp != 1700000000000 {
			t.Errorf("%s timestamp = %d, want shared bulk timestamp", param, points[0].Timestamp)
		}
	}

	if len(events.calls) != 1 {
		t.Fatalf("bulk produced %d broadcasts, want 1", len(events.calls))
	}
	if events.calls[0].section != SectionVentilation {
		t.Errorf("bulk broadcast under %q", events.calls[0].section)
	}
}

func TestVentilationBulkValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	recordID := uuid.New()

	if _, err := svc.AddVentilationBulk(context.Background(), recordID, VentilationBulkInput{Timestamp: 100}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty bulk: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AddVentilationBulk(context.Background(), recordID, VentilationBulkInput{Mode: "SIMV"}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("zero timestamp: expected ErrValidation, got %v", err)
	}
}

func TestOutputLifecycle(t *testing.T) {
	svc, _, _, events := newTestService(t)
	recordID := uuid.New()

	snap, err := svc.AddOutput(context.Background(), recordID, "urine", OutputInput{Timestamp: 100, Value: 50}, "")
	if err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	if events.calls[0].section != SectionOutput {
		t.Errorf("output broadcast under %q", events.calls[0].section)
	}
	pointID := snap.Outputs["urine"][0].ID

	v := 75.0
	updated, err := svc.UpdateOutput(context.Background(), recordID, pointID, OutputUpdate{Value: &v}, "")
	if err != nil {
		t.Fatalf("UpdateOutput: %v", err)
	}
	if updated.Outputs["urine"][0].Value != 75 {
		t.Errorf("output value = %v", updated.Outputs["urine"][0].Value)
	}

	after, err := svc.DeleteOutput(context.Background(), recordID, "urine", pointID, "")
	if err != nil {
		t.Fatalf("DeleteOutput: %v", err)
	}
	if _, ok := after.Outputs["urine"]; ok {
		t.Error("empty output channel kept its key")
	}

	if _, err := svc.DeleteOutput(context.Background(), recordID, "blood_loss", pointID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown channel: expected ErrNotFound, got %v", err)
	}
}

func TestChannelsSortedAscendingByTimestamp(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	recordID := uuid.New()

	// Historical backfill: out-of-order adds are accepted.
	for _, ts := range []int64{300, 100, 200} {
		if _, err := svc.AddVital(context.Background(), recordID, "heart_rate", VitalInput{Timestamp: ts, Value: float64(ts)}, ""); err != nil {
			t.Fatalf("AddVital ts=%d: %v", ts, err)
		}
	}

	snap, err := svc.Get(context.Background(), recordID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	points := snap.Vitals["heart_rate"]
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	for i, want := range []int64{100, 200, 300} {
		if points[i].Timestamp != want {
			t.Errorf("points[%d].Timestamp = %d, want %d", i, points[i].Timestamp, want)
		}
	}
}
