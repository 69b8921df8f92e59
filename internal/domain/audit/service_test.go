package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	entries []*Entry
}

func (m *mockRepo) Append(_ context.Context, entry *Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepo) ListByRecord(_ context.Context, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var matched []*Entry
	for _, e := range m.entries {
		if e.RecordID == recordID {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	if offset > len(matched) {
		return []*Entry{}, total, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	recordID := uuid.New()

	diff := map[string]FieldChange{
		"post_op": {Before: json.RawMessage(`{"pain":3}`), After: json.RawMessage(`{"pain":2}`)},
	}
	if err := svc.Append(context.Background(), recordID, "dr-a", "pain score corrected", diff); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID == uuid.Nil {
		t.Error("entry id not assigned")
	}
	if entry.RecordedAt.IsZero() {
		t.Error("recorded_at not set")
	}
	if entry.ActorID != "dr-a" || entry.Reason != "pain score corrected" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestListByRecordScopesAndPaginates(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	recordID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := svc.Append(context.Background(), recordID, "dr-a", "fix", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := svc.Append(context.Background(), uuid.New(), "dr-b", "other record", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, total, err := svc.ListByRecord(context.Background(), recordID, 2, 0)
	if err != nil {
		t.Fatalf("ListByRecord: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(entries) != 2 {
		t.Errorf("page size = %d, want 2", len(entries))
	}
}
