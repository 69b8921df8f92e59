// Package audit keeps the amendment trail for closed clinical records.
// Entries are append-only: nothing in the application updates or deletes
// them, and they outlive the record they describe.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldChange captures one field's value before and after an amendment.
type FieldChange struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
}

// Entry is one amendment to a closed record: who changed it, when, why,
// and exactly what changed. Note bodies appear in the diff in their
// encrypted-at-rest form, matching the protection of the record itself.
type Entry struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	RecordID   uuid.UUID              `json:"record_id" db:"record_id"`
	ActorID    string                 `json:"actor_id" db:"actor_id"`
	Reason     string                 `json:"reason" db:"reason"`
	Diff       map[string]FieldChange `json:"diff" db:"diff"`
	RecordedAt time.Time              `json:"recorded_at" db:"recorded_at"`
}
