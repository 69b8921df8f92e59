package record

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Repository persists clinical records. Methods that participate in
// lifecycle decisions have ForUpdate variants that lock the record row
// for the duration of the surrounding transaction.
type Repository interface {
	Create(ctx context.Context, rec *ClinicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error)
	ListBySurgery(ctx context.Context, surgeryID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error)

	// GetStatus returns the record's case status, ErrNotFound when the
	// record does not exist.
	GetStatus(ctx context.Context, id uuid.UUID) (string, error)

	// GetStatusForUpdate is GetStatus with a row lock, so a status
	// checked inside a transaction cannot change before its writes land.
	GetStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error)

	// GetByIDForUpdate is GetByID with a row lock.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error)

	UpdateSection(ctx context.Context, id uuid.UUID, section string, data json.RawMessage) error
	UpdateNotes(ctx context.Context, id uuid.UUID, encryptedNotes string) error
	Close(ctx context.Context, id uuid.UUID, actorID string, at time.Time) error

	// SaveAmendment writes all sections, the notes and the case status
	// of an amended record in one statement.
	SaveAmendment(ctx context.Context, rec *ClinicalRecord) error

	Delete(ctx context.Context, id uuid.UUID) error
}
