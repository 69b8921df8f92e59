package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists amendment entries. There is deliberately no update
// or delete.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByRecord(ctx context.Context, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}
