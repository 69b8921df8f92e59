package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service exposes the amendment trail. Appends come from the record
// lifecycle inside its amend transaction; reads come from the API.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Append records one amendment. The entry id and timestamp are assigned
// here so callers only supply the facts of the change.
func (s *Service) Append(ctx context.Context, recordID uuid.UUID, actorID, reason string, diff map[string]FieldChange) error {
	entry := &Entry{
		ID:         uuid.New(),
		RecordID:   recordID,
		ActorID:    actorID,
		Reason:     reason,
		Diff:       diff,
		RecordedAt: time.Now().UTC(),
	}
	return s.repo.Append(ctx, entry)
}

// ListByRecord returns the amendment trail for a record, newest first.
func (s *Service) ListByRecord(ctx context.Context, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListByRecord(ctx, recordID, limit, offset)
}
