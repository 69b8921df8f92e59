package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intraop/intraop/internal/domain/audit"
	"github.com/intraop/intraop/internal/platform/db"
	"github.com/intraop/intraop/internal/platform/notecrypt"
)

// AuditRecorder appends amendment entries. The record service calls it
// inside the amend transaction so the record change and its trail entry
// commit or roll back together.
type AuditRecorder interface {
	Append(ctx context.Context, recordID uuid.UUID, actorID, reason string, diff map[string]audit.FieldChange) error
}

// Broadcaster fans a section-scoped update out to live viewers of a
// record, skipping the originating session.
type Broadcaster interface {
	Broadcast(recordID, section string, data interface{}, originSessionID string)
}

// CreateInput opens a new record for a surgery.
type CreateInput struct {
	SurgeryID uuid.UUID `json:"surgery_id"`
}

// AmendInput changes a closed record. Reason is mandatory; at least one
// section or the notes must actually change.
type AmendInput struct {
	Reason   string                     `json:"reason"`
	Sections map[string]json.RawMessage `json:"sections"`
	Notes    *string                    `json:"notes"`
}

// Service owns the record lifecycle. Every lifecycle decision re-reads
// the case status under a row lock in the same transaction as its
// writes, so a record cannot close and accept a normal write at once.
type Service struct {
	repo   Repository
	notes  *notecrypt.Service
	audit  AuditRecorder
	tx     db.TxRunner
	events Broadcaster
	logger zerolog.Logger
}

func NewService(repo Repository, notes *notecrypt.Service, auditRec AuditRecorder, tx db.TxRunner, events Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		notes:  notes,
		audit:  auditRec,
		tx:     tx,
		events: events,
		logger: logger,
	}
}

// Create opens a new record for a surgery.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ClinicalRecord, error) {
	if in.SurgeryID == uuid.Nil {
		return nil, fmt.Errorf("%w: surgery_id is required", ErrValidation)
	}

	rec := &ClinicalRecord{
		ID:         uuid.New(),
		SurgeryID:  in.SurgeryID,
		CaseStatus: StatusOpen,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("surgery_id", rec.SurgeryID.String()).
		Msg("clinical record opened")
	return rec, nil
}

// Get returns a record with its notes decrypted.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.decryptNotes(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListBySurgery returns all records for a surgery, newest first.
func (s *Service) ListBySurgery(ctx context.Context, surgeryID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	records, total, err := s.repo.ListBySurgery(ctx, surgeryID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, rec := range records {
		if err := s.decryptNotes(rec); err != nil {
			return nil, 0, err
		}
	}
	return records, total, nil
}

// UpdateSection replaces one section of an open record.
func (s *Service) UpdateSection(ctx context.Context, id uuid.UUID, section string, data json.RawMessage, sessionID string) error {
	if !ValidSection(section) {
		return fmt.Errorf("%w: unknown section %q", ErrValidation, section)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: section body is not valid JSON", ErrValidation)
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.ensureOpenLocked(ctx, id); err != nil {
			return err
		}
		return s.repo.UpdateSection(ctx, id, section, data)
	})
	if err != nil {
		return err
	}

	s.events.Broadcast(id.String(), section, data, sessionID)
	return nil
}

// UpdateNotes replaces the free-text notes of an open record. The body
// is encrypted before it reaches the repository.
func (s *Service) UpdateNotes(ctx context.Context, id uuid.UUID, notes string, sessionID string) error {
	encrypted, err := s.notes.Encrypt(notes)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.ensureOpenLocked(ctx, id); err != nil {
			return err
		}
		return s.repo.UpdateNotes(ctx, id, encrypted)
	})
	if err != nil {
		return err
	}

	s.events.Broadcast(id.String(), "notes", map[string]string{"notes": notes}, sessionID)
	return nil
}

// Close transitions an open record to closed. Closing is idempotent in
// neither direction: a record closes exactly once.
func (s *Service) Close(ctx context.Context, id uuid.UUID, actorID, sessionID string) (*ClinicalRecord, error) {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		status, err := s.repo.GetStatusForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if status != StatusOpen {
			return fmt.Errorf("%w: cannot close a %s record", ErrInvalidState, status)
		}
		return s.repo.Close(ctx, id, actorID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_id", id.String()).
		Str("actor_id", actorID).
		Msg("clinical record closed")
	s.events.Broadcast(id.String(), "status", map[string]string{"case_status": rec.CaseStatus}, sessionID)
	return rec, nil
}

// Amend changes a closed record. The section writes, the status change
// and the audit entry land in one transaction; the diff records the
// state immediately before this amendment.
func (s *Service) Amend(ctx context.Context, id uuid.UUID, in AmendInput, actorID, sessionID string) (*ClinicalRecord, error) {
	if in.Reason == "" {
		return nil, fmt.Errorf("%w: amendment reason is required", ErrValidation)
	}
	if len(in.Sections) == 0 && in.Notes == nil {
		return nil, fmt.Errorf("%w: amendment contains no changes", ErrValidation)
	}
	for section, data := range in.Sections {
		if !ValidSection(section) {
			return nil, fmt.Errorf("%w: unknown section %q", ErrValidation, section)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: section %q body is not valid JSON", ErrValidation, section)
		}
	}

	var rec *ClinicalRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rec.CaseStatus == StatusOpen {
			return fmt.Errorf("%w: record is still open, amend applies to closed records", ErrInvalidState)
		}

		diff := make(map[string]audit.FieldChange)
		for _, section := range SectionNames {
			data, ok := in.Sections[section]
			if !ok {
				continue
			}
			before := rec.Section(section)
			if bytes.Equal(before, data) {
				continue
			}
			diff[section] = audit.FieldChange{Before: rawOrNull(before), After: data}
			rec.SetSection(section, data)
		}
		if in.Notes != nil {
			encrypted, err := s.notes.Encrypt(*in.Notes)
			if err != nil {
				return err
			}
			if encrypted != rec.Notes {
				diff["notes"] = audit.FieldChange{
					Before: mustJSONString(rec.Notes),
					After:  mustJSONString(encrypted),
				}
				rec.Notes = encrypted
			}
		}
		if len(diff) == 0 {
			return fmt.Errorf("%w: amendment contains no changes", ErrValidation)
		}

		rec.CaseStatus = StatusAmended
		if err := s.repo.SaveAmendment(ctx, rec); err != nil {
			return err
		}
		return s.audit.Append(ctx, id, actorID, in.Reason, diff)
	})
	if err != nil {
		return nil, err
	}

	if err := s.decryptNotes(rec); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_id", id.String()).
		Str("actor_id", actorID).
		Msg("clinical record amended")
	s.events.Broadcast(id.String(), "record", rec, sessionID)
	return rec, nil
}

// Delete removes a record. The snapshot goes with it via cascade; the
// amendment trail stays.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorID string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().
		Str("record_id", id.String()).
		Str("actor_id", actorID).
		Msg("clinical record deleted")
	return nil
}

// EnsureExists reports ErrNotFound when the record does not exist.
func (s *Service) EnsureExists(ctx context.Context, id uuid.UUID) error {
	_, err := s.repo.GetStatus(ctx, id)
	return err
}

// EnsureOpen reports ErrRecordClosed when the record is not open. Called
// inside a transaction it takes the row lock, so the status holds until
// the caller's writes commit.
func (s *Service) EnsureOpen(ctx context.Context, id uuid.UUID) error {
	return s.ensureOpenLocked(ctx, id)
}

func (s *Service) ensureOpenLocked(ctx context.Context, id uuid.UUID) error {
	status, err := s.repo.GetStatusForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if status != StatusOpen {
		return fmt.Errorf("%w: record is %s", ErrRecordClosed, status)
	}
	return nil
}

func (s *Service) decryptNotes(rec *ClinicalRecord) error {
	plaintext, err := s.notes.Decrypt(rec.Notes)
	if err != nil {
		return fmt.Errorf("record %s notes: %w", rec.ID, err)
	}
	rec.Notes = plaintext
	return nil
}

func rawOrNull(data json.RawMessage) json.RawMessage {
	if data == nil {
		return json.RawMessage("null")
	}
	return data
}

func mustJSONString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
