package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intraop/intraop/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const recordColumns = `id, surgery_id, case_status, sign_in, time_out, sign_out, post_op,
	surgery_staff, intra_op, counts_sterile, notes, closed_at, closed_by, created_at, updated_at`

// sectionDBColumns whitelists section names against their columns so
// request input is never interpolated into SQL.
var sectionDBColumns = map[string]string{
	SectionSignIn:        "sign_in",
	SectionTimeOut:       "time_out",
	SectionSignOut:       "sign_out",
	SectionPostOp:        "post_op",
	SectionSurgeryStaff:  "surgery_staff",
	SectionIntraOp:       "intra_op",
	SectionCountsSterile: "counts_sterile",
}

// PostgresRepository stores clinical records in the clinical_record
// table. Notes arrive here already encrypted.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PostgresRepository) Create(ctx context.Context, rec *ClinicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_record (id, surgery_id, case_status, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		rec.ID, rec.SurgeryID, rec.CaseStatus, rec.Notes,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM clinical_record WHERE id = $1`, id)
	return scanRecord(row)
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM clinical_record WHERE id = $1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (r *PostgresRepository) ListBySurgery(ctx context.Context, surgeryID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_record WHERE surgery_id = $1`, surgeryID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordColumns+`
		FROM clinical_record
		WHERE surgery_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, surgeryID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []*ClinicalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate records: %w", err)
	}

	return records, total, nil
}

func (r *PostgresRepository) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	return r.status(ctx, id, `SELECT case_status FROM clinical_record WHERE id = $1`)
}

func (r *PostgresRepository) GetStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	return r.status(ctx, id, `SELECT case_status FROM clinical_record WHERE id = $1 FOR UPDATE`)
}

func (r *PostgresRepository) status(ctx context.Context, id uuid.UUID, query string) (string, error) {
	var status string
	err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get record status: %w", err)
	}
	return status, nil
}

func (r *PostgresRepository) UpdateSection(ctx context.Context, id uuid.UUID, section string, data json.RawMessage) error {
	column, ok := sectionDBColumns[section]
	if !ok {
		return fmt.Errorf("%w: unknown section %q", ErrValidation, section)
	}

	tag, err := r.conn(ctx).Exec(ctx,
		fmt.Sprintf(`UPDATE clinical_record SET %s = $2, updated_at = NOW() WHERE id = $1`, column),
		id, data)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateNotes(ctx context.Context, id uuid.UUID, encryptedNotes string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clinical_record SET notes = $2, updated_at = NOW() WHERE id = $1`,
		id, encryptedNotes)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Close(ctx context.Context, id uuid.UUID, actorID string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_record
		SET case_status = $2, closed_at = $3, closed_by = $4, updated_at = NOW()
		WHERE id = $1`,
		id, StatusClosed, at, actorID)
	if err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SaveAmendment(ctx context.Context, rec *ClinicalRecord) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_record
		SET case_status = $2, sign_in = $3, time_out = $4, sign_out = $5, post_op = $6,
		    surgery_staff = $7, intra_op = $8, counts_sterile = $9, notes = $10,
		    updated_at = NOW()
		WHERE id = $1`,
		rec.ID, rec.CaseStatus, rec.SignIn, rec.TimeOut, rec.SignOut, rec.PostOp,
		rec.SurgeryStaff, rec.IntraOp, rec.CountsSterile, rec.Notes)
	if err != nil {
		return fmt.Errorf("save amendment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_record WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*ClinicalRecord, error) {
	var rec ClinicalRecord
	err := row.Scan(
		&rec.ID, &rec.SurgeryID, &rec.CaseStatus,
		&rec.SignIn, &rec.TimeOut, &rec.SignOut, &rec.PostOp,
		&rec.SurgeryStaff, &rec.IntraOp, &rec.CountsSterile,
		&rec.Notes, &rec.ClosedAt, &rec.ClosedBy,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return &rec, nil
}
