package audit

import (
	"context"
	"fmt"

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

// PostgresRepository stores amendment entries. The table carries no
// foreign key to the record so the trail survives record deletion.
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

func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO amendment_audit (id, record_id, actor_id, reason, diff, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RecordID, entry.ActorID, entry.Reason, entry.Diff, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM amendment_audit WHERE record_id = $1`, recordID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, record_id, actor_id, reason, diff, recorded_at
		FROM amendment_audit
		WHERE record_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3`, recordID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.ActorID, &e.Reason, &e.Diff, &e.RecordedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, total, nil
}
