package chart

import (
	"context"
	"errors"
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

// channelColumns maps channel names to their snapshot table columns.
// Keeping the mapping explicit guards against interpolating request
// input into SQL.
var channelColumns = map[string]string{
	ChannelVitals:        "vitals",
	ChannelBloodPressure: "blood_pressure",
	ChannelRhythm:        "rhythm",
	ChannelTrainOfFour:   "train_of_four",
	ChannelVentilation:   "ventilation",
	ChannelOutputs:       "outputs",
}

// PostgresSnapshotRepository stores snapshots one row per record with a
// jsonb column per channel.
type PostgresSnapshotRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshotRepository(pool *pgxpool.Pool) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{pool: pool}
}

// conn returns the transaction bound to ctx if one is active, otherwise
// the pool. This lets the service run status checks and channel writes
// atomically without the repository knowing about transactions.
func (r *PostgresSnapshotRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PostgresSnapshotRepository) Get(ctx context.Context, recordID uuid.UUID) (*Snapshot, error) {
	snap := NewSnapshot(recordID)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT vitals, blood_pressure, rhythm, train_of_four, ventilation, outputs,
		       created_at, updated_at
		FROM clinical_snapshot
		WHERE record_id = $1`, recordID).Scan(
		&snap.Vitals, &snap.BloodPressure, &snap.Rhythm, &snap.TrainOfFour,
		&snap.Ventilation, &snap.Outputs, &snap.CreatedAt, &snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (r *PostgresSnapshotRepository) Create(ctx context.Context, snap *Snapshot) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_snapshot (record_id, vitals, blood_pressure, rhythm, train_of_four, ventilation, outputs)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (record_id) DO NOTHING`,
		snap.RecordID, snap.Vitals, snap.BloodPressure, snap.Rhythm,
		snap.TrainOfFour, snap.Ventilation, snap.Outputs,
	)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

func (r *PostgresSnapshotRepository) UpdateChannels(ctx context.Context, snap *Snapshot, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}

	query := "UPDATE clinical_snapshot SET updated_at = NOW()"
	args := []any{snap.RecordID}
	for _, channel := range channels {
		column, ok := channelColumns[channel]
		if !ok {
			return fmt.Errorf("unknown snapshot channel %q", channel)
		}
		args = append(args, r.channelValue(snap, channel))
		query += fmt.Sprintf(", %s = $%d", column, len(args))
	}
	query += " WHERE record_id = $1"

	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update snapshot channels: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSnapshotRepository) channelValue(snap *Snapshot, channel string) any {
	switch channel {
	case ChannelVitals:
		return snap.Vitals
	case ChannelBloodPressure:
		return snap.BloodPressure
	case ChannelRhythm:
		return snap.Rhythm
	case ChannelTrainOfFour:
		return snap.TrainOfFour
	case ChannelVentilation:
		return snap.Ventilation
	case ChannelOutputs:
		return snap.Outputs
	default:
		return nil
	}
}
