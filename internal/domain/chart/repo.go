package chart

import (
	"context"

	"github.com/google/uuid"
)

// SnapshotRepository defines persistence for clinical snapshots. A
// snapshot has exactly one row per record; mutations rewrite only the
// channel columns they touched.
type SnapshotRepository interface {
	// Get returns the snapshot for a record, or ErrNotFound when none
	// has been created yet.
	Get(ctx context.Context, recordID uuid.UUID) (*Snapshot, error)

	// Create inserts an empty snapshot row. Inserting a row that already
	// exists is not an error; the existing row wins.
	Create(ctx context.Context, snap *Snapshot) error

	// UpdateChannels persists the named channels of the snapshot,
	// leaving the other channel columns untouched.
	UpdateChannels(ctx context.Context, snap *Snapshot, channels ...string) error
}
