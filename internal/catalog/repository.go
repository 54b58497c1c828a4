package catalog

import (
	"context"
	"time"
)

// Repository is the persistence surface for snapshot records.
type Repository interface {
	// Insert stores a new snapshot row and fills in its ID.
	Insert(ctx context.Context, s *Snapshot) error

	// GetByID loads one snapshot with its replicas, or
	// common.ErrSnapshotNotFound.
	GetByID(ctx context.Context, id int64) (*Snapshot, error)

	// List returns all snapshots newest-first, replicas included.
	List(ctx context.Context) ([]Snapshot, error)

	// MarkVerified transitions a pending snapshot to verified.
	MarkVerified(ctx context.Context, id int64, at time.Time) error

	// MarkFailed transitions a pending snapshot to failed.
	MarkFailed(ctx context.Context, id int64) error

	// SetTier records the retention tier a kept snapshot represents.
	SetTier(ctx context.Context, id int64, tier Tier) error

	// AddReplica records one destination's copy of a snapshot blob.
	AddReplica(ctx context.Context, r Replica) error

	// MarkReplicaVerified stamps a destination's copy as re-verified.
	MarkReplicaVerified(ctx context.Context, snapshotID int64, destination string, at time.Time) error

	// Delete removes a snapshot row and its replicas.
	Delete(ctx context.Context, id int64) error
}
