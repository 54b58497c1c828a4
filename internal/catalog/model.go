// Package catalog persists the Snapshot records that are the durable record
// of truth for what backups exist and their state.
package catalog

import "time"

// Status is the lifecycle state of a snapshot. Transitions are
// pending → verified or pending → failed; verified and failed are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// Tier is the retention bucket a snapshot currently represents in the
// grandfather-father-son scheme.
type Tier string

const (
	TierNone    Tier = ""
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
)

// Snapshot is an immutable record of one backup attempt. Only Status, Tier
// and VerifiedAt ever change after insertion; pruning deletes rows outright.
type Snapshot struct {
	// ID is monotonically increasing and unique.
	ID int64

	// CreatedAt is the capture timestamp, UTC, never mutated.
	CreatedAt time.Time

	// SourceVersion is the schema/data version of the live store at
	// capture time.
	SourceVersion string

	// ArchiveLabel is the logical blob name used at every destination.
	ArchiveLabel string

	SizeBytes           int64
	CompressedSizeBytes int64

	// Checksum is the hex SHA-256 of the stored blob bytes — the
	// encrypted bytes when Encrypted is set, the plain archive otherwise.
	Checksum string

	Encrypted        bool
	CompressionLevel int

	Tier   Tier
	Status Status

	// VerifiedAt is set only on successful post-upload verification.
	VerifiedAt *time.Time

	// Replicas lists where the blob landed, one entry per destination.
	Replicas []Replica
}

// Replica is one destination's copy of a snapshot blob.
type Replica struct {
	SnapshotID  int64
	Destination string
	Ref         string

	// VerifiedAt is set when this destination's copy independently
	// re-verified against the recorded checksum.
	VerifiedAt *time.Time
}

// Verified reports whether the snapshot is a restore candidate.
func (s *Snapshot) Verified() bool {
	return s.Status == StatusVerified
}

// VerifiedReplicas returns the replicas whose stored copies re-verified.
func (s *Snapshot) VerifiedReplicas() []Replica {
	var out []Replica
	for _, r := range s.Replicas {
		if r.VerifiedAt != nil {
			out = append(out, r)
		}
	}
	return out
}
