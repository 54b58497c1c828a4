package engine

import (
	"context"

	"github.com/dmitrijs2005/ledgervault/internal/logging"
)

// EventKind classifies operator-facing events.
type EventKind string

const (
	// EventBackupFailed means a whole backup cycle failed.
	EventBackupFailed EventKind = "backup_failed"

	// EventDestinationFailed means one destination of several failed
	// while the cycle itself succeeded.
	EventDestinationFailed EventKind = "destination_failed"

	// EventRestoreAborted means a restore stopped before touching the
	// live store.
	EventRestoreAborted EventKind = "restore_aborted"

	// EventVerifyFailed means an on-demand verification found a stored
	// blob that no longer matches its recorded checksum.
	EventVerifyFailed EventKind = "verify_failed"

	// EventPruneFailed means a destination blob could not be deleted;
	// the snapshot stays in the catalog and the next pass retries.
	EventPruneFailed EventKind = "prune_failed"
)

// Event is a structured notification for the operator channel. The
// surrounding system decides where it goes; the engine only emits it.
type Event struct {
	Kind        EventKind
	SnapshotID  int64
	Destination string
	Message     string
}

// Notifier receives operator-facing events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes events to the structured log. It is the default sink
// when no external channel is wired up.
type LogNotifier struct {
	log logging.Logger
}

func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	n.log.Warn(ctx, "operator event",
		"kind", string(e.Kind),
		"snapshot_id", e.SnapshotID,
		"destination", e.Destination,
		"message", e.Message,
	)
}
