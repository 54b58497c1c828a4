// Package common defines shared constants and sentinel errors used across
// LedgerVault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Capture-time errors. A required source file is missing or stayed
	// locked beyond the bounded retry window.
	ErrSourceUnavailable = errors.New("source unavailable")

	// Integrity errors. Never retried automatically; treated as corruption.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Destination errors. Unreachable is transport-level and retryable;
	// rejected is auth/quota and goes straight to the operator.
	ErrDestinationUnreachable = errors.New("destination unreachable")
	ErrDestinationRejected    = errors.New("destination rejected")

	// Restore errors. RestoreAborted always means the live store was
	// left untouched.
	ErrRestoreAborted = errors.New("restore aborted")

	// Configuration errors (fail fast at load).
	ErrConfigInvalid = errors.New("invalid configuration")

	// Scheduling errors.
	ErrBusy = errors.New("another backup or restore is in progress")

	// Catalog errors.
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrSnapshotNotVerified = errors.New("snapshot is not verified")
)
