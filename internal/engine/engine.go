// Package engine coordinates capture, verification, distribution, retention
// and restore into the backup workflows the rest of the system calls.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/ledgervault/internal/archive"
	"github.com/dmitrijs2005/ledgervault/internal/catalog"
	"github.com/dmitrijs2005/ledgervault/internal/checksum"
	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/cryptox"
	"github.com/dmitrijs2005/ledgervault/internal/destination"
	"github.com/dmitrijs2005/ledgervault/internal/filex"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
	"github.com/dmitrijs2005/ledgervault/internal/retention"
)

// stage is the engine's position in a backup cycle. It exists for logging;
// mutual exclusion comes from the advisory lock, not from stage checks.
type stage string

const (
	stageIdle         stage = "idle"
	stageCapturing    stage = "capturing"
	stageVerifying    stage = "verifying"
	stageDistributing stage = "distributing"
	stagePruning      stage = "pruning"
	stageFailed       stage = "failed"
)

// RestoreOperation is the transient record of one restore: which snapshot
// went in and where the pre-restore live state is kept. The rollback copy
// survives until ConfirmRestore.
type RestoreOperation struct {
	ID           string
	SnapshotID   int64
	RollbackPath string
	StartedAt    time.Time
}

// Options configures an Engine.
type Options struct {
	Log      logging.Logger
	Notifier Notifier
	Repo     catalog.Repository

	// Destinations receive every snapshot blob. At least one is required.
	Destinations []destination.Adapter
	Retry        destination.RetryPolicy

	Policy retention.Policy

	// Sources are the live files and directories a backup captures.
	Sources []archive.Source

	// WorkDir holds cycle scratch space and rollback copies.
	WorkDir string

	CompressionLevel int

	// Passphrase enables encryption at rest. Empty means plain archives.
	Passphrase []byte

	// VerifyAfterUpload re-downloads each uploaded blob and checks it
	// against the recorded checksum before counting the copy as verified.
	VerifyAfterUpload bool

	// SourceVersion reports the schema/data version of the live store at
	// capture time. Optional.
	SourceVersion func(ctx context.Context) (string, error)
}

// Engine is the backup orchestrator. All state transitions go through it;
// destinations own nothing beyond the bytes they are told to store.
type Engine struct {
	log      logging.Logger
	notifier Notifier
	repo     catalog.Repository

	destinations []destination.Adapter
	retry        destination.RetryPolicy
	policy       retention.Policy
	sources      []archive.Source
	builder      *archive.Builder

	workDir           string
	compressionLevel  int
	passphrase        []byte
	verifyAfterUpload bool
	sourceVersion     func(ctx context.Context) (string, error)

	// mu is the advisory lock: at most one backup, restore, verify or
	// prune runs at a time. Callers get ErrBusy instead of queueing.
	mu      sync.Mutex
	stage   stage
	pending map[string]*RestoreOperation

	now func() time.Time
}

// New validates opts and constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("%w: logger is required", common.ErrConfigInvalid)
	}
	if opts.Repo == nil {
		return nil, fmt.Errorf("%w: catalog repository is required", common.ErrConfigInvalid)
	}
	if len(opts.Destinations) == 0 {
		return nil, fmt.Errorf("%w: at least one destination is required", common.ErrConfigInvalid)
	}
	if len(opts.Sources) == 0 {
		return nil, fmt.Errorf("%w: at least one backup source is required", common.ErrConfigInvalid)
	}
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("%w: work dir is required", common.ErrConfigInvalid)
	}
	if opts.CompressionLevel < 0 || opts.CompressionLevel > 9 {
		return nil, fmt.Errorf("%w: compression level %d out of range 0..9", common.ErrConfigInvalid, opts.CompressionLevel)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(opts.Log)
	}
	retryPolicy := opts.Retry
	if retryPolicy.MaxAttempts == 0 {
		retryPolicy = destination.DefaultRetryPolicy()
	}
	sourceVersion := opts.SourceVersion
	if sourceVersion == nil {
		sourceVersion = func(context.Context) (string, error) { return "", nil }
	}

	return &Engine{
		log:               opts.Log,
		notifier:          notifier,
		repo:              opts.Repo,
		destinations:      opts.Destinations,
		retry:             retryPolicy,
		policy:            opts.Policy,
		sources:           opts.Sources,
		builder:           archive.NewBuilder(opts.Log),
		workDir:           opts.WorkDir,
		compressionLevel:  opts.CompressionLevel,
		passphrase:        opts.Passphrase,
		verifyAfterUpload: opts.VerifyAfterUpload,
		sourceVersion:     sourceVersion,
		stage:             stageIdle,
		pending:           map[string]*RestoreOperation{},
		now:               time.Now,
	}, nil
}

func (e *Engine) setStage(ctx context.Context, s stage) {
	e.stage = s
	e.log.Debug(ctx, "stage transition", "stage", string(s))
}

func (e *Engine) adapter(name string) destination.Adapter {
	for _, d := range e.destinations {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// ListSnapshots returns the catalog newest-first. It takes no advisory lock
// so listing never blocks behind a running cycle.
func (e *Engine) ListSnapshots(ctx context.Context) ([]catalog.Snapshot, error) {
	return e.repo.List(ctx)
}

// GetSnapshot returns one catalog record with its replicas, or
// common.ErrSnapshotNotFound.
func (e *Engine) GetSnapshot(ctx context.Context, id int64) (*catalog.Snapshot, error) {
	return e.repo.GetByID(ctx, id)
}

// CreateBackup runs one full backup cycle: capture, verify, distribute to
// every destination, then prune. The snapshot ends verified when the blob
// checksum holds and at least one destination took the copy; it ends failed
// when every destination refused it. Partial destination failure degrades
// to success with an operator event per failed destination.
func (e *Engine) CreateBackup(ctx context.Context) (*catalog.Snapshot, error) {
	if !e.mu.TryLock() {
		return nil, common.ErrBusy
	}
	defer e.mu.Unlock()

	snap, err := e.runCycle(ctx)
	if err != nil {
		e.setStage(ctx, stageFailed)
		e.setStage(ctx, stageIdle)
		return nil, err
	}
	e.setStage(ctx, stageIdle)
	return snap, nil
}

func (e *Engine) runCycle(ctx context.Context) (*catalog.Snapshot, error) {
	startedAt := e.now().UTC()
	label := fmt.Sprintf("ledgervault-%s-%s.tar.gz",
		startedAt.Format("20060102-150405"), uuid.NewString()[:8])
	log := e.log.With("label", label)

	if err := filex.EnsureDir(e.workDir); err != nil {
		return nil, err
	}
	scratch, err := os.MkdirTemp(e.workDir, "cycle-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	e.setStage(ctx, stageCapturing)

	version, err := e.sourceVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source version: %w", err)
	}
	archivePath := filepath.Join(scratch, "archive.tar.gz")
	manifest, err := e.builder.Build(ctx, e.sources, e.compressionLevel, version, archivePath)
	if err != nil {
		e.notifier.Notify(ctx, Event{Kind: EventBackupFailed, Message: err.Error()})
		return nil, err
	}

	blob, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	encrypted := len(e.passphrase) > 0
	if encrypted {
		if blob, err = cryptox.Seal(blob, e.passphrase); err != nil {
			return nil, fmt.Errorf("encrypt archive: %w", err)
		}
	}

	e.setStage(ctx, stageVerifying)

	sum := checksum.Digest(blob)
	blobPath := filepath.Join(scratch, label)
	if err := filex.AtomicWriteFile(blobPath, blob, 0o600); err != nil {
		return nil, err
	}
	ok, err := checksum.VerifyFile(blobPath, sum)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.notifier.Notify(ctx, Event{Kind: EventBackupFailed, Message: "staged blob failed checksum"})
		return nil, fmt.Errorf("%w: staged blob %s", common.ErrChecksumMismatch, label)
	}

	snap := &catalog.Snapshot{
		CreatedAt:           startedAt,
		SourceVersion:       version,
		ArchiveLabel:        label,
		SizeBytes:           manifest.TotalSizeBytes,
		CompressedSizeBytes: int64(len(blob)),
		Checksum:            sum,
		Encrypted:           encrypted,
		CompressionLevel:    e.compressionLevel,
		Status:              catalog.StatusPending,
	}
	if err := e.repo.Insert(ctx, snap); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.setStage(ctx, stageDistributing)

	succeeded := 0
	for _, dest := range e.destinations {
		if ctx.Err() != nil {
			// cancelled mid-cycle: uploaded copies stay, the catalog
			// row stays pending and never shows up as a restore
			// candidate
			return nil, ctx.Err()
		}
		ref, err := e.distribute(ctx, dest, label, blobPath, sum)
		if err != nil {
			log.Error(ctx, "destination failed", "destination", dest.Name(), "error", err)
			e.notifier.Notify(ctx, Event{
				Kind:        EventDestinationFailed,
				SnapshotID:  snap.ID,
				Destination: dest.Name(),
				Message:     err.Error(),
			})
			continue
		}
		rep := catalog.Replica{SnapshotID: snap.ID, Destination: dest.Name(), Ref: ref}
		if e.verifyAfterUpload {
			at := e.now().UTC()
			rep.VerifiedAt = &at
		}
		if err := e.repo.AddReplica(ctx, rep); err != nil {
			return nil, err
		}
		succeeded++
	}

	if succeeded == 0 {
		if err := e.repo.MarkFailed(ctx, snap.ID); err != nil {
			log.Error(ctx, "failed to record failed snapshot", "error", err)
		}
		e.notifier.Notify(ctx, Event{
			Kind:       EventBackupFailed,
			SnapshotID: snap.ID,
			Message:    "every destination failed",
		})
		return nil, fmt.Errorf("backup %s: every destination failed", label)
	}
	if err := e.repo.MarkVerified(ctx, snap.ID, e.now().UTC()); err != nil {
		return nil, err
	}

	e.setStage(ctx, stagePruning)
	if err := e.pruneLocked(ctx); err != nil {
		// pruning problems never fail a completed backup cycle
		log.Warn(ctx, "pruning after backup failed", "error", err)
	}

	result, err := e.repo.GetByID(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "backup cycle finished",
		"snapshot_id", result.ID,
		"size_bytes", result.SizeBytes,
		"compressed_size_bytes", result.CompressedSizeBytes,
		"destinations_ok", succeeded,
		"destinations_total", len(e.destinations),
	)
	return result, nil
}

// distribute uploads one blob to one destination and, when configured,
// re-downloads it to prove the stored copy matches the recorded checksum.
func (e *Engine) distribute(ctx context.Context, dest destination.Adapter, label, blobPath, sum string) (string, error) {
	var ref string
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		r, err := dest.Upload(ctx, label, blobPath)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})
	if err != nil {
		return "", err
	}
	if !e.verifyAfterUpload {
		return ref, nil
	}

	blob, err := e.download(ctx, dest, ref)
	if err != nil {
		return "", err
	}
	if !checksum.Verify(blob, sum) {
		return "", fmt.Errorf("%w: stored copy at %s", common.ErrChecksumMismatch, dest.Name())
	}
	return ref, nil
}

func (e *Engine) download(ctx context.Context, dest destination.Adapter, ref string) ([]byte, error) {
	var blob []byte
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		b, err := dest.Download(ctx, ref)
		if err != nil {
			return err
		}
		blob = b
		return nil
	})
	return blob, err
}

// Restore replaces the live store with the contents of a verified snapshot.
// All verification happens before the first mutation; any failure up to that
// point aborts with ErrRestoreAborted and the live store untouched. The
// pre-restore state is copied aside and kept until ConfirmRestore.
func (e *Engine) Restore(ctx context.Context, snapshotID int64) (*RestoreOperation, error) {
	if !e.mu.TryLock() {
		return nil, common.ErrBusy
	}
	defer e.mu.Unlock()

	snap, err := e.repo.GetByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if !snap.Verified() {
		return nil, fmt.Errorf("%w: snapshot %d is %s", common.ErrSnapshotNotVerified, snapshotID, snap.Status)
	}

	abort := func(err error) (*RestoreOperation, error) {
		e.notifier.Notify(ctx, Event{
			Kind:       EventRestoreAborted,
			SnapshotID: snapshotID,
			Message:    err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", common.ErrRestoreAborted, err)
	}

	blob, err := e.fetchVerified(ctx, snap)
	if err != nil {
		return nil, err
	}

	if snap.Encrypted {
		if len(e.passphrase) == 0 {
			return abort(fmt.Errorf("snapshot %d is encrypted and no passphrase is configured", snapshotID))
		}
		if blob, err = cryptox.Open(blob, e.passphrase); err != nil {
			return abort(fmt.Errorf("decrypt: %w", err))
		}
	}

	scratch, err := os.MkdirTemp(e.workDir, "restore-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	archivePath := filepath.Join(scratch, "archive.tar.gz")
	if err := filex.AtomicWriteFile(archivePath, blob, 0o600); err != nil {
		return nil, err
	}
	unpacked := filepath.Join(scratch, "unpacked")
	if _, err := archive.Unpack(ctx, archivePath, unpacked); err != nil {
		return abort(err)
	}

	op := &RestoreOperation{
		ID:         uuid.NewString(),
		SnapshotID: snapshotID,
		StartedAt:  e.now().UTC(),
	}
	op.RollbackPath = filepath.Join(e.workDir, "rollback",
		fmt.Sprintf("%s-%s", op.StartedAt.Format("20060102-150405"), op.ID[:8]))

	// rollback copies first: everything up to here leaves the live store
	// untouched
	if err := e.copyRollback(ctx, op.RollbackPath); err != nil {
		_ = os.RemoveAll(op.RollbackPath)
		return abort(fmt.Errorf("rollback copy: %w", err))
	}

	if err := e.swapSources(ctx, unpacked); err != nil {
		return nil, fmt.Errorf("restore of snapshot %d failed after partial swap, pre-restore state kept at %s: %w",
			snapshotID, op.RollbackPath, err)
	}

	e.pending[op.ID] = op
	e.log.Info(ctx, "restore finished",
		"snapshot_id", snapshotID,
		"operation_id", op.ID,
		"rollback_path", op.RollbackPath,
	)
	return op, nil
}

// fetchVerified downloads the snapshot blob from its replicas, preferring
// copies that re-verified at upload time, and checks it against the recorded
// checksum. Failing every replica aborts the restore.
func (e *Engine) fetchVerified(ctx context.Context, snap *catalog.Snapshot) ([]byte, error) {
	replicas := append(snap.VerifiedReplicas(), snap.Replicas...)

	var lastErr error = fmt.Errorf("snapshot %d has no replicas", snap.ID)
	tried := map[string]bool{}
	for _, rep := range replicas {
		if tried[rep.Destination] {
			continue
		}
		tried[rep.Destination] = true

		dest := e.adapter(rep.Destination)
		if dest == nil {
			lastErr = fmt.Errorf("destination %q is not configured", rep.Destination)
			continue
		}
		blob, err := e.download(ctx, dest, rep.Ref)
		if err != nil {
			lastErr = err
			continue
		}
		if !checksum.Verify(blob, snap.Checksum) {
			lastErr = fmt.Errorf("%w: copy at %s", common.ErrChecksumMismatch, rep.Destination)
			e.notifier.Notify(ctx, Event{
				Kind:        EventVerifyFailed,
				SnapshotID:  snap.ID,
				Destination: rep.Destination,
				Message:     lastErr.Error(),
			})
			continue
		}
		return blob, nil
	}

	e.notifier.Notify(ctx, Event{
		Kind:       EventRestoreAborted,
		SnapshotID: snap.ID,
		Message:    lastErr.Error(),
	})
	return nil, fmt.Errorf("%w: %v", common.ErrRestoreAborted, lastErr)
}

// copyRollback copies the current live state of every source under dir.
func (e *Engine) copyRollback(ctx context.Context, dir string) error {
	for _, src := range e.sources {
		info, err := os.Stat(src.Path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, src.Label)
		if info.IsDir() {
			if err := filex.CopyTree(ctx, src.Path, target); err != nil {
				return err
			}
			continue
		}
		if err := filex.EnsureDir(target); err != nil {
			return err
		}
		if err := filex.CopyFile(ctx, src.Path, filepath.Join(target, filepath.Base(src.Path))); err != nil {
			return err
		}
	}
	return nil
}

// swapSources installs the unpacked tree over the live sources. File sources
// swap via write-to-temp-then-rename; directory sources are staged next to
// the live directory so the final renames happen on the live filesystem.
func (e *Engine) swapSources(ctx context.Context, unpacked string) error {
	for _, src := range e.sources {
		staged := filepath.Join(unpacked, src.Label)
		if _, err := os.Stat(staged); os.IsNotExist(err) {
			// archive predates this source
			continue
		}

		if restored, ok := stagedFile(staged, src.Path); ok {
			if err := filex.EnsureDir(filepath.Dir(src.Path)); err != nil {
				return err
			}
			if err := filex.AtomicReplaceFile(ctx, restored, src.Path); err != nil {
				return err
			}
			continue
		}

		if err := e.swapDir(ctx, staged, src.Path); err != nil {
			return err
		}
	}
	return nil
}

// stagedFile reports whether staged holds a single-file source, returning
// the path of the file to install. The live path decides the shape while it
// exists; when it is gone the staged content does: a lone regular file named
// after the live path means a file source.
func stagedFile(staged, live string) (string, bool) {
	if info, err := os.Stat(live); err == nil {
		if info.IsDir() {
			return "", false
		}
		return filepath.Join(staged, filepath.Base(live)), true
	}
	entries, err := os.ReadDir(staged)
	if err != nil || len(entries) != 1 {
		return "", false
	}
	only := entries[0]
	if only.IsDir() || only.Name() != filepath.Base(live) {
		return "", false
	}
	return filepath.Join(staged, only.Name()), true
}

func (e *Engine) swapDir(ctx context.Context, staged, live string) error {
	tmp := live + ".restoring"
	_ = os.RemoveAll(tmp)
	if err := filex.CopyTree(ctx, staged, tmp); err != nil {
		return err
	}

	old := live + ".old"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(live); err == nil {
		if err := os.Rename(live, old); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, live); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

// ConfirmRestore declares a restored state healthy and discards its
// rollback copy.
func (e *Engine) ConfirmRestore(ctx context.Context, operationID string) error {
	if !e.mu.TryLock() {
		return common.ErrBusy
	}
	defer e.mu.Unlock()

	op, ok := e.pending[operationID]
	if !ok {
		return fmt.Errorf("unknown restore operation %q", operationID)
	}
	if err := os.RemoveAll(op.RollbackPath); err != nil {
		return fmt.Errorf("remove rollback copy: %w", err)
	}
	delete(e.pending, operationID)
	e.log.Info(ctx, "restore confirmed", "operation_id", operationID, "snapshot_id", op.SnapshotID)
	return nil
}

// Verify re-downloads every replica of a snapshot and re-checks it against
// the recorded checksum, refreshing the replica verification stamps. It
// fails with ErrChecksumMismatch when no stored copy matches.
func (e *Engine) Verify(ctx context.Context, snapshotID int64) error {
	if !e.mu.TryLock() {
		return common.ErrBusy
	}
	defer e.mu.Unlock()

	snap, err := e.repo.GetByID(ctx, snapshotID)
	if err != nil {
		return err
	}
	if len(snap.Replicas) == 0 {
		return fmt.Errorf("snapshot %d has no replicas to verify", snapshotID)
	}

	healthy := 0
	for _, rep := range snap.Replicas {
		dest := e.adapter(rep.Destination)
		if dest == nil {
			e.log.Warn(ctx, "replica at unconfigured destination", "destination", rep.Destination)
			continue
		}
		blob, err := e.download(ctx, dest, rep.Ref)
		if err == nil && checksum.Verify(blob, snap.Checksum) {
			if err := e.repo.MarkReplicaVerified(ctx, snap.ID, rep.Destination, e.now().UTC()); err != nil {
				return err
			}
			healthy++
			continue
		}
		msg := fmt.Sprintf("%v", err)
		if err == nil {
			msg = "stored copy does not match recorded checksum"
		}
		e.notifier.Notify(ctx, Event{
			Kind:        EventVerifyFailed,
			SnapshotID:  snap.ID,
			Destination: rep.Destination,
			Message:     msg,
		})
	}

	if healthy == 0 {
		return fmt.Errorf("%w: snapshot %d failed verification at every destination", common.ErrChecksumMismatch, snapshotID)
	}
	e.log.Info(ctx, "verification finished", "snapshot_id", snapshotID, "replicas_ok", healthy)
	return nil
}

// Prune applies the retention policy: destination blobs go first, catalog
// rows second, so an interrupted pass leaves re-prunable orphan blobs rather
// than rows whose blobs are gone.
func (e *Engine) Prune(ctx context.Context) error {
	if !e.mu.TryLock() {
		return common.ErrBusy
	}
	defer e.mu.Unlock()

	e.setStage(ctx, stagePruning)
	defer e.setStage(ctx, stageIdle)
	return e.pruneLocked(ctx)
}

func (e *Engine) pruneLocked(ctx context.Context) error {
	snaps, err := e.repo.List(ctx)
	if err != nil {
		return err
	}

	res := retention.SelectForPruning(snaps, e.policy, e.now().UTC())

	current := map[int64]catalog.Tier{}
	for _, s := range snaps {
		current[s.ID] = s.Tier
	}
	for id, tier := range res.Tiers {
		if current[id] == tier {
			continue
		}
		if err := e.repo.SetTier(ctx, id, tier); err != nil {
			return err
		}
	}

	for _, s := range res.Prune {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.deleteReplicas(ctx, s) {
			// some blob survived; keep the row so the next pass retries
			continue
		}
		if err := e.repo.Delete(ctx, s.ID); err != nil {
			return err
		}
		e.log.Info(ctx, "snapshot pruned", "snapshot_id", s.ID, "label", s.ArchiveLabel)
	}
	return nil
}

// deleteReplicas removes a snapshot's blobs from every destination and
// reports whether all of them are gone.
func (e *Engine) deleteReplicas(ctx context.Context, s catalog.Snapshot) bool {
	allGone := true
	for _, rep := range s.Replicas {
		dest := e.adapter(rep.Destination)
		if dest == nil {
			// the destination was removed from configuration; its blob
			// is beyond reach and cannot hold the row forever
			e.log.Warn(ctx, "pruning replica at unconfigured destination",
				"snapshot_id", s.ID, "destination", rep.Destination)
			continue
		}
		err := e.retry.Do(ctx, func(ctx context.Context) error {
			return dest.Delete(ctx, rep.Ref)
		})
		if err != nil {
			allGone = false
			e.notifier.Notify(ctx, Event{
				Kind:        EventPruneFailed,
				SnapshotID:  s.ID,
				Destination: rep.Destination,
				Message:     err.Error(),
			})
		}
	}
	return allGone
}
