package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/ledgervault/internal/catalog/migrations"
	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/dbx"
)

// timeLayout is the canonical timestamp encoding in the catalog database.
const timeLayout = time.RFC3339Nano

// SQLiteRepository implements Repository over a dbx.DBTX
// (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a repository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Insert stores a new snapshot row and fills in s.ID.
func (r *SQLiteRepository) Insert(ctx context.Context, s *Snapshot) error {
	query := `INSERT INTO snapshots
		(created_at, source_version, archive_label, size_bytes, compressed_size_bytes,
		 checksum, encrypted, compression_level, tier, status, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		encodeTime(s.CreatedAt), s.SourceVersion, s.ArchiveLabel,
		s.SizeBytes, s.CompressedSizeBytes, s.Checksum, s.Encrypted,
		s.CompressionLevel, string(s.Tier), string(s.Status), encodeTimePtr(s.VerifiedAt))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted id: %w", err)
	}
	s.ID = id
	return nil
}

func scanSnapshot(row interface{ Scan(dest ...any) error }) (*Snapshot, error) {
	var s Snapshot
	var createdAt string
	var verifiedAt sql.NullString
	err := row.Scan(&s.ID, &createdAt, &s.SourceVersion, &s.ArchiveLabel,
		&s.SizeBytes, &s.CompressedSizeBytes, &s.Checksum, &s.Encrypted,
		&s.CompressionLevel, &s.Tier, &s.Status, &verifiedAt)
	if err != nil {
		return nil, err
	}
	if s.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	if s.VerifiedAt, err = decodeTimePtr(verifiedAt); err != nil {
		return nil, fmt.Errorf("bad verified_at: %w", err)
	}
	return &s, nil
}

const snapshotColumns = `id, created_at, source_version, archive_label, size_bytes,
	compressed_size_bytes, checksum, encrypted, compression_level, tier, status, verified_at`

// GetByID loads one snapshot with its replicas.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id=?`
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshot: %w", err)
	}
	replicas, err := r.replicasFor(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Replicas = replicas
	return s, nil
}

// List returns all snapshots newest-first, replicas included.
func (r *SQLiteRepository) List(ctx context.Context) ([]Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshots: %w", err)
	}
	defer rows.Close()

	var result []Snapshot
	index := map[int64]int{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		index[s.ID] = len(result)
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	replicas, err := r.allReplicas(ctx)
	if err != nil {
		return nil, err
	}
	for _, rep := range replicas {
		if i, ok := index[rep.SnapshotID]; ok {
			result[i].Replicas = append(result[i].Replicas, rep)
		}
	}
	return result, nil
}

func (r *SQLiteRepository) replicasFor(ctx context.Context, snapshotID int64) ([]Replica, error) {
	query := `SELECT snapshot_id, destination, ref, verified_at
		FROM snapshot_replicas WHERE snapshot_id=? ORDER BY destination`
	rows, err := r.db.QueryContext(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to select replicas: %w", err)
	}
	defer rows.Close()
	return scanReplicas(rows)
}

func (r *SQLiteRepository) allReplicas(ctx context.Context) ([]Replica, error) {
	query := `SELECT snapshot_id, destination, ref, verified_at
		FROM snapshot_replicas ORDER BY snapshot_id, destination`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select replicas: %w", err)
	}
	defer rows.Close()
	return scanReplicas(rows)
}

func scanReplicas(rows *sql.Rows) ([]Replica, error) {
	var result []Replica
	for rows.Next() {
		var rep Replica
		var verifiedAt sql.NullString
		if err := rows.Scan(&rep.SnapshotID, &rep.Destination, &rep.Ref, &verifiedAt); err != nil {
			return nil, err
		}
		var err error
		if rep.VerifiedAt, err = decodeTimePtr(verifiedAt); err != nil {
			return nil, fmt.Errorf("bad verified_at: %w", err)
		}
		result = append(result, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkVerified transitions a pending snapshot to verified. The transition is
// guarded in SQL so a snapshot can never be verified twice or from failed.
func (r *SQLiteRepository) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE snapshots SET status=?, verified_at=? WHERE id=? AND status=?`
	res, err := r.db.ExecContext(ctx, query,
		string(StatusVerified), encodeTime(at), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark snapshot verified: %w", err)
	}
	return r.checkTransition(ctx, res, id, StatusVerified)
}

// MarkFailed transitions a pending snapshot to failed.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64) error {
	query := `UPDATE snapshots SET status=? WHERE id=? AND status=?`
	res, err := r.db.ExecContext(ctx, query, string(StatusFailed), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark snapshot failed: %w", err)
	}
	return r.checkTransition(ctx, res, id, StatusFailed)
}

func (r *SQLiteRepository) checkTransition(ctx context.Context, res sql.Result, id int64, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}
	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM snapshots WHERE id=?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrSnapshotNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to select snapshot status: %w", err)
	}
	return fmt.Errorf("invalid snapshot transition: %s -> %s", current, to)
}

// SetTier records the retention tier a kept snapshot represents.
func (r *SQLiteRepository) SetTier(ctx context.Context, id int64, tier Tier) error {
	res, err := r.db.ExecContext(ctx, `UPDATE snapshots SET tier=? WHERE id=?`, string(tier), id)
	if err != nil {
		return fmt.Errorf("failed to set snapshot tier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrSnapshotNotFound
	}
	return nil
}

// AddReplica records one destination's copy of a snapshot blob. Re-recording
// the same destination overwrites the ref; uploads are idempotent.
func (r *SQLiteRepository) AddReplica(ctx context.Context, rep Replica) error {
	query := `INSERT INTO snapshot_replicas (snapshot_id, destination, ref, verified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (snapshot_id, destination)
		DO UPDATE SET ref=excluded.ref, verified_at=excluded.verified_at`
	_, err := r.db.ExecContext(ctx, query,
		rep.SnapshotID, rep.Destination, rep.Ref, encodeTimePtr(rep.VerifiedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert replica: %w", err)
	}
	return nil
}

// MarkReplicaVerified stamps a destination's copy as re-verified.
func (r *SQLiteRepository) MarkReplicaVerified(ctx context.Context, snapshotID int64, destination string, at time.Time) error {
	query := `UPDATE snapshot_replicas SET verified_at=? WHERE snapshot_id=? AND destination=?`
	res, err := r.db.ExecContext(ctx, query, encodeTime(at), snapshotID, destination)
	if err != nil {
		return fmt.Errorf("failed to mark replica verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrSnapshotNotFound
	}
	return nil
}

// Delete removes a snapshot row and its replicas in a single transaction.
// Callers prune destination blobs first; the row disappears last so a crash
// leaves a record behind, never an orphaned blob.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	if db, ok := r.db.(*sql.DB); ok {
		return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return deleteSnapshot(ctx, tx, id)
		})
	}
	// already inside a transaction
	return deleteSnapshot(ctx, r.db, id)
}

func deleteSnapshot(ctx context.Context, q dbx.DBTX, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM snapshot_replicas WHERE snapshot_id=?`, id); err != nil {
		return fmt.Errorf("failed to delete replicas: %w", err)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM snapshots WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrSnapshotNotFound
	}
	return nil
}
