package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/dbx"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// every pooled connection to :memory: would see its own database
	db.SetMaxOpenConns(1)

	require.NoError(t, RunMigrations(context.Background(), db))
	return db
}

func testSnapshot(created time.Time) *Snapshot {
	return &Snapshot{
		CreatedAt:           created,
		SourceVersion:       "42",
		ArchiveLabel:        "ledgervault-" + created.Format("20060102-150405") + ".tar.gz",
		SizeBytes:           4096,
		CompressedSizeBytes: 1024,
		Checksum:            "deadbeef",
		Encrypted:           true,
		CompressionLevel:    6,
		Status:              StatusPending,
	}
}

func TestInsertAndGetByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	created := time.Date(2026, 8, 28, 3, 0, 0, 123456789, time.UTC)
	s := testSnapshot(created)
	require.NoError(t, r.Insert(ctx, s))
	require.NotZero(t, s.ID)

	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "42", got.SourceVersion)
	assert.Equal(t, s.ArchiveLabel, got.ArchiveLabel)
	assert.Equal(t, int64(4096), got.SizeBytes)
	assert.Equal(t, int64(1024), got.CompressedSizeBytes)
	assert.True(t, got.Encrypted)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, TierNone, got.Tier)
	assert.Nil(t, got.VerifiedAt)
	assert.Empty(t, got.Replicas)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, common.ErrSnapshotNotFound)
}

func TestMarkVerified(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, s))

	at := time.Date(2026, 8, 28, 3, 1, 0, 0, time.UTC)
	require.NoError(t, r.MarkVerified(ctx, s.ID, at))

	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, at, *got.VerifiedAt)

	// verified is terminal
	assert.Error(t, r.MarkVerified(ctx, s.ID, at))
	assert.Error(t, r.MarkFailed(ctx, s.ID))
}

func TestMarkFailed(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, s))
	require.NoError(t, r.MarkFailed(ctx, s.ID))

	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Nil(t, got.VerifiedAt)

	assert.ErrorIs(t, r.MarkVerified(ctx, 999, time.Now()), common.ErrSnapshotNotFound)
}

func TestSetTier(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, s))

	require.NoError(t, r.SetTier(ctx, s.ID, TierWeekly))
	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, TierWeekly, got.Tier)

	assert.ErrorIs(t, r.SetTier(ctx, 999, TierDaily), common.ErrSnapshotNotFound)
}

func TestReplicas_UpsertAndVerify(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, s))

	require.NoError(t, r.AddReplica(ctx, Replica{
		SnapshotID: s.ID, Destination: "local", Ref: "/var/backups/a.tar.gz",
	}))
	require.NoError(t, r.AddReplica(ctx, Replica{
		SnapshotID: s.ID, Destination: "s3", Ref: "backups/a.tar.gz",
	}))
	// re-recording a destination overwrites the ref
	require.NoError(t, r.AddReplica(ctx, Replica{
		SnapshotID: s.ID, Destination: "local", Ref: "/var/backups/b.tar.gz",
	}))

	at := time.Date(2026, 8, 28, 3, 2, 0, 0, time.UTC)
	require.NoError(t, r.MarkReplicaVerified(ctx, s.ID, "s3", at))

	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Replicas, 2)
	assert.Equal(t, "local", got.Replicas[0].Destination)
	assert.Equal(t, "/var/backups/b.tar.gz", got.Replicas[0].Ref)
	assert.Nil(t, got.Replicas[0].VerifiedAt)
	assert.Equal(t, "s3", got.Replicas[1].Destination)
	require.NotNil(t, got.Replicas[1].VerifiedAt)
	assert.Equal(t, at, *got.Replicas[1].VerifiedAt)

	assert.ErrorIs(t, r.MarkReplicaVerified(ctx, s.ID, "nowhere", at), common.ErrSnapshotNotFound)
}

func TestList_NewestFirstWithReplicas(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	old := testSnapshot(time.Date(2026, 8, 27, 3, 0, 0, 0, time.UTC))
	recent := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, old))
	require.NoError(t, r.Insert(ctx, recent))
	require.NoError(t, r.AddReplica(ctx, Replica{
		SnapshotID: old.ID, Destination: "local", Ref: "/var/backups/old.tar.gz",
	}))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID)
	assert.Equal(t, old.ID, list[1].ID)
	assert.Empty(t, list[0].Replicas)
	require.Len(t, list[1].Replicas, 1)
	assert.Equal(t, "local", list[1].Replicas[0].Destination)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, s))
	require.NoError(t, r.AddReplica(ctx, Replica{
		SnapshotID: s.ID, Destination: "local", Ref: "/var/backups/a.tar.gz",
	}))

	require.NoError(t, r.Delete(ctx, s.ID))

	_, err := r.GetByID(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSnapshotNotFound)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM snapshot_replicas`).Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, r.Delete(ctx, s.ID), common.ErrSnapshotNotFound)
}

func TestDelete_RolledBackWithEnclosingTransaction(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s := testSnapshot(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, r.Insert(ctx, s))
	require.NoError(t, r.AddReplica(ctx, Replica{
		SnapshotID: s.ID, Destination: "local", Ref: "/var/backups/a.tar.gz",
	}))

	abandon := errors.New("abandon")
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := NewSQLiteRepository(tx).Delete(ctx, s.ID); err != nil {
			return err
		}
		return abandon
	})
	assert.ErrorIs(t, err, abandon)

	// both the row and its replicas survived the rollback
	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Replicas, 1)
}
