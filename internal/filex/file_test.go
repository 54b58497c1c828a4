package filex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// second call is a no-op
	require.NoError(t, EnsureDir(dir))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")

	content := []byte("ledger bytes")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	require.NoError(t, CopyFile(context.Background(), src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.Error(t, err)
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("new"), 0o600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicReplaceFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "restored.db")
	dst := filepath.Join(dir, "live.db")

	require.NoError(t, os.WriteFile(src, []byte("restored"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("live"), 0o600))

	require.NoError(t, AtomicReplaceFile(context.Background(), src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("restored"), got)
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "reports")
	dst := filepath.Join(dir, "copy")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "2026", "01"), 0o770))
	require.NoError(t, os.WriteFile(filepath.Join(src, "summary.csv"), []byte("total;100"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "2026", "01", "jan.csv"), []byte("jan;42"), 0o600))

	require.NoError(t, CopyTree(context.Background(), src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "summary.csv"))
	require.NoError(t, err)
	assert.Equal(t, []byte("total;100"), got)

	got, err = os.ReadFile(filepath.Join(dst, "2026", "01", "jan.csv"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jan;42"), got)
}

func TestCopyTree_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyTree(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.Error(t, err)
}
