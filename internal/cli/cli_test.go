package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/ledgervault/internal/config"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
	"github.com/dmitrijs2005/ledgervault/internal/retention"
)

func testApp(t *testing.T, input string) (*App, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()

	dbPath := filepath.Join(root, "ledger.db")
	reports := filepath.Join(root, "reports")
	require.NoError(t, os.MkdirAll(reports, 0o770))
	require.NoError(t, os.WriteFile(dbPath, []byte("ledger-rows"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(reports, "jan.csv"), []byte("jan;100"), 0o600))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.WorkDir = filepath.Join(root, "work")
	cfg.DatabasePath = dbPath
	cfg.ReportsDir = reports
	cfg.CatalogPath = filepath.Join(root, "catalog.db")
	cfg.LocalDir = filepath.Join(root, "store")
	cfg.CompressionLevel = 1
	cfg.RetentionKind = string(retention.KindSimple)
	cfg.RetentionMaxCount = 10
	cfg.RetentionDaily, cfg.RetentionWeekly, cfg.RetentionMonthly = 0, 0, 0

	out := &bytes.Buffer{}
	a := &App{
		config: cfg,
		logger: logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		reader: bufio.NewReader(strings.NewReader(input)),
		out:    out,
	}
	return a, out
}

func TestRun_UnknownCommand(t *testing.T) {
	a, out := testApp(t, "")
	err := a.Run(context.Background(), []string{"explode"})
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_NoCommand(t *testing.T) {
	a, out := testApp(t, "")
	assert.Error(t, a.Run(context.Background(), nil))
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_Help(t *testing.T) {
	a, out := testApp(t, "")
	require.NoError(t, a.Run(context.Background(), []string{"help"}))
	assert.Contains(t, out.String(), "restore <id>")
}

func TestRun_MissingID(t *testing.T) {
	a, _ := testApp(t, "")
	assert.Error(t, a.Run(context.Background(), []string{"verify"}))
	assert.Error(t, a.Run(context.Background(), []string{"restore", "twelve"}))
}

func TestBackupAndList(t *testing.T) {
	a, out := testApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"backup"}))
	assert.Contains(t, out.String(), "snapshot 1 created")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"list"}))
	assert.Contains(t, out.String(), "verified")
	assert.Contains(t, out.String(), "local")
}

// stubPassword replaces the terminal prompt and reports whether it was used.
func stubPassword(t *testing.T) *bool {
	t.Helper()
	prompted := false
	orig := readPassword
	readPassword = func(int) ([]byte, error) {
		prompted = true
		return nil, nil
	}
	t.Cleanup(func() { readPassword = orig })
	return &prompted
}

func TestRestore_TypedConfirmationAborts(t *testing.T) {
	prompted := stubPassword(t)

	a, out := testApp(t, "no\n")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"backup"}))

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"restore", "1"}))
	assert.Contains(t, out.String(), "aborted")

	// unencrypted snapshot: no passphrase prompt
	assert.False(t, *prompted)

	// the live store was not touched
	data, err := os.ReadFile(a.config.DatabasePath)
	require.NoError(t, err)
	assert.Equal(t, "ledger-rows", string(data))
}

func TestRestore_ConfirmRemovesRollback(t *testing.T) {
	prompted := stubPassword(t)

	a, out := testApp(t, "restore\nconfirm\n")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"backup"}))
	require.NoError(t, os.WriteFile(a.config.DatabasePath, []byte("mangled"), 0o600))

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"restore", "1"}))
	assert.Contains(t, out.String(), "restore confirmed")

	data, err := os.ReadFile(a.config.DatabasePath)
	require.NoError(t, err)
	assert.Equal(t, "ledger-rows", string(data))
	assert.False(t, *prompted)
}

func TestRestore_PromptsForEncryptedSnapshot(t *testing.T) {
	orig := readPassword
	prompted := false
	readPassword = func(int) ([]byte, error) {
		prompted = true
		return []byte("opening balance"), nil
	}
	t.Cleanup(func() { readPassword = orig })

	a, out := testApp(t, "restore\nconfirm\n")
	a.config.Passphrase = "opening balance"
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"backup"}))

	// no configured passphrase at restore time: the operator is asked
	a.config.Passphrase = ""
	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"restore", "1"}))
	assert.True(t, prompted)
	assert.Contains(t, out.String(), "restore confirmed")
}

func TestVerifyAndPrune(t *testing.T) {
	a, out := testApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"backup"}))

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"verify", "1"}))
	assert.Contains(t, out.String(), "snapshot 1 verified")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"prune"}))
	assert.Contains(t, out.String(), "pruned 0 snapshot(s), 1 kept")
}
