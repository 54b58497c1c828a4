package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/retention"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "./ledgervault-work", c.WorkDir)
	assert.Equal(t, "./ledger.db", c.DatabasePath)
	assert.Equal(t, "./reports", c.ReportsDir)
	assert.Equal(t, "./ledgervault-catalog.db", c.CatalogPath)
	assert.Equal(t, 6, c.CompressionLevel)
	assert.True(t, c.VerifyAfterUpload)
	assert.Equal(t, string(retention.KindTiered), c.RetentionKind)
	assert.Equal(t, 7, c.RetentionDaily)
	assert.Equal(t, 4, c.RetentionWeekly)
	assert.Equal(t, 12, c.RetentionMonthly)
	assert.Equal(t, "./ledgervault-store", c.LocalDir)
	assert.Equal(t, "us-east-1", c.S3Region)
	assert.Equal(t, "0 3 * * *", c.BackupSchedule)

	assert.NoError(t, c.Validate())
}

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd",
		"-workdir", "/var/lib/ledgervault",
		"-db", "/var/lib/ledger.db",
		"-level", "9",
		"-retention", "simple",
		"-max-count", "5",
		"-max-age", "720h",
		"-local", "/backups",
		"-s3-bucket", "vault",
		"-s3-access-key", "ak",
		"-s3-secret-key", "sk",
		"-schedule", "30 2 * * *",
	}

	c := &Config{}
	c.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(c) })

	assert.Equal(t, "/var/lib/ledgervault", c.WorkDir)
	assert.Equal(t, "/var/lib/ledger.db", c.DatabasePath)
	assert.Equal(t, 9, c.CompressionLevel)
	assert.Equal(t, "simple", c.RetentionKind)
	assert.Equal(t, 5, c.RetentionMaxCount)
	assert.Equal(t, 720*time.Hour, c.RetentionMaxAge)
	assert.Equal(t, "/backups", c.LocalDir)
	assert.Equal(t, "vault", c.S3Bucket)
	assert.Equal(t, "30 2 * * *", c.BackupSchedule)

	// untouched fields keep their defaults
	assert.Equal(t, "./reports", c.ReportsDir)
	assert.Equal(t, "us-east-1", c.S3Region)
}

func TestParseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"work_dir": "/srv/vault/work",
		"database_path": "/srv/ledger.db",
		"reports_dir": "/srv/reports",
		"catalog_path": "/srv/catalog.db",
		"compression_level": 3,
		"verify_after_upload": true,
		"retention_kind": "simple",
		"retention_max_age": "168h",
		"local_dir": "/srv/store",
		"backup_schedule": "0 4 * * *"
	}`), 0o600))

	os.Args = []string{"cmd", "-c", path}

	c := &Config{}
	c.LoadDefaults()
	require.NotPanics(t, func() { parseJson(c) })

	assert.Equal(t, "/srv/vault/work", c.WorkDir)
	assert.Equal(t, "/srv/ledger.db", c.DatabasePath)
	assert.Equal(t, 3, c.CompressionLevel)
	assert.Equal(t, "simple", c.RetentionKind)
	assert.Equal(t, 168*time.Hour, c.RetentionMaxAge)
	assert.Equal(t, "/srv/store", c.LocalDir)
	assert.Equal(t, "0 4 * * *", c.BackupSchedule)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no work dir", func(c *Config) { c.WorkDir = "" }},
		{"no database", func(c *Config) { c.DatabasePath = "" }},
		{"no catalog", func(c *Config) { c.CatalogPath = "" }},
		{"bad compression level", func(c *Config) { c.CompressionLevel = 11 }},
		{"no destinations", func(c *Config) { c.LocalDir = ""; c.S3Bucket = "" }},
		{"s3 without credentials", func(c *Config) { c.S3Bucket = "vault" }},
		{"no schedule", func(c *Config) { c.BackupSchedule = "" }},
		{"unknown retention kind", func(c *Config) { c.RetentionKind = "forever" }},
		{"tiered all zero", func(c *Config) {
			c.RetentionDaily, c.RetentionWeekly, c.RetentionMonthly = 0, 0, 0
		}},
		{"simple without limits", func(c *Config) { c.RetentionKind = "simple" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			assert.ErrorIs(t, c.Validate(), common.ErrConfigInvalid)
		})
	}
}
