// Package config handles configuration for the backup engine: defaults,
// JSON overlay, and command-line flags, validated fail-fast.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/retention"
)

// Config holds the runtime settings of the backup engine.
//
// Fields:
//   - WorkDir: scratch space and rollback copies.
//   - DatabasePath: the live ledger database file.
//   - ReportsDir: auxiliary data directory captured alongside the database
//     (empty disables it).
//   - CatalogPath: the snapshot catalog database. It is captured in every
//     backup so a full-disaster restore can reconstruct the catalog.
//   - CompressionLevel: gzip effort 0-9, 0 = store only.
//   - Passphrase: enables encryption at rest when non-empty.
//   - VerifyAfterUpload: re-download each uploaded blob and re-check it.
//   - RetentionKind + limits: the rotation scheme.
//   - LocalDir: root of the local channel-store destination (empty disables).
//   - S3*: S3-compatible cloud destination (empty bucket disables).
//   - BackupSchedule: cron expression for scheduled backups.
type Config struct {
	WorkDir      string
	DatabasePath string
	ReportsDir   string
	CatalogPath  string

	CompressionLevel  int
	Passphrase        string
	VerifyAfterUpload bool

	RetentionKind     string
	RetentionMaxCount int
	RetentionMaxAge   time.Duration
	RetentionDaily    int
	RetentionWeekly   int
	RetentionMonthly  int

	LocalDir string

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	S3Prefix       string

	BackupSchedule string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values should be overridden for production use.
func (c *Config) LoadDefaults() {
	c.WorkDir = "./ledgervault-work"
	c.DatabasePath = "./ledger.db"
	c.ReportsDir = "./reports"
	c.CatalogPath = "./ledgervault-catalog.db"
	c.CompressionLevel = 6
	c.VerifyAfterUpload = true
	c.RetentionKind = string(retention.KindTiered)
	c.RetentionDaily = 7
	c.RetentionWeekly = 4
	c.RetentionMonthly = 12
	c.LocalDir = "./ledgervault-store"
	c.S3Region = "us-east-1"
	c.BackupSchedule = "0 3 * * *"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// RetentionPolicy converts the retention fields into a retention.Policy.
func (c *Config) RetentionPolicy() retention.Policy {
	return retention.Policy{
		Kind:     retention.Kind(c.RetentionKind),
		MaxCount: c.RetentionMaxCount,
		MaxAge:   c.RetentionMaxAge,
		Daily:    c.RetentionDaily,
		Weekly:   c.RetentionWeekly,
		Monthly:  c.RetentionMonthly,
	}
}

// Validate fails fast on configurations the engine would reject later, so
// a bad deployment dies at startup with a descriptive error.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("%w: work dir is required", common.ErrConfigInvalid)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database path is required", common.ErrConfigInvalid)
	}
	if c.CatalogPath == "" {
		return fmt.Errorf("%w: catalog path is required", common.ErrConfigInvalid)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression level %d out of range 0..9", common.ErrConfigInvalid, c.CompressionLevel)
	}
	if c.LocalDir == "" && c.S3Bucket == "" {
		return fmt.Errorf("%w: at least one destination (local dir or S3 bucket) is required", common.ErrConfigInvalid)
	}
	if c.S3Bucket != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("%w: S3 destination needs access and secret keys", common.ErrConfigInvalid)
	}
	if c.BackupSchedule == "" {
		return fmt.Errorf("%w: backup schedule is required", common.ErrConfigInvalid)
	}
	return c.RetentionPolicy().Validate()
}
