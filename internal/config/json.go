package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/ledgervault/internal/flagx"
	"github.com/dmitrijs2005/ledgervault/internal/timex"
)

// JsonConfig is the intermediate DTO for JSON configuration files. It uses
// timex.Duration for the max-age field, which parses both string values such
// as "720h" and integer nanoseconds. After unmarshalling, its fields are
// copied into the runtime Config.
type JsonConfig struct {
	WorkDir      string `json:"work_dir"`
	DatabasePath string `json:"database_path"`
	ReportsDir   string `json:"reports_dir"`
	CatalogPath  string `json:"catalog_path"`

	CompressionLevel  int    `json:"compression_level"`
	Passphrase        string `json:"passphrase"`
	VerifyAfterUpload bool   `json:"verify_after_upload"`

	RetentionKind     string         `json:"retention_kind"`
	RetentionMaxCount int            `json:"retention_max_count"`
	RetentionMaxAge   timex.Duration `json:"retention_max_age"`
	RetentionDaily    int            `json:"retention_daily"`
	RetentionWeekly   int            `json:"retention_weekly"`
	RetentionMonthly  int            `json:"retention_monthly"`

	LocalDir string `json:"local_dir"`

	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Prefix       string `json:"s3_prefix"`

	BackupSchedule string `json:"backup_schedule"`
}

// parseJson loads configuration values from a JSON file into config. The
// file path comes from the -c or -config command-line flags; without either
// flag no file is loaded. An unreadable file or invalid JSON panics: the
// operator asked for a config file that cannot be honored.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.WorkDir = c.WorkDir
	config.DatabasePath = c.DatabasePath
	config.ReportsDir = c.ReportsDir
	config.CatalogPath = c.CatalogPath
	config.CompressionLevel = c.CompressionLevel
	config.Passphrase = c.Passphrase
	config.VerifyAfterUpload = c.VerifyAfterUpload
	config.RetentionKind = c.RetentionKind
	config.RetentionMaxCount = c.RetentionMaxCount
	config.RetentionMaxAge = c.RetentionMaxAge.Duration
	config.RetentionDaily = c.RetentionDaily
	config.RetentionWeekly = c.RetentionWeekly
	config.RetentionMonthly = c.RetentionMonthly
	config.LocalDir = c.LocalDir
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.S3AccessKey = c.S3AccessKey
	config.S3SecretKey = c.S3SecretKey
	config.S3Prefix = c.S3Prefix
	config.BackupSchedule = c.BackupSchedule
}
