package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/ledgervault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-workdir string        scratch and rollback directory
//	-db string             live ledger database file
//	-reports string        auxiliary reports directory
//	-catalog string        snapshot catalog database file
//	-level int             compression level 0-9
//	-passphrase string     encryption passphrase (empty = plain archives)
//	-verify                re-verify every uploaded blob
//	-retention string      retention kind: simple | tiered
//	-max-count int         simple retention: newest N snapshots
//	-max-age string        simple retention: age window, e.g. "720h"
//	-daily int             tiered retention: daily slots
//	-weekly int            tiered retention: weekly slots
//	-monthly int           tiered retention: monthly slots
//	-local string          local channel-store directory
//	-s3-bucket string      S3 bucket (empty disables the cloud destination)
//	-s3-region string      S3 region
//	-s3-endpoint string    S3 base endpoint override
//	-s3-access-key string  S3 access key
//	-s3-secret-key string  S3 secret key
//	-s3-prefix string      S3 object key prefix
//	-schedule string       cron expression for scheduled backups
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. The max-age
// flag is accepted as a Go duration string and converted to time.Duration.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-workdir", "-db", "-reports", "-catalog", "-level", "-passphrase",
		"-verify", "-retention", "-max-count", "-max-age", "-daily",
		"-weekly", "-monthly", "-local", "-s3-bucket", "-s3-region",
		"-s3-endpoint", "-s3-access-key", "-s3-secret-key", "-s3-prefix",
		"-schedule",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.WorkDir, "workdir", config.WorkDir, "scratch and rollback directory")
	fs.StringVar(&config.DatabasePath, "db", config.DatabasePath, "live ledger database file")
	fs.StringVar(&config.ReportsDir, "reports", config.ReportsDir, "auxiliary reports directory")
	fs.StringVar(&config.CatalogPath, "catalog", config.CatalogPath, "snapshot catalog database file")
	fs.IntVar(&config.CompressionLevel, "level", config.CompressionLevel, "compression level 0-9")
	fs.StringVar(&config.Passphrase, "passphrase", config.Passphrase, "encryption passphrase")
	fs.BoolVar(&config.VerifyAfterUpload, "verify", config.VerifyAfterUpload, "re-verify uploaded blobs")

	fs.StringVar(&config.RetentionKind, "retention", config.RetentionKind, "retention kind: simple | tiered")
	fs.IntVar(&config.RetentionMaxCount, "max-count", config.RetentionMaxCount, "simple retention: newest N snapshots")
	maxAge := fs.String("max-age", config.RetentionMaxAge.String(), "simple retention: age window (e.g. 720h)")
	fs.IntVar(&config.RetentionDaily, "daily", config.RetentionDaily, "tiered retention: daily slots")
	fs.IntVar(&config.RetentionWeekly, "weekly", config.RetentionWeekly, "tiered retention: weekly slots")
	fs.IntVar(&config.RetentionMonthly, "monthly", config.RetentionMonthly, "tiered retention: monthly slots")

	fs.StringVar(&config.LocalDir, "local", config.LocalDir, "local channel-store directory")
	fs.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "s3-endpoint", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Prefix, "s3-prefix", config.S3Prefix, "S3 object key prefix")
	fs.StringVar(&config.BackupSchedule, "schedule", config.BackupSchedule, "cron expression for scheduled backups")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	parsedMaxAge, err := time.ParseDuration(*maxAge)
	if err != nil {
		panic(err)
	}
	config.RetentionMaxAge = parsedMaxAge
}
