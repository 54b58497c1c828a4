// Package app wires configuration, catalog, destinations, engine and
// scheduler into the running daemon, and handles graceful shutdown.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/ledgervault/internal/archive"
	"github.com/dmitrijs2005/ledgervault/internal/catalog"
	"github.com/dmitrijs2005/ledgervault/internal/config"
	"github.com/dmitrijs2005/ledgervault/internal/destination"
	"github.com/dmitrijs2005/ledgervault/internal/engine"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
	"github.com/dmitrijs2005/ledgervault/internal/scheduler"
)

// NewLogger builds the process-wide structured logger.
func NewLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// BuildEngine constructs a fully wired engine from configuration: catalog
// database (migrated), destinations and sources. The returned close func
// releases the catalog connection.
func BuildEngine(ctx context.Context, cfg *config.Config, log logging.Logger, passphrase []byte) (*engine.Engine, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("sqlite3", cfg.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := catalog.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate catalog: %w", err)
	}
	repo := catalog.NewSQLiteRepository(db)

	var destinations []destination.Adapter
	if cfg.LocalDir != "" {
		store, err := destination.NewLocalStore("local", cfg.LocalDir)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		destinations = append(destinations, store)
	}
	if cfg.S3Bucket != "" {
		store, err := destination.NewS3Store(ctx, destination.S3Config{
			Name:         "s3",
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Prefix:       cfg.S3Prefix,
		})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		destinations = append(destinations, store)
	}

	// the catalog itself is captured in every backup so a full-disaster
	// restore can reconstruct it from the most recent copy
	sources := []archive.Source{
		{Label: "db", Path: cfg.DatabasePath},
		{Label: "catalog", Path: cfg.CatalogPath},
	}
	if cfg.ReportsDir != "" {
		sources = append(sources, archive.Source{Label: "reports", Path: cfg.ReportsDir})
	}

	eng, err := engine.New(engine.Options{
		Log:               log,
		Repo:              repo,
		Destinations:      destinations,
		Policy:            cfg.RetentionPolicy(),
		Sources:           sources,
		WorkDir:           cfg.WorkDir,
		CompressionLevel:  cfg.CompressionLevel,
		Passphrase:        passphrase,
		VerifyAfterUpload: cfg.VerifyAfterUpload,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return eng, db.Close, nil
}

// App is the daemon: an engine plus a cron scheduler.
type App struct {
	config    *config.Config
	logger    logging.Logger
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	closeDB   func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := NewLogger()

	eng, closeDB, err := BuildEngine(ctx, cfg, logger, []byte(cfg.Passphrase))
	if err != nil {
		return nil, err
	}

	return &App{
		config:    cfg,
		logger:    logger,
		engine:    eng,
		scheduler: scheduler.New(logger, eng, cfg.BackupSchedule),
		closeDB:   closeDB,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the scheduler and blocks until a shutdown signal arrives,
// then waits for any in-flight cycle before closing the catalog.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting ledgervault daemon", "schedule", app.config.BackupSchedule)

	app.initSignalHandler(cancelFunc)

	if err := app.scheduler.Start(ctx); err != nil {
		_ = app.closeDB()
		return err
	}

	<-ctx.Done()

	app.logger.Info(ctx, "shutting down")
	<-app.scheduler.Stop().Done()
	return app.closeDB()
}
