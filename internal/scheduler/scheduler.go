// Package scheduler triggers periodic backup cycles. It calls the same
// engine entry point a manual trigger would use; the engine itself is
// trigger-agnostic.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dmitrijs2005/ledgervault/internal/catalog"
	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
)

// Backuper is the slice of the engine the scheduler drives.
type Backuper interface {
	CreateBackup(ctx context.Context) (*catalog.Snapshot, error)
}

// Scheduler runs backup cycles on a cron schedule.
type Scheduler struct {
	log    logging.Logger
	engine Backuper
	spec   string
	cron   *cron.Cron
}

func New(log logging.Logger, engine Backuper, spec string) *Scheduler {
	return &Scheduler{
		log:    log,
		engine: engine,
		spec:   spec,
		cron:   cron.New(),
	}
}

// Start registers the schedule and starts the cron loop. An unparsable
// schedule fails fast.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("%w: bad backup schedule %q: %v", common.ErrConfigInvalid, s.spec, err)
	}
	s.cron.Start()
	s.log.Info(ctx, "backup scheduler started", "schedule", s.spec)
	return nil
}

// Stop halts scheduling and returns a context that is done once any
// in-flight run has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// runOnce executes one scheduled cycle. A busy engine means a manual
// operation is in flight; the tick is skipped, never queued. Errors are
// logged and never fatal to the loop.
func (s *Scheduler) runOnce(ctx context.Context) {
	snap, err := s.engine.CreateBackup(ctx)
	if errors.Is(err, common.ErrBusy) {
		s.log.Info(ctx, "scheduled backup skipped, engine busy")
		return
	}
	if err != nil {
		s.log.Error(ctx, "scheduled backup failed", "error", err)
		return
	}
	s.log.Info(ctx, "scheduled backup finished", "snapshot_id", snap.ID)
}
