// Package cli implements the one-shot operator commands: backup, list,
// restore (with typed confirmation), verify and prune.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dmitrijs2005/ledgervault/internal/app"
	"github.com/dmitrijs2005/ledgervault/internal/catalog"
	"github.com/dmitrijs2005/ledgervault/internal/config"
	"github.com/dmitrijs2005/ledgervault/internal/engine"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
)

const usage = `Usage: vaultctl <command> [args] [flags]

Commands:
  backup          run one backup cycle now
  list            list snapshots
  restore <id>    restore a snapshot (asks for typed confirmation)
  verify <id>     re-verify a snapshot against every destination
  prune           apply the retention policy now

Positional arguments come first; configuration flags follow.`

// App runs operator commands against a freshly wired engine.
type App struct {
	config *config.Config
	logger logging.Logger
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(cfg *config.Config) *App {
	return &App{
		config: cfg,
		logger: app.NewLogger(),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

// Run dispatches one command. args holds the positional arguments with the
// command first.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "backup":
		return a.backup(ctx)
	case "list":
		return a.list(ctx)
	case "restore":
		id, err := parseID(args[1:])
		if err != nil {
			return err
		}
		return a.restore(ctx, id)
	case "verify":
		id, err := parseID(args[1:])
		if err != nil {
			return err
		}
		return a.verify(ctx, id)
	case "prune":
		return a.prune(ctx)
	case "help":
		fmt.Fprintln(a.out, usage)
		return nil
	default:
		fmt.Fprintln(a.out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parseID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("snapshot id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad snapshot id %q: %w", args[0], err)
	}
	return id, nil
}

func (a *App) buildEngine(ctx context.Context, passphrase []byte) (*engine.Engine, func() error, error) {
	return app.BuildEngine(ctx, a.config, a.logger, passphrase)
}

func (a *App) backup(ctx context.Context) error {
	eng, closeDB, err := a.buildEngine(ctx, []byte(a.config.Passphrase))
	if err != nil {
		return err
	}
	defer closeDB()

	snap, err := eng.CreateBackup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "snapshot %d created: %d bytes captured, %d bytes stored, %d destination(s)\n",
		snap.ID, snap.SizeBytes, snap.CompressedSizeBytes, len(snap.Replicas))
	return nil
}

func (a *App) list(ctx context.Context) error {
	eng, closeDB, err := a.buildEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer closeDB()

	snaps, err := eng.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(a.out, "no snapshots")
		return nil
	}

	fmt.Fprintf(a.out, "%-6s %-20s %-9s %-8s %12s %-4s %s\n",
		"ID", "CREATED", "STATUS", "TIER", "STORED", "ENC", "DESTINATIONS")
	for _, s := range snaps {
		fmt.Fprintf(a.out, "%-6d %-20s %-9s %-8s %12d %-4s %s\n",
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			s.Status,
			tierLabel(s.Tier),
			s.CompressedSizeBytes,
			encLabel(s.Encrypted),
			destinations(s),
		)
	}
	return nil
}

func tierLabel(t catalog.Tier) string {
	if t == catalog.TierNone {
		return "-"
	}
	return string(t)
}

func encLabel(encrypted bool) string {
	if encrypted {
		return "yes"
	}
	return "no"
}

func destinations(s catalog.Snapshot) string {
	out := ""
	for i, r := range s.Replicas {
		if i > 0 {
			out += ","
		}
		out += r.Destination
	}
	if out == "" {
		return "-"
	}
	return out
}

func (a *App) restore(ctx context.Context, id int64) error {
	eng, closeDB, err := a.buildEngine(ctx, []byte(a.config.Passphrase))
	if err != nil {
		return err
	}

	snap, err := eng.GetSnapshot(ctx, id)
	if err != nil {
		_ = closeDB()
		return err
	}
	// the passphrase is only needed to decrypt an encrypted snapshot
	if snap.Encrypted && a.config.Passphrase == "" {
		_ = closeDB()
		pw, err := GetPassword(a.out)
		if err != nil {
			return err
		}
		eng, closeDB, err = a.buildEngine(ctx, pw)
		if err != nil {
			return err
		}
	}
	defer closeDB()

	answer, err := GetSimpleText(a.reader,
		fmt.Sprintf("Restoring snapshot %d OVERWRITES the live store. Type 'restore' to proceed:", id), a.out)
	if err != nil {
		return err
	}
	if answer != "restore" {
		fmt.Fprintln(a.out, "aborted")
		return nil
	}

	op, err := eng.Restore(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "snapshot %d restored, pre-restore state kept at %s\n", id, op.RollbackPath)

	answer, err = GetSimpleText(a.reader,
		"Check the restored state. Type 'confirm' to discard the rollback copy, anything else keeps it:", a.out)
	if err != nil {
		return err
	}
	if answer != "confirm" {
		fmt.Fprintf(a.out, "rollback copy kept at %s\n", op.RollbackPath)
		return nil
	}
	if err := eng.ConfirmRestore(ctx, op.ID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "restore confirmed, rollback copy removed")
	return nil
}

func (a *App) verify(ctx context.Context, id int64) error {
	eng, closeDB, err := a.buildEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := eng.Verify(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "snapshot %d verified\n", id)
	return nil
}

func (a *App) prune(ctx context.Context) error {
	eng, closeDB, err := a.buildEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer closeDB()

	before, err := eng.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if err := eng.Prune(ctx); err != nil {
		return err
	}
	after, err := eng.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pruned %d snapshot(s), %d kept\n", len(before)-len(after), len(after))
	return nil
}
