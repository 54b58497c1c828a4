// Package retention decides which historical snapshots to keep or prune.
// It is a pure decision layer: no I/O, no clocks of its own.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/ledgervault/internal/catalog"
	"github.com/dmitrijs2005/ledgervault/internal/common"
)

// Kind selects the rotation scheme.
type Kind string

const (
	KindSimple Kind = "simple"
	KindTiered Kind = "tiered"
)

// Policy configures a rotation scheme. For KindSimple exactly one of
// MaxCount and MaxAge applies; for KindTiered the per-tier counts do.
type Policy struct {
	Kind Kind

	// Simple scheme.
	MaxCount int
	MaxAge   time.Duration

	// Tiered (grandfather-father-son) scheme.
	Daily   int
	Weekly  int
	Monthly int
}

// Validate fails fast on configurations that would silently degrade to
// "keep everything forever" or "keep nothing".
func (p Policy) Validate() error {
	switch p.Kind {
	case KindSimple:
		if p.MaxCount < 0 || p.MaxAge < 0 {
			return fmt.Errorf("%w: negative retention limits", common.ErrConfigInvalid)
		}
		if (p.MaxCount == 0) == (p.MaxAge == 0) {
			return fmt.Errorf("%w: simple retention needs exactly one of max_count and max_age", common.ErrConfigInvalid)
		}
	case KindTiered:
		if p.Daily < 0 || p.Weekly < 0 || p.Monthly < 0 {
			return fmt.Errorf("%w: negative tier counts", common.ErrConfigInvalid)
		}
		if p.Daily == 0 && p.Weekly == 0 && p.Monthly == 0 {
			return fmt.Errorf("%w: tiered retention with zero count in every tier", common.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown retention kind %q", common.ErrConfigInvalid, p.Kind)
	}
	return nil
}

// Result is the outcome of one retention evaluation.
type Result struct {
	// Prune lists the snapshots selected for deletion, oldest first.
	Prune []catalog.Snapshot

	// Tiers maps kept snapshot ids to the tier each one represents
	// after this evaluation. Simple-policy keepers map to TierDaily.
	Tiers map[int64]catalog.Tier
}

// SelectForPruning applies the policy to all known snapshots as of now.
//
// Failed snapshots are always pruned regardless of age. Pending snapshots
// belong to an in-flight cycle and are never touched. The single newest
// verified snapshot always survives, even when retention counts are zero:
// a floor of one retained snapshot is a hard invariant.
func SelectForPruning(snapshots []catalog.Snapshot, p Policy, now time.Time) Result {
	res := Result{Tiers: map[int64]catalog.Tier{}}

	var verified []catalog.Snapshot
	for _, s := range snapshots {
		switch s.Status {
		case catalog.StatusVerified:
			verified = append(verified, s)
		case catalog.StatusFailed:
			res.Prune = append(res.Prune, s)
		}
	}

	// newest first
	sort.Slice(verified, func(i, j int) bool {
		return verified[i].CreatedAt.After(verified[j].CreatedAt)
	})

	if len(verified) == 0 {
		sortOldestFirst(res.Prune)
		return res
	}

	switch p.Kind {
	case KindTiered:
		selectTiered(verified, p, &res)
	default:
		selectSimple(verified, p, now, &res)
	}

	// retention floor
	newest := verified[0]
	if _, kept := res.Tiers[newest.ID]; !kept {
		res.Tiers[newest.ID] = catalog.TierDaily
		res.Prune = removeByID(res.Prune, newest.ID)
	}

	sortOldestFirst(res.Prune)
	return res
}

func selectSimple(verified []catalog.Snapshot, p Policy, now time.Time, res *Result) {
	for i, s := range verified {
		keep := false
		if p.MaxCount > 0 {
			keep = i < p.MaxCount
		} else {
			keep = now.Sub(s.CreatedAt) <= p.MaxAge
		}
		if keep {
			res.Tiers[s.ID] = catalog.TierDaily
		} else {
			res.Prune = append(res.Prune, s)
		}
	}
}

// selectTiered implements grandfather-father-son rotation. Each verified
// snapshot is assigned to at most one tier; the most recent representative
// of a calendar day, ISO week or month wins that slot.
func selectTiered(verified []catalog.Snapshot, p Policy, res *Result) {
	// newest snapshot per calendar day, in newest-first order
	seenDay := map[string]bool{}
	var dayReps []catalog.Snapshot
	for _, s := range verified {
		key := s.CreatedAt.UTC().Format("2006-01-02")
		if seenDay[key] {
			res.Prune = append(res.Prune, s)
			continue
		}
		seenDay[key] = true
		dayReps = append(dayReps, s)
	}

	kept := map[int64]bool{}

	// daily tier: the N newest day representatives
	for i := 0; i < len(dayReps) && i < p.Daily; i++ {
		res.Tiers[dayReps[i].ID] = catalog.TierDaily
		kept[dayReps[i].ID] = true
	}

	// weekly tier: newest representative per ISO week, for weeks not
	// already covered by a kept daily
	coveredWeek := map[string]bool{}
	for _, s := range dayReps {
		if kept[s.ID] {
			coveredWeek[weekKey(s.CreatedAt)] = true
		}
	}
	weekly := 0
	for _, s := range dayReps {
		if kept[s.ID] {
			continue
		}
		key := weekKey(s.CreatedAt)
		if coveredWeek[key] {
			continue
		}
		coveredWeek[key] = true
		if weekly < p.Weekly {
			res.Tiers[s.ID] = catalog.TierWeekly
			kept[s.ID] = true
			weekly++
		}
	}

	// monthly tier: newest representative per calendar month, for months
	// not already covered by a kept daily or weekly
	coveredMonth := map[string]bool{}
	for _, s := range dayReps {
		if kept[s.ID] {
			coveredMonth[monthKey(s.CreatedAt)] = true
		}
	}
	monthly := 0
	for _, s := range dayReps {
		if kept[s.ID] {
			continue
		}
		key := monthKey(s.CreatedAt)
		if coveredMonth[key] {
			continue
		}
		coveredMonth[key] = true
		if monthly < p.Monthly {
			res.Tiers[s.ID] = catalog.TierMonthly
			kept[s.ID] = true
			monthly++
		}
	}

	for _, s := range dayReps {
		if !kept[s.ID] {
			res.Prune = append(res.Prune, s)
		}
	}
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func removeByID(snapshots []catalog.Snapshot, id int64) []catalog.Snapshot {
	out := snapshots[:0]
	for _, s := range snapshots {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func sortOldestFirst(snapshots []catalog.Snapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
}
