package groups

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/homemade/brigade/roster"
)

// MemberError records one member the directory rejected, with the reason.
// Per-member failures never abort the rest of the group.
type MemberError struct {
	Key    string
	Reason string
}

// SyncResult reports everything that happened (or, under dry run, would
// happen) to a single group.
type SyncResult struct {
	Group   string
	GroupID string
	Created bool
	DryRun  bool

	Added   []string
	Removed []string
	Updated []string
	// Skipped lists members that could not be considered at all,
	// typically records without an identity key.
	Skipped []string
	Errors  []MemberError
}

// HasChanges reports whether the group saw (or would see) any mutation.
func (r SyncResult) HasChanges() bool {
	return r.Created || len(r.Added) > 0 || len(r.Removed) > 0 || len(r.Updated) > 0
}

// SkippedGroup is a group the run could not reconcile at all: snapshot
// read failure, unknown strategy, schedule source down. Skipping is
// always preferred over guessing, which could mean mass removal.
type SkippedGroup struct {
	Group  string
	Reason string
}

// RunResult aggregates a full sync run across groups.
type RunResult struct {
	Groups  []SyncResult
	Skipped []SkippedGroup
}

// TotalAdded counts member additions across all groups.
func (r RunResult) TotalAdded() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Added)
	}
	return n
}

// TotalRemoved counts member removals across all groups.
func (r RunResult) TotalRemoved() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Removed)
	}
	return n
}

// TotalErrors counts per-member failures across all groups.
func (r RunResult) TotalErrors() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Errors)
	}
	return n
}

// Reconcile applies the diff between target and current membership to one
// group. Adds run before removes so a member moving between two mutually
// exclusive groups is never transiently in neither. Each directory call
// is isolated: a failure is recorded and the next member proceeds. Under
// dry run the same diff is reported with no mutating calls.
func (r Run) Reconcile(ctx context.Context, cfg GroupConfig, groupID string, target, current []GroupMember) SyncResult {
	result := SyncResult{Group: cfg.DisplayName, GroupID: groupID, DryRun: r.DryRun}
	diff := ComputeDiff(target, current)

	for _, m := range diff.ToAdd {
		if r.DryRun {
			log.Printf("Would add %s to %s", m.Key, cfg.DisplayName)
			result.Added = append(result.Added, m.Key)
			continue
		}
		if err := r.Directory.AddMember(ctx, groupID, m); err != nil {
			log.Printf("Error adding %s to %s: %v", m.Key, cfg.DisplayName, err)
			result.Errors = append(result.Errors, MemberError{Key: m.Key, Reason: fmt.Sprintf("add failed: %v", err)})
			continue
		}
		result.Added = append(result.Added, m.Key)
	}

	for _, m := range diff.ToRemove {
		if r.DryRun {
			log.Printf("Would remove %s from %s", m.Key, cfg.DisplayName)
			result.Removed = append(result.Removed, m.Key)
			continue
		}
		if err := r.Directory.RemoveMember(ctx, groupID, m); err != nil {
			log.Printf("Error removing %s from %s: %v", m.Key, cfg.DisplayName, err)
			result.Errors = append(result.Errors, MemberError{Key: m.Key, Reason: fmt.Sprintf("remove failed: %v", err)})
			continue
		}
		result.Removed = append(result.Removed, m.Key)
	}

	for _, m := range diff.ToUpdate {
		if r.DryRun {
			log.Printf("Would update display name for %s", m.Key)
			result.Updated = append(result.Updated, m.Key)
			continue
		}
		if err := r.Directory.UpdateMember(ctx, groupID, m); err != nil {
			log.Printf("Error updating %s: %v", m.Key, err)
			result.Errors = append(result.Errors, MemberError{Key: m.Key, Reason: fmt.Sprintf("update failed: %v", err)})
			continue
		}
		result.Updated = append(result.Updated, m.Key)
	}

	return result
}

// maxConcurrentGroups bounds parallel group reconciliation. Operations
// within one group stay sequential to preserve add-before-remove order.
const maxConcurrentGroups = 4

// SyncAll reconciles every configured group against the directory.
// Groups are independent: a group whose target cannot be computed or
// whose snapshot cannot be read is reported as skipped and the rest of
// the run continues. Only the caller decides whether a skipped group is
// fatal; SyncAll itself never is.
func (r Run) SyncAll(ctx context.Context, cfgs []GroupConfig, members []roster.MemberRecord) RunResult {
	var (
		mu     sync.Mutex
		result RunResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentGroups)

	for _, cfg := range cfgs {
		cfg := cfg
		g.Go(func() error {
			outcome := r.syncGroup(ctx, cfg, members)

			mu.Lock()
			defer mu.Unlock()
			if outcome.skip != nil {
				log.Printf("Skipping group %s: %s", cfg.DisplayName, outcome.skip.Reason)
				result.Skipped = append(result.Skipped, *outcome.skip)
			} else {
				result.Groups = append(result.Groups, outcome.result)
			}
			// Group-level failures are recorded, never escalated.
			return nil
		})
	}
	g.Wait()

	sortRunResult(&result)
	return result
}

type groupOutcome struct {
	result SyncResult
	skip   *SkippedGroup
}

func (r Run) syncGroup(ctx context.Context, cfg GroupConfig, members []roster.MemberRecord) groupOutcome {
	skip := func(reason string) groupOutcome {
		return groupOutcome{skip: &SkippedGroup{Group: cfg.DisplayName, Reason: reason}}
	}

	target, skippedMembers, err := r.ComputeTarget(ctx, cfg, members)
	if err != nil {
		return skip(err.Error())
	}

	groupID, created, err := r.Directory.EnsureGroup(ctx, cfg, r.DryRun)
	if err != nil {
		return skip(fmt.Sprintf("failed to ensure group: %v", err))
	}

	var current []GroupMember
	if groupID != "" {
		current, err = r.Directory.Snapshot(ctx, groupID)
		if err != nil {
			// A snapshot we cannot read must never look like an empty
			// group: that would turn an outage into mass removal.
			return skip(fmt.Sprintf("failed to read membership snapshot: %v", err))
		}
	}

	result := r.Reconcile(ctx, cfg, groupID, target, current)
	result.Created = created
	result.Skipped = skippedMembers
	return groupOutcome{result: result}
}

// sortRunResult orders groups by name so concurrent completion order
// never leaks into the report.
func sortRunResult(r *RunResult) {
	sort.Slice(r.Groups, func(i, j int) bool { return r.Groups[i].Group < r.Groups[j].Group })
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].Group < r.Skipped[j].Group })
}
