package groups

import (
	"context"
	"strings"
	"time"

	"github.com/homemade/brigade/roster"
)

// Directory is the identity-directory surface the reconciler needs. The
// production implementation is GraphDirectory; tests substitute fakes.
type Directory interface {
	// EnsureGroup finds the group by mail nickname (falling back to
	// display name), creating it when absent and refreshing a drifted
	// description. Returns the directory group id. Under dry run a
	// missing group is reported created with an empty id and nothing is
	// written.
	EnsureGroup(ctx context.Context, cfg GroupConfig, dryRun bool) (groupID string, created bool, err error)
	// Snapshot reads current membership as identity keys + display names.
	Snapshot(ctx context.Context, groupID string) ([]GroupMember, error)
	AddMember(ctx context.Context, groupID string, member GroupMember) error
	RemoveMember(ctx context.Context, groupID string, member GroupMember) error
	// UpdateMember fixes a drifted display name in place.
	UpdateMember(ctx context.Context, groupID string, member GroupMember) error
}

// ScheduleSource answers point-in-time on-duty lookups for the shift
// strategy.
type ScheduleSource interface {
	OnDuty(ctx context.Context, at time.Time) (DutyRoster, error)
}

// DutyRoster is the set of people on duty at a point in time, keyed by
// their schedule display name.
type DutyRoster struct {
	Platoon string
	names   map[string]bool
}

// NewDutyRoster builds a roster from filled schedule entry names.
func NewDutyRoster(platoon string, names []string) DutyRoster {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return DutyRoster{Platoon: platoon, names: set}
}

// Includes reports whether the named person is on the roster.
func (d DutyRoster) Includes(name string) bool {
	return d.names[strings.ToLower(strings.TrimSpace(name))]
}

// Len returns the roster size.
func (d DutyRoster) Len() int { return len(d.names) }

// Run holds everything one sync run needs: the external clients, the rank
// hierarchy and the dry-run flag. It is constructed explicitly per run
// and immutable afterwards; there are no package-level client singletons.
type Run struct {
	Directory Directory
	Schedule  ScheduleSource
	Hierarchy roster.RankHierarchy
	DryRun    bool

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

func (r Run) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
