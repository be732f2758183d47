package groups

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/homemade/brigade/roster"
)

// The closed set of membership strategies. Adding a strategy means adding
// a constant here and a case in computeTarget; there is no open-ended
// registration.
const (
	StrategyRank           = "rank"
	StrategyPosition       = "position"
	StrategyStation        = "station"
	StrategyShift          = "shift"
	StrategyEVIP           = "evip"
	StrategyVolunteer      = "volunteer"
	StrategyScheduleAccess = "schedule-access"
)

// ErrUnknownStrategy marks a group configured with a strategy name
// outside the closed set. Fatal for that group only.
var ErrUnknownStrategy = errors.New("unknown group strategy")

// ErrScheduleUnavailable marks a shift-strategy computation that could
// not reach the schedule source. The strategy fails closed: no target set
// is guessed, and the reconciler reports the group as skipped rather than
// removing anyone.
var ErrScheduleUnavailable = errors.New("schedule source unavailable")

// ComputeTarget computes the target membership for one group from the
// full member collection. Strategies are deterministic and
// order-independent; only the shift strategy consults an external
// collaborator (the schedule source), never the directory.
//
// Members without an identity key can never be synced; their display
// names come back in skipped so the run report shows them.
func (r Run) ComputeTarget(ctx context.Context, cfg GroupConfig, members []roster.MemberRecord) (target []GroupMember, skipped []string, err error) {
	include, err := r.membershipRule(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	for _, m := range members {
		if !include(m) {
			continue
		}
		if !m.HasKey() {
			log.Printf("Warning: cannot sync %s into %s - no email", m.DisplayName(), cfg.DisplayName)
			skipped = append(skipped, m.DisplayName())
			continue
		}
		target = append(target, GroupMember{Key: m.Key(), DisplayName: m.DisplayName()})
	}
	sortMembers(target)
	return target, skipped, nil
}

// membershipRule resolves the configured strategy to a predicate over
// member records. Strategies needing external state resolve it here, once
// per group, so the returned predicate itself is pure.
func (r Run) membershipRule(ctx context.Context, cfg GroupConfig) (func(roster.MemberRecord) bool, error) {
	switch cfg.Strategy {
	case StrategyRank:
		threshold, ok := r.Hierarchy.Precedence(cfg.RankThreshold)
		if !ok {
			return nil, fmt.Errorf("group %s: rank threshold %q is not in the hierarchy", cfg.DisplayName, cfg.RankThreshold)
		}
		return func(m roster.MemberRecord) bool {
			rank, ok := m.HighestRank(r.Hierarchy)
			if !ok {
				return false
			}
			precedence, _ := r.Hierarchy.Precedence(rank)
			return precedence <= threshold
		}, nil

	case StrategyPosition:
		if len(cfg.Positions) == 0 {
			return nil, fmt.Errorf("group %s: position strategy needs at least one position", cfg.DisplayName)
		}
		return func(m roster.MemberRecord) bool {
			return m.HasPosition(cfg.Positions...)
		}, nil

	case StrategyStation:
		station := ParseStation(cfg.Station)
		if station == "" {
			return nil, fmt.Errorf("group %s: station strategy needs a station number", cfg.DisplayName)
		}
		return func(m roster.MemberRecord) bool {
			return m.IsActive() && ParseStation(m.StationAssignment) == station
		}, nil

	case StrategyShift:
		if cfg.Platoon == "" {
			return nil, fmt.Errorf("group %s: shift strategy needs a platoon", cfg.DisplayName)
		}
		duty, err := r.Schedule.OnDuty(ctx, r.now())
		if err != nil {
			return nil, fmt.Errorf("group %s: %w: %v", cfg.DisplayName, ErrScheduleUnavailable, err)
		}
		if duty.Len() == 0 {
			// A reachable schedule with zero filled slots is legitimate
			// (it empties the group), unlike an unreachable one.
			log.Printf("Warning: duty roster for %s has no filled entries", cfg.Platoon)
		}
		return func(m roster.MemberRecord) bool {
			return m.IsActive() && m.WorkGroup == cfg.Platoon && duty.Includes(m.DisplayName())
		}, nil

	case StrategyEVIP:
		return func(m roster.MemberRecord) bool {
			return m.EVIP
		}, nil

	case StrategyVolunteer:
		workGroup := cfg.WorkGroup
		if workGroup == "" {
			workGroup = "Volunteer"
		}
		return func(m roster.MemberRecord) bool {
			return m.WorkGroup == workGroup && m.HasPosition(roster.OperationalPositions...)
		}, nil

	case StrategyScheduleAccess:
		if cfg.ScheduleMatch == "" {
			return nil, fmt.Errorf("group %s: schedule-access strategy needs a match string", cfg.DisplayName)
		}
		match := strings.ToLower(cfg.ScheduleMatch)
		return func(m roster.MemberRecord) bool {
			for _, s := range m.Schedules {
				if strings.Contains(strings.ToLower(s), match) {
					return true
				}
			}
			return false
		}, nil

	default:
		return nil, fmt.Errorf("group %s: %w: %q", cfg.DisplayName, ErrUnknownStrategy, cfg.Strategy)
	}
}

// ParseStation extracts the station number from an assignment field,
// accepting both "31" and "Station 31" forms. Empty when the field holds
// neither.
func ParseStation(assignment string) string {
	station := strings.TrimSpace(assignment)
	if station == "" {
		return ""
	}
	lower := strings.ToLower(station)
	if strings.HasPrefix(lower, "station ") {
		station = strings.TrimSpace(station[len("station "):])
	}
	for _, r := range station {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return station
}
