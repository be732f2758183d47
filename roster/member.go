package roster

import "strings"

// MemberRecord is the normalized representation of a person scraped from
// the workforce-scheduling portal. The email address is the sole join key
// across the directory, the incident API and the cache store; records
// without one cannot be synced and are reported as skipped downstream.
type MemberRecord struct {
	ID                string
	FirstName         string
	LastName          string
	Email             string
	Phone             string
	Positions         []string
	Title             string
	Status            string
	WorkGroup         string
	StationAssignment string
	EVIP              bool
	Schedules         []string
}

// Key returns the canonical identity key: the lowercased email address.
// Empty when the record has no email.
func (m MemberRecord) Key() string {
	return strings.ToLower(strings.TrimSpace(m.Email))
}

// HasKey reports whether the record carries an identity key at all.
func (m MemberRecord) HasKey() bool {
	return m.Key() != ""
}

// DisplayName is the full name as shown in the directory.
func (m MemberRecord) DisplayName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// IsActive reports whether the member is on active status. The portal's
// export omits the status field for most members, which means active.
func (m MemberRecord) IsActive() bool {
	return m.Status == "" || strings.EqualFold(m.Status, "active")
}

// HasPosition reports whether the member holds any of the given positions.
func (m MemberRecord) HasPosition(positions ...string) bool {
	for _, want := range positions {
		for _, have := range m.Positions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RankHierarchy is an ordered list of rank titles, highest precedence
// first (index 0 outranks index 1, and so on).
type RankHierarchy []string

// DefaultRankHierarchy is the department's command structure.
var DefaultRankHierarchy = RankHierarchy{
	"Chief",
	"Division Chief",
	"Battalion Chief",
	"Captain",
	"Lieutenant",
}

// MarinePositions are the boat crew positions.
var MarinePositions = []string{
	"Marine: Deckhand",
	"Marine: Mate",
	"Marine: Pilot",
}

// OperationalPositions are positions indicating an active response or
// support role, used by the volunteer membership criteria.
var OperationalPositions = append([]string{
	"Firefighter",
	"Apparatus Operator",
	"Support",
	"Wildland Firefighter",
}, MarinePositions...)

// Precedence returns the index of title in the hierarchy. The boolean is
// false when the title is not a rank.
func (h RankHierarchy) Precedence(title string) (int, bool) {
	for i, rank := range h {
		if strings.EqualFold(rank, title) {
			return i, true
		}
	}
	return 0, false
}

// HighestRank returns the single highest-precedence rank the member holds,
// considering the Title field and every position. A member holding several
// qualifying titles is counted by the best one only. The boolean is false
// when the member holds no rank.
func (m MemberRecord) HighestRank(h RankHierarchy) (string, bool) {
	best := -1
	for _, title := range append([]string{m.Title}, m.Positions...) {
		if i, ok := h.Precedence(title); ok && (best == -1 || i < best) {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	return h[best], true
}
