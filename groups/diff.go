package groups

import (
	"sort"
	"strings"
)

// GroupMember is the unit exchanged between target-set computation and
// the directory snapshot. Two GroupMembers are the same person iff their
// identity keys match case-insensitively.
type GroupMember struct {
	Key         string
	DisplayName string
}

// Diff is the minimal operation set turning current membership into the
// target membership. Members present on both sides are no-ops unless
// their display name drifted, in which case they land in ToUpdate.
// All three slices are sorted by identity key so a diff is deterministic
// regardless of input ordering.
type Diff struct {
	ToAdd    []GroupMember
	ToRemove []GroupMember
	ToUpdate []GroupMember
}

// Empty reports whether the diff requires no directory writes.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// ComputeDiff diffs target against current membership by identity key.
// Duplicate keys within either input collapse to one entry.
func ComputeDiff(target, current []GroupMember) Diff {
	targetByKey := byKey(target)
	currentByKey := byKey(current)

	var d Diff
	for key, want := range targetByKey {
		have, exists := currentByKey[key]
		switch {
		case !exists:
			d.ToAdd = append(d.ToAdd, want)
		case want.DisplayName != "" && have.DisplayName != want.DisplayName:
			d.ToUpdate = append(d.ToUpdate, want)
		}
	}
	for key, have := range currentByKey {
		if _, exists := targetByKey[key]; !exists {
			d.ToRemove = append(d.ToRemove, have)
		}
	}

	sortMembers(d.ToAdd)
	sortMembers(d.ToRemove)
	sortMembers(d.ToUpdate)
	return d
}

func byKey(members []GroupMember) map[string]GroupMember {
	result := make(map[string]GroupMember, len(members))
	for _, m := range members {
		key := strings.ToLower(m.Key)
		if key == "" {
			continue
		}
		m.Key = key
		result[key] = m
	}
	return result
}

func sortMembers(members []GroupMember) {
	sort.Slice(members, func(i, j int) bool { return members[i].Key < members[j].Key })
}
