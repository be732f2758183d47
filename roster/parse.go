package roster

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ParseMembers converts the scraped portal export into MemberRecords.
// The scraper (external to this library) emits a JSON document with a
// top-level "members" array; field names follow the portal's CSV headers.
//
// Records without an email are kept — the reconciler reports them as
// skipped so they surface in run results instead of vanishing silently.
func ParseMembers(payload []byte) ([]MemberRecord, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("failed to parse member export: invalid JSON")
	}
	doc := gjson.ParseBytes(payload)
	members := doc.Get("members")
	if !members.Exists() || !members.IsArray() {
		return nil, fmt.Errorf("failed to parse member export: missing members array")
	}

	var result []MemberRecord
	members.ForEach(func(_, m gjson.Result) bool {
		rec := MemberRecord{
			ID:                m.Get("id").String(),
			FirstName:         m.Get("first_name").String(),
			LastName:          m.Get("last_name").String(),
			Email:             m.Get("email").String(),
			Phone:             NormalizePhone(m.Get("phone").String(), ""),
			Title:             m.Get("title").String(),
			Status:            m.Get("status").String(),
			WorkGroup:         m.Get("work_group").String(),
			StationAssignment: m.Get("station_assignment").String(),
			// The portal exports EVIP as the certification label, not a flag
			EVIP: m.Get("evip").String() != "",
		}
		for _, p := range m.Get("positions").Array() {
			if s := p.String(); s != "" {
				rec.Positions = append(rec.Positions, s)
			}
		}
		for _, s := range m.Get("schedules").Array() {
			if v := s.String(); v != "" {
				rec.Schedules = append(rec.Schedules, v)
			}
		}
		result = append(result, rec)
		return true
	})
	return result, nil
}
