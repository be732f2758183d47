package groups

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"

	"github.com/homemade/brigade/roster"
)

// PortalSchedule reads the day's duty roster from the scheduling portal's
// scrape service. Only filled entries count: an unfilled slot comes
// through as a "Section / Position" placeholder name and is not a person.
type PortalSchedule struct {
	settings roster.Settings
	client   *http.Client
}

// NewPortalSchedule builds a schedule source from run settings.
func NewPortalSchedule(settings roster.Settings) *PortalSchedule {
	return &PortalSchedule{
		settings: settings,
		client:   &http.Client{Timeout: HTTPRequestTimeout},
	}
}

// OnDuty implements ScheduleSource. Any transport or payload problem is
// returned as an error so the shift strategy can fail closed instead of
// treating an outage as an empty shift.
func (p *PortalSchedule) OnDuty(ctx context.Context, at time.Time) (DutyRoster, error) {
	if p.settings.ScheduleEndpoint == "" {
		return DutyRoster{}, fmt.Errorf("no schedule endpoint configured")
	}

	var body string
	err := requests.
		URL(p.settings.ScheduleEndpoint).
		Client(p.client).
		Path("/schedule").
		Param("date", at.UTC().Format("2006-01-02")).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return DutyRoster{}, fmt.Errorf("failed to fetch duty schedule %w", err)
	}

	doc := gjson.Parse(body)
	entries := doc.Get("entries")
	if !entries.Exists() || !entries.IsArray() {
		return DutyRoster{}, fmt.Errorf("failed to fetch duty schedule: missing entries array")
	}

	var names []string
	for _, e := range entries.Array() {
		name := strings.TrimSpace(e.Get("name").String())
		if !IsFilledEntry(name) {
			continue
		}
		names = append(names, name)
	}
	return NewDutyRoster(doc.Get("platoon").String(), names), nil
}

// IsFilledEntry reports whether a schedule entry name is a real person.
// Unfilled positions have empty names or the "Section / Position"
// placeholder pattern (e.g. "S31 / Firefighter").
func IsFilledEntry(name string) bool {
	if name == "" {
		return false
	}
	return !strings.Contains(name, " / ")
}
