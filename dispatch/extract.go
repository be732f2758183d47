package dispatch

import (
	"regexp"
	"strings"
	"time"
)

// incidentNumberPattern matches the CAD incident number format: two-digit
// year, dash, six-digit sequence (e.g. 26-001234).
var incidentNumberPattern = regexp.MustCompile(`\b\d{2}-\d{6}\b`)

// classificationRules maps dispatch text keywords to a call
// classification. Checked in order: "mutual aid" must win over the bare
// "aid" that medical calls also carry.
var classificationRules = []struct {
	classification string
	keywords       []string
}{
	{"mutual aid", []string{"mutual aid"}},
	{"marine", []string{"marine", "vessel", "boat"}},
	{"fire", []string{"fire", "smoke", "burn"}},
	{"medical", []string{"medical", "aid call", "ems", "injury"}},
	{"alarm", []string{"alarm"}},
}

// Extraction holds the incident fields pulled out of one dispatch email.
type Extraction struct {
	IncidentNumber string
	CallTime       string
	Classification string
}

// Complete reports whether every field was extracted. Incomplete
// extractions are stored anyway and retried later.
func (e Extraction) Complete() bool {
	return e.IncidentNumber != "" && e.CallTime != "" && e.Classification != ""
}

// Extract pulls incident fields from a dispatch email. The incident
// number comes from subject or body, the call time from the received
// timestamp, and the classification from a keyword scan.
func Extract(subject, body string, received time.Time) Extraction {
	var ext Extraction

	ext.IncidentNumber = incidentNumberPattern.FindString(subject)
	if ext.IncidentNumber == "" {
		ext.IncidentNumber = incidentNumberPattern.FindString(body)
	}

	if !received.IsZero() {
		ext.CallTime = received.UTC().Format("15:04")
	}

	text := strings.ToLower(subject + "\n" + body)
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				ext.Classification = rule.classification
				return ext
			}
		}
	}
	return ext
}
