package roster

import (
	"log"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone parses a free-form phone number from the portal and
// returns it in E.164 format. The portal lets members type anything, so
// unparseable values log a warning and come back empty rather than
// failing the record.
func NormalizePhone(raw string, region string) string {
	number := strings.TrimSpace(raw)
	if number == "" {
		return ""
	}
	if region == "" {
		region = "US"
	}
	parsed, err := libphonenumber.Parse(number, region)
	if err != nil {
		log.Printf("Warning: failed to parse phone number %q: %v", number, err)
		return ""
	}
	if !libphonenumber.IsValidNumber(parsed) {
		log.Printf("Warning: invalid phone number %q (region %s)", number, region)
		return ""
	}
	return libphonenumber.Format(parsed, libphonenumber.E164)
}
