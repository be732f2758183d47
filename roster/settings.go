package roster

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings holds the flat environment-sourced configuration shared by
// every run: directory credentials, webhook secret, mailbox identity and
// the optional cache DSN. Group definitions live in the YAML sync config,
// not here.
type Settings struct {
	TenantID     string `env:"BRIGADE_TENANT_ID"`
	ClientID     string `env:"BRIGADE_CLIENT_ID"`
	ClientSecret string `env:"BRIGADE_CLIENT_SECRET"`

	DirectoryEndpoint string `env:"BRIGADE_DIRECTORY_ENDPOINT" envDefault:"https://graph.microsoft.com"`
	TokenEndpoint     string `env:"BRIGADE_TOKEN_ENDPOINT"`

	WebhookClientState string `env:"BRIGADE_WEBHOOK_CLIENT_STATE"`

	MailboxUserID string `env:"BRIGADE_MAILBOX_USER_ID"`
	ArchiveFolder string `env:"BRIGADE_ARCHIVE_FOLDER" envDefault:"Dispatch Archive"`
	RetentionDays int    `env:"BRIGADE_RETENTION_DAYS" envDefault:"30"`

	ScheduleEndpoint string `env:"BRIGADE_SCHEDULE_ENDPOINT"`

	// StoreDSN selects the sqlite cache backend; empty means in-memory.
	StoreDSN string `env:"BRIGADE_STORE_DSN"`
}

// LoadSettings parses Settings from the environment. Missing credentials
// are a configuration error and must abort the run before any mutation.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("failed to parse environment settings %w", err)
	}
	if s.TenantID == "" || s.ClientID == "" || s.ClientSecret == "" {
		return s, fmt.Errorf("missing directory credentials: BRIGADE_TENANT_ID, BRIGADE_CLIENT_ID and BRIGADE_CLIENT_SECRET are required")
	}
	return s, nil
}
