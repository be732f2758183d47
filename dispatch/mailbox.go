package dispatch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/homemade/brigade/roster"
)

// HTTPRequestTimeout bounds every mailbox call.
const HTTPRequestTimeout = 30 * time.Second

// Message is a dispatch email as fetched from the mailbox.
type Message struct {
	ID       string
	Subject  string
	Body     string
	Sender   string
	Received time.Time
}

// Mailbox is the mail surface the processor and the cleanup sweeper need.
// The production implementation is GraphMailbox; tests substitute fakes.
type Mailbox interface {
	GetMessage(ctx context.Context, messageID string) (Message, error)
	// MarkRead flags the message read so humans watching the shared
	// mailbox see it has been picked up.
	MarkRead(ctx context.Context, messageID string) error
	// Archive moves the message into the archive folder, creating the
	// folder on first use.
	Archive(ctx context.Context, messageID string) error
	// ListArchivedBefore returns ids of archived messages received before
	// the cutoff.
	ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, messageID string) error
}

// GraphMailbox reads and manages the shared dispatch mailbox through a
// Microsoft-Graph-style mail API.
type GraphMailbox struct {
	settings roster.Settings
	client   *http.Client

	mu              sync.Mutex
	token           string
	tokenExp        time.Time
	archiveFolderID string
}

// NewGraphMailbox builds a mailbox client from run settings.
func NewGraphMailbox(settings roster.Settings) *GraphMailbox {
	return &GraphMailbox{
		settings: settings,
		client:   &http.Client{Timeout: HTTPRequestTimeout},
	}
}

func (m *GraphMailbox) apiBuilder(ctx context.Context) (*requests.Builder, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return requests.
		URL(m.settings.DirectoryEndpoint).
		Client(m.client).
		Bearer(token), nil
}

func (m *GraphMailbox) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && time.Now().Before(m.tokenExp.Add(-time.Minute)) {
		return m.token, nil
	}

	endpoint := m.settings.TokenEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", m.settings.TenantID)
	}

	var body string
	err := requests.
		URL(endpoint).
		Client(m.client).
		BodyForm(url.Values{
			"client_id":     {m.settings.ClientID},
			"client_secret": {m.settings.ClientSecret},
			"scope":         {"https://graph.microsoft.com/.default"},
			"grant_type":    {"client_credentials"},
		}).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire mailbox token %w", err)
	}

	token := gjson.Get(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("failed to acquire mailbox token: empty access_token in response")
	}
	m.token = token
	m.tokenExp = time.Now().Add(time.Duration(gjson.Get(body, "expires_in").Int()) * time.Second)
	return m.token, nil
}

func (m *GraphMailbox) messagePath(messageID string) string {
	return fmt.Sprintf("/v1.0/users/%s/messages/%s", m.settings.MailboxUserID, messageID)
}

// GetMessage implements Mailbox.
func (m *GraphMailbox) GetMessage(ctx context.Context, messageID string) (Message, error) {
	builder, err := m.apiBuilder(ctx)
	if err != nil {
		return Message{}, err
	}
	var body string
	err = builder.
		Path(m.messagePath(messageID)).
		Param("$select", "id,subject,body,from,receivedDateTime").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("failed to fetch message %s %w", messageID, err)
	}

	doc := gjson.Parse(body)
	msg := Message{
		ID:      doc.Get("id").String(),
		Subject: doc.Get("subject").String(),
		Body:    doc.Get("body.content").String(),
		Sender:  strings.ToLower(doc.Get("from.emailAddress.address").String()),
	}
	if received := doc.Get("receivedDateTime").String(); received != "" {
		msg.Received, err = time.Parse(time.RFC3339, received)
		if err != nil {
			return Message{}, fmt.Errorf("failed to parse receivedDateTime for %s %w", messageID, err)
		}
	}
	return msg, nil
}

// MarkRead implements Mailbox.
func (m *GraphMailbox) MarkRead(ctx context.Context, messageID string) error {
	patch, _ := sjson.Set("{}", "isRead", true)
	builder, err := m.apiBuilder(ctx)
	if err != nil {
		return err
	}
	err = builder.
		Path(m.messagePath(messageID)).
		Patch().
		BodyBytes([]byte(patch)).
		ContentType("application/json").
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark message %s read %w", messageID, err)
	}
	return nil
}

// Archive implements Mailbox.
func (m *GraphMailbox) Archive(ctx context.Context, messageID string) error {
	folderID, err := m.ensureArchiveFolder(ctx)
	if err != nil {
		return err
	}
	move, _ := sjson.Set("{}", "destinationId", folderID)
	builder, err := m.apiBuilder(ctx)
	if err != nil {
		return err
	}
	err = builder.
		Path(m.messagePath(messageID) + "/move").
		BodyBytes([]byte(move)).
		ContentType("application/json").
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to archive message %s %w", messageID, err)
	}
	return nil
}

// ensureArchiveFolder finds the archive folder by name, creating it on
// first use. The id is cached for the life of the client.
func (m *GraphMailbox) ensureArchiveFolder(ctx context.Context) (string, error) {
	m.mu.Lock()
	cached := m.archiveFolderID
	m.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	builder, err := m.apiBuilder(ctx)
	if err != nil {
		return "", err
	}
	var body string
	err = builder.
		Path(fmt.Sprintf("/v1.0/users/%s/mailFolders", m.settings.MailboxUserID)).
		Param("$filter", fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(m.settings.ArchiveFolder, "'", "''"))).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to look up archive folder %w", err)
	}
	id := gjson.Get(body, "value.0.id").String()

	if id == "" {
		create, _ := sjson.Set("{}", "displayName", m.settings.ArchiveFolder)
		builder, err = m.apiBuilder(ctx)
		if err != nil {
			return "", err
		}
		var response string
		err = builder.
			Path(fmt.Sprintf("/v1.0/users/%s/mailFolders", m.settings.MailboxUserID)).
			BodyBytes([]byte(create)).
			ContentType("application/json").
			ToString(&response).
			Fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to create archive folder %w", err)
		}
		id = gjson.Get(response, "id").String()
		if id == "" {
			return "", fmt.Errorf("failed to create archive folder: no id in response")
		}
		log.Printf("Created archive folder %s (%s)", m.settings.ArchiveFolder, id)
	}

	m.mu.Lock()
	m.archiveFolderID = id
	m.mu.Unlock()
	return id, nil
}

// ListArchivedBefore implements Mailbox.
func (m *GraphMailbox) ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	folderID, err := m.ensureArchiveFolder(ctx)
	if err != nil {
		return nil, err
	}
	builder, err := m.apiBuilder(ctx)
	if err != nil {
		return nil, err
	}
	var body string
	err = builder.
		Path(fmt.Sprintf("/v1.0/users/%s/mailFolders/%s/messages", m.settings.MailboxUserID, folderID)).
		Param("$filter", fmt.Sprintf("receivedDateTime lt %s", cutoff.UTC().Format(time.RFC3339))).
		Param("$select", "id").
		Param("$top", "999").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived messages %w", err)
	}

	var ids []string
	for _, msg := range gjson.Get(body, "value").Array() {
		if id := msg.Get("id").String(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete implements Mailbox.
func (m *GraphMailbox) Delete(ctx context.Context, messageID string) error {
	builder, err := m.apiBuilder(ctx)
	if err != nil {
		return err
	}
	err = builder.
		Path(m.messagePath(messageID)).
		Delete().
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete message %s %w", messageID, err)
	}
	return nil
}
