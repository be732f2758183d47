package groups

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

// HTTPRequestTimeout bounds every directory and schedule call.
const HTTPRequestTimeout = 30 * time.Second

// GraphDirectory talks to a Microsoft-Graph-style identity directory.
// Construct one per run with NewGraphDirectory; it is safe for the
// concurrent per-group reconciliation within that run.
type GraphDirectory struct {
	settings roster.Settings
	client   *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	users    map[string]directoryUser // identity key -> user
}

type directoryUser struct {
	ID          string
	DisplayName string
}

// NewGraphDirectory builds a directory client from run settings.
func NewGraphDirectory(settings roster.Settings) *GraphDirectory {
	return &GraphDirectory{
		settings: settings,
		client:   &http.Client{Timeout: HTTPRequestTimeout},
	}
}

// apiBuilder returns a requests.Builder configured for the directory API
// with a fresh bearer token.
func (d *GraphDirectory) apiBuilder(ctx context.Context) (*requests.Builder, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return requests.
		URL(d.settings.DirectoryEndpoint).
		Client(d.client).
		Bearer(token), nil
}

// accessToken returns a cached client-credentials token, refreshing when
// within a minute of expiry.
func (d *GraphDirectory) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.token != "" && time.Now().Before(d.tokenExp.Add(-time.Minute)) {
		return d.token, nil
	}

	endpoint := d.settings.TokenEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", d.settings.TenantID)
	}

	var body string
	err := requests.
		URL(endpoint).
		Client(d.client).
		BodyForm(url.Values{
			"client_id":     {d.settings.ClientID},
			"client_secret": {d.settings.ClientSecret},
			"scope":         {"https://graph.microsoft.com/.default"},
			"grant_type":    {"client_credentials"},
		}).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire directory token %w", err)
	}

	token := gjson.Get(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("failed to acquire directory token: empty access_token in response")
	}
	d.token = token
	d.tokenExp = time.Now().Add(time.Duration(gjson.Get(body, "expires_in").Int()) * time.Second)
	return d.token, nil
}

// loadUsers fetches the full user list once per run and indexes it by
// identity key (mail and principal name, both lowercased).
func (d *GraphDirectory) loadUsers(ctx context.Context) (map[string]directoryUser, error) {
	d.mu.Lock()
	cached := d.users
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return nil, err
	}
	var body string
	err = builder.
		Path("/v1.0/users").
		Param("$select", "id,displayName,mail,userPrincipalName").
		Param("$top", "999").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory users %w", err)
	}

	users := make(map[string]directoryUser)
	for _, u := range gjson.Get(body, "value").Array() {
		user := directoryUser{
			ID:          u.Get("id").String(),
			DisplayName: u.Get("displayName").String(),
		}
		if mail := strings.ToLower(u.Get("mail").String()); mail != "" {
			users[mail] = user
		}
		if upn := strings.ToLower(u.Get("userPrincipalName").String()); upn != "" {
			users[upn] = user
		}
	}
	log.Printf("Loaded %d directory user entries", len(users))

	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
	return users, nil
}

func (d *GraphDirectory) resolveUser(ctx context.Context, member GroupMember) (directoryUser, error) {
	users, err := d.loadUsers(ctx)
	if err != nil {
		return directoryUser{}, err
	}
	user, ok := users[strings.ToLower(member.Key)]
	if !ok {
		return directoryUser{}, fmt.Errorf("no directory user for %s", member.Key)
	}
	return user, nil
}

// EnsureGroup implements Directory.
func (d *GraphDirectory) EnsureGroup(ctx context.Context, cfg GroupConfig, dryRun bool) (string, bool, error) {
	existing, err := d.findGroup(ctx, cfg)
	if err != nil {
		return "", false, err
	}
	if existing != "" {
		if err := d.refreshDescription(ctx, existing, cfg, dryRun); err != nil {
			// Description drift is cosmetic; never fail the group over it
			log.Printf("Warning: failed to update description for %s: %v", cfg.DisplayName, err)
		}
		return existing, false, nil
	}

	if dryRun {
		log.Printf("Would create group %s", cfg.DisplayName)
		return "", true, nil
	}

	body := "{}"
	for _, f := range []struct {
		path  string
		value any
	}{
		{"displayName", cfg.DisplayName},
		{"mailNickname", cfg.Alias()},
		{"description", cfg.FullDescription()},
		{"mailEnabled", true},
		{"securityEnabled", false},
		{"groupTypes", []string{"Unified"}},
		{"visibility", "Public"},
	} {
		body, _ = sjson.Set(body, f.path, f.value)
	}

	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return "", false, err
	}
	var response string
	err = builder.
		Path("/v1.0/groups").
		BodyBytes([]byte(body)).
		ContentType("application/json").
		ToString(&response).
		Fetch(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to create group %q %w", cfg.DisplayName, err)
	}
	id := gjson.Get(response, "id").String()
	if id == "" {
		return "", false, fmt.Errorf("failed to create group %q: no id in response", cfg.DisplayName)
	}
	log.Printf("Created group %s (%s)", cfg.DisplayName, id)
	return id, true, nil
}

// findGroup looks the group up by mail nickname, then display name.
func (d *GraphDirectory) findGroup(ctx context.Context, cfg GroupConfig) (string, error) {
	for _, filter := range []string{
		fmt.Sprintf("mailNickname eq '%s'", escapeODataLiteral(cfg.Alias())),
		fmt.Sprintf("displayName eq '%s'", escapeODataLiteral(cfg.DisplayName)),
	} {
		builder, err := d.apiBuilder(ctx)
		if err != nil {
			return "", err
		}
		var body string
		err = builder.
			Path("/v1.0/groups").
			Param("$filter", filter).
			Param("$select", "id,description").
			ToString(&body).
			Fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to look up group %q %w", cfg.DisplayName, err)
		}
		if id := gjson.Get(body, "value.0.id").String(); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func (d *GraphDirectory) refreshDescription(ctx context.Context, groupID string, cfg GroupConfig, dryRun bool) error {
	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return err
	}
	var body string
	err = builder.
		Path("/v1.0/groups/" + groupID).
		Param("$select", "description").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return err
	}
	want := cfg.FullDescription()
	if gjson.Get(body, "description").String() == want {
		return nil
	}
	if dryRun {
		log.Printf("Would update description for %s", cfg.DisplayName)
		return nil
	}
	patch, _ := sjson.Set("{}", "description", want)
	builder, err = d.apiBuilder(ctx)
	if err != nil {
		return err
	}
	return builder.
		Path("/v1.0/groups/"+groupID).
		Patch().
		BodyBytes([]byte(patch)).
		ContentType("application/json").
		Fetch(ctx)
}

// Snapshot implements Directory.
func (d *GraphDirectory) Snapshot(ctx context.Context, groupID string) ([]GroupMember, error) {
	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return nil, err
	}
	var body string
	err = builder.
		Path(fmt.Sprintf("/v1.0/groups/%s/members", groupID)).
		Param("$select", "id,displayName,mail,userPrincipalName").
		Param("$top", "999").
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read group membership %w", err)
	}

	var members []GroupMember
	for _, u := range gjson.Get(body, "value").Array() {
		key := strings.ToLower(u.Get("mail").String())
		if key == "" {
			key = strings.ToLower(u.Get("userPrincipalName").String())
		}
		if key == "" {
			// Directory objects without any mail identity (service
			// principals and the like) cannot be reconciled by key
			log.Printf("Warning: group %s member %s has no mail identity", groupID, u.Get("id").String())
			continue
		}
		members = append(members, GroupMember{Key: key, DisplayName: u.Get("displayName").String()})
	}
	return members, nil
}

// AddMember implements Directory.
func (d *GraphDirectory) AddMember(ctx context.Context, groupID string, member GroupMember) error {
	user, err := d.resolveUser(ctx, member)
	if err != nil {
		return err
	}
	ref, _ := sjson.Set("{}", "@odata\\.id",
		fmt.Sprintf("%s/v1.0/directoryObjects/%s", d.settings.DirectoryEndpoint, user.ID))
	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return err
	}
	err = builder.
		Path(fmt.Sprintf("/v1.0/groups/%s/members/$ref", groupID)).
		BodyBytes([]byte(ref)).
		ContentType("application/json").
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to add member %w", err)
	}
	return nil
}

// RemoveMember implements Directory.
func (d *GraphDirectory) RemoveMember(ctx context.Context, groupID string, member GroupMember) error {
	user, err := d.resolveUser(ctx, member)
	if err != nil {
		return err
	}
	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return err
	}
	err = builder.
		Path(fmt.Sprintf("/v1.0/groups/%s/members/%s/$ref", groupID, user.ID)).
		Delete().
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove member %w", err)
	}
	return nil
}

// UpdateMember implements Directory: fixes a drifted display name.
func (d *GraphDirectory) UpdateMember(ctx context.Context, groupID string, member GroupMember) error {
	user, err := d.resolveUser(ctx, member)
	if err != nil {
		return err
	}
	patch, _ := sjson.Set("{}", "displayName", member.DisplayName)
	builder, err := d.apiBuilder(ctx)
	if err != nil {
		return err
	}
	err = builder.
		Path("/v1.0/users/"+user.ID).
		Patch().
		BodyBytes([]byte(patch)).
		ContentType("application/json").
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to update member %w", err)
	}
	return nil
}

// escapeODataLiteral doubles single quotes for $filter string literals.
func escapeODataLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
