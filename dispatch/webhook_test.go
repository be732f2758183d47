package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingProcessor struct {
	processed []string
	err       error
}

func (r *recordingProcessor) ProcessMessage(ctx context.Context, messageID string) error {
	r.processed = append(r.processed, messageID)
	return r.err
}

func notificationBody(clientState string, resources ...string) string {
	var items []string
	for _, r := range resources {
		items = append(items, fmt.Sprintf(`{"clientState":%q,"changeType":"created","resource":%q}`, clientState, r))
	}
	return `{"value":[` + strings.Join(items, ",") + `]}`
}

func postNotification(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhookValidationHandshake(t *testing.T) {
	h := &WebhookHandler{ClientState: "secret", Processor: &recordingProcessor{}}

	req := httptest.NewRequest(http.MethodGet, "/webhook?validationToken=abc%20123", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body, _ := io.ReadAll(w.Body); string(body) != "abc 123" {
		t.Errorf("body = %q, token must be echoed verbatim", body)
	}
}

func TestWebhookProcessesMessageNotifications(t *testing.T) {
	p := &recordingProcessor{}
	h := &WebhookHandler{ClientState: "secret", Processor: p}

	w := postNotification(t, h, notificationBody("secret",
		"users/box/messages/msg-1",
		"users/box/messages/msg-2",
	))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(p.processed) != 2 || p.processed[0] != "msg-1" || p.processed[1] != "msg-2" {
		t.Errorf("processed = %v", p.processed)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	p := &recordingProcessor{}
	h := &WebhookHandler{ClientState: "secret", Processor: p}

	w := postNotification(t, h, "{not json")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(p.processed) != 0 {
		t.Errorf("processed = %v", p.processed)
	}
}

func TestWebhookIgnoresBadNotifications(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"wrong clientState", notificationBody("wrong", "users/box/messages/msg-1")},
		{"non-message resource", notificationBody("secret", "users/box/events/evt-1")},
		{"missing value", `{"other":true}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := &recordingProcessor{}
			h := &WebhookHandler{ClientState: "secret", Processor: p}

			w := postNotification(t, h, c.body)

			// Well-formed but unusable notifications still answer 200 so
			// the mail service does not retry them forever
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if len(p.processed) != 0 {
				t.Errorf("processed = %v", p.processed)
			}
		})
	}
}

func TestWebhookIsolatesProcessingFailures(t *testing.T) {
	p := &recordingProcessor{err: errors.New("mailbox down")}
	h := &WebhookHandler{ClientState: "secret", Processor: p}

	w := postNotification(t, h, notificationBody("secret", "users/box/messages/msg-1"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, processing failures must not cause retries", w.Code)
	}
	if len(p.processed) != 1 {
		t.Errorf("processed = %v", p.processed)
	}
}
