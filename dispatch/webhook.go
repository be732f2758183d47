package dispatch

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// MessageProcessor is the webhook's downstream: something that can run
// one mailbox message through the dispatch pipeline.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, messageID string) error
}

// Notification is one change notification from the mail service.
type Notification struct {
	Resource    string
	ClientState string
	ChangeType  string
}

// MessageID extracts the mailbox message id from the notification
// resource path. Empty when the resource is not a message.
func (n Notification) MessageID() string {
	const marker = "/messages/"
	i := strings.LastIndex(n.Resource, marker)
	if i < 0 {
		return ""
	}
	return n.Resource[i+len(marker):]
}

// WebhookHandler receives mail change notifications. The mail service
// retries on non-2xx responses, so the handler answers 200 for every
// well-formed request and handles bad notifications by ignoring them;
// only an unparseable body gets a 400.
type WebhookHandler struct {
	// ClientState is the shared secret echoed back in each notification.
	// Notifications carrying a different value are ignored.
	ClientState string
	Processor   MessageProcessor
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscription handshake: echo the validation token verbatim.
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, token)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		http.Error(w, "invalid notification body", http.StatusBadRequest)
		return
	}

	for _, raw := range gjson.GetBytes(body, "value").Array() {
		n := Notification{
			Resource:    raw.Get("resource").String(),
			ClientState: raw.Get("clientState").String(),
			ChangeType:  raw.Get("changeType").String(),
		}
		if h.ClientState != "" && n.ClientState != h.ClientState {
			log.Printf("Warning: notification with wrong clientState ignored")
			continue
		}
		messageID := n.MessageID()
		if messageID == "" {
			log.Printf("Ignoring non-message notification for %q", n.Resource)
			continue
		}
		// A failed message must not make the mail service back off and
		// retry the whole batch.
		if err := h.Processor.ProcessMessage(r.Context(), messageID); err != nil {
			log.Printf("Error processing message %s: %v", messageID, err)
		}
	}
	w.WriteHeader(http.StatusOK)
}
