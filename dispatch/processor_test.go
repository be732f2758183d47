package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homemade/brigade/store"
)

// fakeMailbox serves canned messages and records tidy-up calls.
type fakeMailbox struct {
	messages map[string]Message
	read     map[string]bool
	archived map[string]bool
	deleted  []string

	getErr     error
	listErr    error
	deleteErrs map[string]error
}

func newFakeMailbox(msgs ...Message) *fakeMailbox {
	f := &fakeMailbox{
		messages:   map[string]Message{},
		read:       map[string]bool{},
		archived:   map[string]bool{},
		deleteErrs: map[string]error{},
	}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeMailbox) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if f.getErr != nil {
		return Message{}, f.getErr
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return Message{}, errors.New("message not found")
	}
	return msg, nil
}

func (f *fakeMailbox) MarkRead(ctx context.Context, messageID string) error {
	f.read[messageID] = true
	return nil
}

func (f *fakeMailbox) Archive(ctx context.Context, messageID string) error {
	f.archived[messageID] = true
	return nil
}

func (f *fakeMailbox) ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for id, m := range f.messages {
		if f.archived[id] && m.Received.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeMailbox) Delete(ctx context.Context, messageID string) error {
	if err := f.deleteErrs[messageID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, messageID)
	delete(f.messages, messageID)
	return nil
}

var callReceived = time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)

func fullMessage() Message {
	return Message{
		ID:       "msg-1",
		Subject:  "Dispatch: Structure Fire 26-001234",
		Body:     "Report of smoke from residence, Station 31 respond.",
		Sender:   "dispatch@islandcad.example",
		Received: callReceived,
	}
}

func newProcessor(mailbox Mailbox) (*Processor, store.Store) {
	st := store.NewMemoryStore()
	return &Processor{Mailbox: mailbox, Store: st}, st
}

func TestProcessMessage(t *testing.T) {
	mailbox := newFakeMailbox(fullMessage())
	p, st := newProcessor(mailbox)

	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}

	rec, err := st.Get(context.Background(), "msg-1", "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if rec.IncidentNumber != "26-001234" || rec.CallTime != "09:26" || rec.Classification != "fire" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Status != store.StatusEnriched {
		t.Errorf("Status = %q, want enriched", rec.Status)
	}
	if !mailbox.read["msg-1"] || !mailbox.archived["msg-1"] {
		t.Error("message was not marked read and archived")
	}
}

func TestProcessMessageRedeliveryIsIdempotent(t *testing.T) {
	mailbox := newFakeMailbox(fullMessage())
	p, st := newProcessor(mailbox)

	for i := 0; i < 3; i++ {
		if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
			t.Fatal(err)
		}
	}

	records, err := st.List(context.Background(), "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("redelivery produced %d records, want 1", len(records))
	}
	if records[0].RetryCount != 0 {
		t.Errorf("redelivery bumped RetryCount to %d", records[0].RetryCount)
	}
}

func TestProcessMessagePartialExtractionIsFailed(t *testing.T) {
	msg := fullMessage()
	msg.Subject = "FYI"
	msg.Body = "no incident details here"
	mailbox := newFakeMailbox(msg)
	p, st := newProcessor(mailbox)

	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}

	rec, err := st.Get(context.Background(), "msg-1", "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed", rec.Status)
	}
	// Stored anyway: the mailbox is still tidied and the record retried later
	if !mailbox.archived["msg-1"] {
		t.Error("partial message was not archived")
	}
}

func TestProcessMessageKeepsEarlierExtraction(t *testing.T) {
	mailbox := newFakeMailbox(fullMessage())
	p, st := newProcessor(mailbox)

	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}

	// The same message comes back degraded: subject and body lost their
	// incident details. The good earlier extraction must survive.
	degraded := fullMessage()
	degraded.Subject = ""
	degraded.Body = ""
	mailbox.messages["msg-1"] = degraded

	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}

	rec, err := st.Get(context.Background(), "msg-1", "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if rec.IncidentNumber != "26-001234" || rec.Classification != "fire" {
		t.Errorf("degraded redelivery clobbered the record: %+v", rec)
	}
	if rec.Status != store.StatusEnriched {
		t.Errorf("Status = %q, want enriched", rec.Status)
	}
}

func TestRetryFailed(t *testing.T) {
	msg := fullMessage()
	msg.Subject = "FYI"
	msg.Body = "no details yet"
	mailbox := newFakeMailbox(msg)
	p, st := newProcessor(mailbox)

	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}

	// Details arrive before the retry sweep
	mailbox.messages["msg-1"] = fullMessage()

	retried, err := p.RetryFailed(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d, want 1", retried)
	}

	rec, err := st.Get(context.Background(), "msg-1", "2026-03-14")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusEnriched {
		t.Errorf("Status = %q, want enriched after retry", rec.Status)
	}
	if rec.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", rec.RetryCount)
	}
}

// statusRecordingStore wraps a Store and keeps the status of every
// upsert, in order.
type statusRecordingStore struct {
	store.Store
	statuses []string
}

func (s *statusRecordingStore) Upsert(ctx context.Context, rec store.Record) error {
	s.statuses = append(s.statuses, rec.Status)
	return s.Store.Upsert(ctx, rec)
}

func TestProcessMessageRecordIsBornPending(t *testing.T) {
	mailbox := newFakeMailbox(fullMessage())
	recording := &statusRecordingStore{Store: store.NewMemoryStore()}
	p := &Processor{Mailbox: mailbox, Store: recording}

	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}

	want := []string{store.StatusPending, store.StatusEnriched}
	if len(recording.statuses) != 2 || recording.statuses[0] != want[0] || recording.statuses[1] != want[1] {
		t.Fatalf("upsert statuses = %v, want %v", recording.statuses, want)
	}

	// Redelivery finds the record and never resets it to pending
	if err := p.ProcessMessage(context.Background(), "msg-1"); err != nil {
		t.Fatal(err)
	}
	if last := recording.statuses[len(recording.statuses)-1]; last != store.StatusEnriched {
		t.Errorf("redelivery status = %q, want enriched", last)
	}
	if n := len(recording.statuses); n != 3 {
		t.Errorf("redelivery wrote %d stubs too many", n-3)
	}
}

func TestProcessMessageFetchFailure(t *testing.T) {
	mailbox := newFakeMailbox()
	mailbox.getErr = errors.New("mailbox unavailable")
	p, st := newProcessor(mailbox)

	if err := p.ProcessMessage(context.Background(), "msg-1"); err == nil {
		t.Fatal("expected an error when the mailbox is unavailable")
	}
	if records, _ := st.List(context.Background(), "2026-03-14"); len(records) != 0 {
		t.Errorf("failed fetch stored records: %v", records)
	}
}
