// Package dispatch turns dispatch notification emails into structured
// incident records: a webhook receives change notifications, the
// processor fetches and extracts each message, the store caches the
// result, and a sweeper expires old mail from the archive.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/homemade/brigade/store"
)

// Processor drives the per-message state machine: fetch, extract, cache,
// then tidy the mailbox. Safe for concurrent use when its collaborators
// are.
type Processor struct {
	Mailbox Mailbox
	Store   store.Store

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// ProcessMessage runs one message through the state machine. The upsert
// is idempotent on message id, so webhook redeliveries converge to one
// record. Mailbox tidy-up (mark read, archive) happens after the record
// is safely stored; its failures are logged, not returned, because the
// record is the point and the mailbox can be tidied next time.
func (p *Processor) ProcessMessage(ctx context.Context, messageID string) error {
	return p.process(ctx, messageID, false)
}

func (p *Processor) process(ctx context.Context, messageID string, bumpRetry bool) error {
	msg, err := p.Mailbox.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to process message %s %w", messageID, err)
	}

	received := msg.Received
	if received.IsZero() {
		received = p.now()
	}
	date := received.UTC().Format("2006-01-02")

	existing, err := p.Store.Get(ctx, messageID, date)
	found := err == nil
	switch {
	case found:
	case errors.Is(err, store.ErrNotFound):
		// A new record is born pending, so a crash between here and the
		// enrichment upsert still leaves a traceable row for the retry
		// sweep instead of nothing.
		stub := store.Record{
			MessageID: messageID,
			Date:      date,
			Sender:    msg.Sender,
			Subject:   msg.Subject,
			Status:    store.StatusPending,
			StoredAt:  p.now(),
		}
		if err := p.Store.Upsert(ctx, stub); err != nil {
			return fmt.Errorf("failed to process message %s %w", messageID, err)
		}
	default:
		return fmt.Errorf("failed to process message %s %w", messageID, err)
	}

	ext := Extract(msg.Subject, msg.Body, msg.Received)
	rec := store.Record{
		MessageID:      messageID,
		Date:           date,
		Sender:         msg.Sender,
		Subject:        msg.Subject,
		IncidentNumber: ext.IncidentNumber,
		CallTime:       ext.CallTime,
		Classification: ext.Classification,
		Status:         store.StatusEnriched,
		StoredAt:       p.now(),
	}
	if !ext.Complete() {
		rec.Status = store.StatusFailed
		log.Printf("Incomplete extraction for message %s, will retry", messageID)
	}
	if found {
		rec = mergeRecord(existing, rec)
	}
	if bumpRetry {
		rec.RetryCount++
	}

	if err := p.Store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to process message %s %w", messageID, err)
	}

	if err := p.Mailbox.MarkRead(ctx, messageID); err != nil {
		log.Printf("Warning: failed to mark %s read: %v", messageID, err)
	}
	if err := p.Mailbox.Archive(ctx, messageID); err != nil {
		log.Printf("Warning: failed to archive %s: %v", messageID, err)
	}
	return nil
}

// mergeRecord folds a fresh extraction into the stored record. Non-empty
// stored fields are never clobbered by an empty re-extraction, so a good
// earlier pass survives a degraded redelivery.
func mergeRecord(existing, incoming store.Record) store.Record {
	merged := incoming
	if merged.IncidentNumber == "" {
		merged.IncidentNumber = existing.IncidentNumber
	}
	if merged.CallTime == "" {
		merged.CallTime = existing.CallTime
	}
	if merged.Classification == "" {
		merged.Classification = existing.Classification
	}
	if merged.Sender == "" {
		merged.Sender = existing.Sender
	}
	if merged.Subject == "" {
		merged.Subject = existing.Subject
	}
	merged.RetryCount = existing.RetryCount
	if merged.IncidentNumber != "" && merged.CallTime != "" && merged.Classification != "" {
		merged.Status = store.StatusEnriched
	}
	return merged
}

// RetryFailed re-runs extraction for up to limit records stuck in the
// failed status, bumping each record's retry count. Per-record failures
// are isolated; the count of attempted retries comes back either way.
func (p *Processor) RetryFailed(ctx context.Context, limit int) (int, error) {
	failed, err := p.Store.ListByStatus(ctx, store.StatusFailed, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list records for retry %w", err)
	}

	retried := 0
	for _, rec := range failed {
		if err := p.process(ctx, rec.MessageID, true); err != nil {
			log.Printf("Error retrying message %s: %v", rec.MessageID, err)
			continue
		}
		retried++
	}
	return retried, nil
}
