package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CleanupResult reports one retention sweep over the archive folder.
type CleanupResult struct {
	DeletedCount int
	Cutoff       time.Time
}

// Cleanup deletes archived messages older than the retention window.
// Per-message delete failures are logged and the sweep continues; only a
// failure to enumerate the archive surfaces, so the scheduler knows the
// sweep never ran. Nothing eligible is a clean zero-count result.
func Cleanup(ctx context.Context, mailbox Mailbox, retentionDays int) (CleanupResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := CleanupResult{Cutoff: cutoff}

	ids, err := mailbox.ListArchivedBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to run retention sweep %w", err)
	}

	for _, id := range ids {
		if err := mailbox.Delete(ctx, id); err != nil {
			log.Printf("Error deleting archived message %s: %v", id, err)
			continue
		}
		result.DeletedCount++
	}
	if result.DeletedCount > 0 {
		log.Printf("Retention sweep deleted %d messages older than %s", result.DeletedCount, cutoff.Format("2006-01-02"))
	}
	return result, nil
}
