// Package store persists dispatch records extracted from notification
// emails. Two backends share one contract: sqlite for deployments and an
// in-memory map for local development and tests. The backend is chosen
// explicitly at construction time.
package store

import (
	"context"
	"errors"
	"time"
)

// Statuses a dispatch record moves through. A record starts pending,
// becomes enriched once extraction fills its fields, and is marked failed
// when extraction came back incomplete and should be retried.
const (
	StatusPending  = "pending"
	StatusEnriched = "enriched"
	StatusFailed   = "failed"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("store: record not found")

// Record is a dispatch email's cached form. MessageID is the external
// message identifier and the idempotency key: upserting the same id twice
// converges to one record. Date (YYYY-MM-DD, from the received timestamp)
// partitions the store for range scans.
type Record struct {
	MessageID      string    `json:"id"`
	Date           string    `json:"date"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	IncidentNumber string    `json:"incident_number"`
	CallTime       string    `json:"call_time"`
	Classification string    `json:"classification"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	StoredAt       time.Time `json:"stored_at"`
}

// Store is the narrow cache contract consumed by the dispatch processor
// and, on the read side, by tooling outside this library.
type Store interface {
	Get(ctx context.Context, messageID string, date string) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	List(ctx context.Context, date string) ([]Record, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]Record, error)
	Close() error
}

// Open selects a backend: sqlite when a DSN is configured, otherwise the
// in-memory store. The fallback is deliberate and visible to the caller
// rather than a hidden global.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	return OpenSQLite(dsn)
}
