package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map guarded by an RWMutex. It backs
// local development and tests where no sqlite DSN is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(ctx context.Context, messageID string, date string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[messageID]
	if !ok || (date != "" && rec.Date != date) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.MessageID] = rec
	return nil
}

func (s *MemoryStore) List(ctx context.Context, date string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Record
	for _, rec := range s.records {
		if date == "" || rec.Date == date {
			result = append(result, rec)
		}
	}
	sortRecords(result)
	return result, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Record
	for _, rec := range s.records {
		if rec.Status == status {
			result = append(result, rec)
		}
	}
	sortRecords(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Close() error { return nil }

// sortRecords orders by date then message id so listings are stable
// regardless of map iteration order.
func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date < recs[j].Date
		}
		return recs[i].MessageID < recs[j].MessageID
	})
}
