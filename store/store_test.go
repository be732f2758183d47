package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id, date, status string) Record {
	return Record{
		MessageID:      id,
		Date:           date,
		Sender:         "dispatch@ifiber911.org",
		Subject:        "Dispatch Report 26-001678",
		IncidentNumber: "26-001678",
		CallTime:       "2026-08-12T14:03:00Z",
		Classification: "fire",
		Status:         status,
		StoredAt:       time.Date(2026, 8, 12, 14, 5, 0, 0, time.UTC),
	}
}

// Both backends are exercised through the same scenarios so the fallback
// store cannot drift from the sqlite one.
func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "brigade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			rec := testRecord("msg-1", "2026-08-12", StatusEnriched)
			require.NoError(t, s.Upsert(ctx, rec))
			require.NoError(t, s.Upsert(ctx, rec))

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 1)

			got, err := s.Get(ctx, "msg-1", "2026-08-12")
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Upsert(ctx, testRecord("msg-1", "2026-08-12", StatusFailed)))
			updated := testRecord("msg-1", "2026-08-12", StatusEnriched)
			updated.RetryCount = 2
			require.NoError(t, s.Upsert(ctx, updated))

			got, err := s.Get(ctx, "msg-1", "2026-08-12")
			require.NoError(t, err)
			assert.Equal(t, StatusEnriched, got.Status)
			assert.Equal(t, 2, got.RetryCount)
		})
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing", "2026-08-12")
			assert.ErrorIs(t, err, ErrNotFound)

			// Wrong partition misses even when the id exists
			require.NoError(t, s.Upsert(ctx, testRecord("msg-1", "2026-08-12", StatusEnriched)))
			_, err = s.Get(ctx, "msg-1", "2026-08-13")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListByDateAndStatus(t *testing.T) {
	ctx := context.Background()
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Upsert(ctx, testRecord("msg-b", "2026-08-12", StatusEnriched)))
			require.NoError(t, s.Upsert(ctx, testRecord("msg-a", "2026-08-12", StatusFailed)))
			require.NoError(t, s.Upsert(ctx, testRecord("msg-c", "2026-08-13", StatusFailed)))

			day, err := s.List(ctx, "2026-08-12")
			require.NoError(t, err)
			require.Len(t, day, 2)
			assert.Equal(t, "msg-a", day[0].MessageID)
			assert.Equal(t, "msg-b", day[1].MessageID)

			failed, err := s.ListByStatus(ctx, StatusFailed, 0)
			require.NoError(t, err)
			assert.Len(t, failed, 2)

			limited, err := s.ListByStatus(ctx, StatusFailed, 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "msg-a", limited[0].MessageID)
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok, "empty DSN should select the in-memory store")

	s, err = Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()
	_, ok = s.(*SQLiteStore)
	assert.True(t, ok, "DSN should select the sqlite store")
}
