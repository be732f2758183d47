package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_records (
	message_id TEXT PRIMARY KEY,
	date       TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatch_records_date ON dispatch_records (date);
CREATE INDEX IF NOT EXISTS idx_dispatch_records_status ON dispatch_records (status);
`

// SQLiteStore persists records in a single table: the idempotency key and
// the two scan dimensions (date, status) are columns, everything else
// lives in a JSON document column.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite database at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare sqlite schema %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, messageID string, date string) (Record, error) {
	query := `SELECT doc FROM dispatch_records WHERE message_id = ?`
	args := []any{messageID}
	if date != "" {
		query += ` AND date = ?`
		args = append(args, date)
	}
	var doc string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record %q %w", messageID, err)
	}
	return decodeRecord(doc), nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dispatch_records (message_id, date, status, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET date = excluded.date, status = excluded.status, doc = excluded.doc`,
		rec.MessageID, rec.Date, rec.Status, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert record %q %w", rec.MessageID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, date string) ([]Record, error) {
	query := `SELECT doc FROM dispatch_records ORDER BY date, message_id`
	args := []any{}
	if date != "" {
		query = `SELECT doc FROM dispatch_records WHERE date = ? ORDER BY message_id`
		args = append(args, date)
	}
	return s.scan(ctx, query, args...)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status string, limit int) ([]Record, error) {
	query := `SELECT doc FROM dispatch_records WHERE status = ? ORDER BY date, message_id`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scan(ctx, query, args...)
}

func (s *SQLiteStore) scan(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records %w", err)
	}
	defer rows.Close()
	var result []Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan record %w", err)
		}
		result = append(result, decodeRecord(doc))
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeRecord(rec Record) (string, error) {
	doc := "{}"
	var err error
	for _, f := range []struct {
		path  string
		value any
	}{
		{"id", rec.MessageID},
		{"date", rec.Date},
		{"sender", rec.Sender},
		{"subject", rec.Subject},
		{"incident_number", rec.IncidentNumber},
		{"call_time", rec.CallTime},
		{"classification", rec.Classification},
		{"status", rec.Status},
		{"retry_count", rec.RetryCount},
		{"stored_at", rec.StoredAt.UTC().Format(time.RFC3339Nano)},
	} {
		doc, err = sjson.Set(doc, f.path, f.value)
		if err != nil {
			return "", fmt.Errorf("failed to encode record %q %w", rec.MessageID, err)
		}
	}
	return doc, nil
}

func decodeRecord(doc string) Record {
	storedAt, _ := time.Parse(time.RFC3339Nano, gjson.Get(doc, "stored_at").String())
	return Record{
		MessageID:      gjson.Get(doc, "id").String(),
		Date:           gjson.Get(doc, "date").String(),
		Sender:         gjson.Get(doc, "sender").String(),
		Subject:        gjson.Get(doc, "subject").String(),
		IncidentNumber: gjson.Get(doc, "incident_number").String(),
		CallTime:       gjson.Get(doc, "call_time").String(),
		Classification: gjson.Get(doc, "classification").String(),
		Status:         gjson.Get(doc, "status").String(),
		RetryCount:     int(gjson.Get(doc, "retry_count").Int()),
		StoredAt:       storedAt,
	}
}
