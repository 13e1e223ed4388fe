// ABOUTME: SQLite implementation of the delivery transcript store using modernc.org/sqlite.
// ABOUTME: Creates its schema on open; parent directories are created as needed.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps writers from blocking the history reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS deliveries (
			delivery_id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			author TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_client_time
			ON deliveries(client_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDelivery persists one delivery record.
func (s *SQLiteStore) SaveDelivery(ctx context.Context, d *Delivery) error {
	query := `
		INSERT INTO deliveries (delivery_id, client_id, author, kind, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.ClientID,
		d.Author,
		string(d.Kind),
		d.Text,
		d.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the newest deliveries addressed to clientID or
// broadcast, newest first. limit is clamped to [1, 500]; zero selects 50.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, clientID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT delivery_id, client_id, author, kind, text, timestamp
		FROM deliveries
		WHERE client_id = ? OR client_id = ''
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var kind, ts string
		if err := rows.Scan(&d.ID, &d.ClientID, &d.Author, &kind, &d.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.Kind = DeliveryKind(kind)
		if d.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing delivery timestamp %q: %w", ts, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
