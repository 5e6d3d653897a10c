package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default single-file query log.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the query log database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		message_type TEXT NOT NULL,
		group_id INTEGER,
		user_id INTEGER,
		message TEXT NOT NULL,
		identifiers TEXT,
		outcome TEXT,
		reply TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_queries_outcome ON queries(outcome);
	CREATE INDEX IF NOT EXISTS idx_queries_user ON queries(user_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Log appends one entry to the query log.
func (s *SQLiteStore) Log(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (timestamp, message_type, group_id, user_id, message, identifiers, outcome, reply)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"), e.MessageType,
		e.GroupID, e.UserID, e.Message, joinIdentifiers(e.Identifiers), e.Outcome, e.Reply)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
