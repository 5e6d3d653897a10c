package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the query log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, connStr string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS queries (
		id            BIGSERIAL PRIMARY KEY,
		timestamp     TIMESTAMPTZ NOT NULL,
		message_type  TEXT NOT NULL,
		group_id      BIGINT,
		user_id       BIGINT,
		message       TEXT NOT NULL,
		identifiers   TEXT,
		outcome       TEXT,
		reply         TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_queries_outcome ON queries(outcome);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Log appends one entry to the query log.
func (s *PostgresStore) Log(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queries (timestamp, message_type, group_id, user_id, message, identifiers, outcome, reply)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.Timestamp, e.MessageType, e.GroupID, e.UserID, e.Message,
		joinIdentifiers(e.Identifiers), e.Outcome, e.Reply)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
