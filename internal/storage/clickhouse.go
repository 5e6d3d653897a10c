package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseStore keeps the query log in ClickHouse, for deployments
// that want long-term analytics over the chat traffic.
type ClickHouseStore struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection and ensures the schema exists.
func OpenClickHouse(ctx context.Context, addr string) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS queries (
		timestamp     DateTime64(3),
		message_type  LowCardinality(String),
		group_id      Int64,
		user_id       Int64,
		message       String,
		identifiers   String,
		outcome       LowCardinality(String),
		reply         String
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (outcome, timestamp)
	SETTINGS index_granularity = 8192`
	if err := conn.Exec(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// Log appends one entry to the query log.
func (s *ClickHouseStore) Log(ctx context.Context, e Entry) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO queries (timestamp, message_type, group_id, user_id, message, identifiers, outcome, reply)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp, e.MessageType, e.GroupID, e.UserID, e.Message,
		joinIdentifiers(e.Identifiers), e.Outcome, e.Reply)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
