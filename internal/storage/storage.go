// Package storage persists a log of dispatched queries for later
// analysis. Logging is best-effort: a failed insert must never break
// message handling.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry is one dispatched message and how it was resolved.
type Entry struct {
	Timestamp   time.Time
	MessageType string
	GroupID     int64
	UserID      int64
	Message     string
	Identifiers []string
	Outcome     string
	Reply       string
}

// Store writes query log entries.
type Store interface {
	Log(ctx context.Context, e Entry) error
	Close() error
}

// Open builds a store for the chosen backend. The dsn is a file path
// for sqlite, a connection URL for postgres, and host:port for
// clickhouse. An empty backend disables logging.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "":
		return nopStore{}, nil
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "clickhouse":
		return OpenClickHouse(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

type nopStore struct{}

func (nopStore) Log(context.Context, Entry) error { return nil }
func (nopStore) Close() error                     { return nil }

func joinIdentifiers(ids []string) string {
	return strings.Join(ids, ",")
}
