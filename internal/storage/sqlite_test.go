package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	err = store.Log(ctx, Entry{
		Timestamp:   time.Date(2018, 6, 1, 8, 0, 0, 0, time.UTC),
		MessageType: "group",
		GroupID:     100,
		UserID:      42,
		Message:     "G1234在哪",
		Identifiers: []string{"G1234"},
		Outcome:     "train",
		Reply:       "…",
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	var count int
	row := store.db.QueryRow("SELECT COUNT(*) FROM queries WHERE outcome = 'train'")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d", count)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", ""); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestOpenDisabled(t *testing.T) {
	store, err := Open(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Log(context.Background(), Entry{}); err != nil {
		t.Errorf("nop log: %v", err)
	}
}
