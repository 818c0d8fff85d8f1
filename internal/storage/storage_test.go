package storage

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tables := []string{"workflows", "agents", "workers", "messages", "inbox_ack", "resources", "proposals", "votes"}
	for _, tbl := range tables {
		var name string
		row := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, tbl)
		if err := row.Scan(&name); err != nil {
			t.Errorf("table %s missing: %v", tbl, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()
}

func TestMessagesSeqIsAutoincrementing(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if _, err := db.Exec(`INSERT INTO messages (id, sender, workflow, tag, content, created_at) VALUES (?, 'alice', 'global', 'main', 'hi', '2024-01-01T00:00:00Z')`, "m"+string(rune('0'+i))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	rows, err := db.Query(`SELECT seq FROM messages ORDER BY seq ASC`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var last int64
	count := 0
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if seq <= last {
			t.Errorf("sequence did not increase: %d <= %d", seq, last)
		}
		last = seq
		count++
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
