package dbpool

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"), Config{MaxReaders: 3})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.W.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestOpen_PoolShape(t *testing.T) {
	db := openTestDB(t)
	s := db.Stats()
	if s.Writer.MaxOpenConnections != 1 {
		t.Errorf("writer MaxOpenConnections = %d, want 1", s.Writer.MaxOpenConnections)
	}
	if s.Reader.MaxOpenConnections != 3 {
		t.Errorf("reader MaxOpenConnections = %d, want 3", s.Reader.MaxOpenConnections)
	}
}

func TestDSNPragmasApply(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.R.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var busy int
	if err := db.R.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busy)
	}

	var fk int
	if err := db.R.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestReaderIsReadOnly(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.R.Exec(`INSERT INTO events (body) VALUES ('x')`); err == nil {
		t.Error("reader handle accepted a write")
	}
}

func TestReadersDoNotBlockOnWriter(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.W.Exec(`INSERT INTO events (body) VALUES ('committed')`); err != nil {
		t.Fatal(err)
	}

	// Hold an open write transaction with pending changes.
	tx, err := db.W.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`INSERT INTO events (body) VALUES ('pending')`); err != nil {
		t.Fatal(err)
	}

	// Under WAL a reader proceeds immediately and sees the last
	// committed snapshot, not the pending write.
	start := time.Now()
	var n int
	if err := db.R.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("read blocked on the open write transaction for %v", elapsed)
	}
	if n != 1 {
		t.Errorf("reader saw %d rows mid-transaction, want 1", n)
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := db.R.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("reader saw %d rows after commit, want 2", n)
	}
}

func TestWritesSerializeThroughOneConnection(t *testing.T) {
	db := openTestDB(t)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := db.W.Exec(`INSERT INTO events (body) VALUES ('w')`)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}

	var n int
	if err := db.R.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Errorf("rows = %d, want 8", n)
	}
}

func TestOpen_RejectsMemory(t *testing.T) {
	if _, err := Open(":memory:", Config{}); err == nil {
		t.Error("Open accepted an in-memory path")
	}
	if _, err := Open("", Config{}); err == nil {
		t.Error("Open accepted an empty path")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "app.db"), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.W.Ping(); err == nil {
		t.Error("writer usable after Close")
	}
}
