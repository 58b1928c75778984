package outbox

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func openTestOutbox(t *testing.T) (*sql.DB, *Outbox) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE accounts (id TEXT PRIMARY KEY, balance INTEGER NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	ob, err := Setup(db)
	if err != nil {
		t.Fatal(err)
	}
	return db, ob
}

func enqueue(t *testing.T, db *sql.DB, ob *Outbox, topic, payload string) uuid.UUID {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	id, err := ob.Enqueue(tx, topic, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestEnqueue_SharesTransactionWithBusinessWrite(t *testing.T) {
	db, ob := openTestOutbox(t)
	ctx := context.Background()

	// Committed: both the account and its event exist.
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`INSERT INTO accounts (id, balance) VALUES ('a1', 100)`); err != nil {
		t.Fatal(err)
	}
	if _, err := ob.Enqueue(tx, "account.opened", []byte(`{"id":"a1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	// Rolled back: neither exists. No event without the state change.
	tx, err = db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`INSERT INTO accounts (id, balance) VALUES ('a2', 50)`); err != nil {
		t.Fatal(err)
	}
	if _, err := ob.Enqueue(tx, "account.opened", []byte(`{"id":"a2"}`)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	pending, err := ob.Pending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d events, want 1", len(pending))
	}
	if pending[0].Topic != "account.opened" || string(pending[0].Payload) != `{"id":"a1"}` {
		t.Errorf("pending[0] = %+v", pending[0])
	}
}

func TestDrain_PublishesInOrder(t *testing.T) {
	db, ob := openTestOutbox(t)
	ctx := context.Background()

	want := []string{"first", "second", "third"}
	for _, p := range want {
		enqueue(t, db, ob, "t", p)
	}

	var got []string
	relay, err := NewRelay(ob, func(ctx context.Context, ev Event) error {
		got = append(got, string(ev.Payload))
		return nil
	}, RelayConfig{})
	if err != nil {
		t.Fatal(err)
	}

	n, err := relay.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || relay.Published() != 3 {
		t.Errorf("Drain = %d, Published = %d, want 3", n, relay.Published())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("publish order = %v, want %v", got, want)
		}
	}

	pending, err := ob.Pending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("still pending after drain: %v", pending)
	}
}

func TestDrain_FailureStopsBatchAndRetries(t *testing.T) {
	db, ob := openTestOutbox(t)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		enqueue(t, db, ob, "t", p)
	}

	broken := true
	var got []string
	relay, err := NewRelay(ob, func(ctx context.Context, ev Event) error {
		if broken && string(ev.Payload) == "b" {
			return errors.New("sink down")
		}
		got = append(got, string(ev.Payload))
		return nil
	}, RelayConfig{})
	if err != nil {
		t.Fatal(err)
	}

	n, err := relay.Drain(ctx)
	if err == nil {
		t.Fatal("Drain swallowed the publish failure")
	}
	if n != 1 {
		t.Errorf("published %d before the failure, want 1", n)
	}

	// The sink heals; the next pass resumes at the failed event.
	broken = false
	n, err = relay.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("published %d on retry, want 2", n)
	}
	wantOrder := []string{"a", "b", "c"}
	for i := range wantOrder {
		if got[i] != wantOrder[i] {
			t.Fatalf("order across retries = %v, want %v", got, wantOrder)
		}
	}
}

func TestRun_MovesEventsUntilCanceled(t *testing.T) {
	db, ob := openTestOutbox(t)

	delivered := make(chan string, 4)
	relay, err := NewRelay(ob, func(ctx context.Context, ev Event) error {
		delivered <- string(ev.Payload)
		return nil
	}, RelayConfig{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	enqueue(t, db, ob, "t", "hello")
	select {
	case got := <-delivered:
		if got != "hello" {
			t.Errorf("delivered %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay never delivered the event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestMarkPublished_Idempotent(t *testing.T) {
	db, ob := openTestOutbox(t)
	ctx := context.Background()

	id := enqueue(t, db, ob, "t", "x")
	if err := ob.MarkPublished(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := ob.MarkPublished(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := ob.MarkPublished(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestPending_Limit(t *testing.T) {
	db, ob := openTestOutbox(t)
	for i := 0; i < 5; i++ {
		enqueue(t, db, ob, "t", "p")
	}
	pending, err := ob.Pending(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
	if pending[0].Seq >= pending[1].Seq {
		t.Errorf("seq order broken: %d, %d", pending[0].Seq, pending[1].Seq)
	}
}

func TestSetup_Idempotent(t *testing.T) {
	db, _ := openTestOutbox(t)
	if _, err := Setup(db); err != nil {
		t.Fatal(err)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	db, ob := openTestOutbox(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := ob.Enqueue(tx, "", []byte("x")); err == nil {
		t.Error("Enqueue accepted an empty topic")
	}
}
