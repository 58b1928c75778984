// Package outbox implements the transactional outbox pattern over SQLite.
//
// The problem it solves is the dual write: a service that updates its
// database and then publishes an event can always crash between the two,
// leaving state changed with no event, or an event with no state. The
// outbox closes the gap by making the event part of the same database
// transaction as the business write. Enqueue deliberately takes a
// *sql.Tx, not a *sql.DB; if the transaction rolls back, the event was
// never enqueued, and if it commits, the event is durable.
//
// A Relay then moves events out of the table: poll the unpublished rows
// in insertion order, hand each to a Publisher, mark the ones that went
// through. Publish-then-mark makes delivery at-least-once, a crash
// between the two republishes, so events carry a UUID and consumers
// deduplicate by it. A publish failure stops the batch, which preserves
// order, and the next poll retries from the failed event.
//
// Skill metadata:
//
//	name: transactional-outbox
//	category: messaging
//	tags: outbox, events, at-least-once, relay, sqlite
//	level: advanced
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	topic        TEXT NOT NULL,
	payload      BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	published_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
	ON outbox (seq) WHERE published_at IS NULL;
`

// Event is one row awaiting or past publication.
type Event struct {
	// Seq is the insertion order, assigned by the database.
	Seq int64

	// ID deduplicates deliveries downstream.
	ID uuid.UUID

	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// Outbox reads and writes the outbox table.
type Outbox struct {
	db *sql.DB
}

// Setup creates the outbox table if needed and returns the accessor.
func Setup(db *sql.DB) (*Outbox, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("outbox: create schema: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Enqueue records an event inside the caller's transaction. The event
// becomes visible to the relay only when the transaction commits.
func (o *Outbox) Enqueue(tx *sql.Tx, topic string, payload []byte) (uuid.UUID, error) {
	if topic == "" {
		return uuid.Nil, errors.New("outbox: empty topic")
	}
	id := uuid.New()
	_, err := tx.Exec(
		`INSERT INTO outbox (id, topic, payload, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), topic, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: enqueue: %w", err)
	}
	return id, nil
}

// Pending returns up to limit unpublished events in insertion order.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT seq, id, topic, payload, created_at FROM outbox
		 WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			rawID   string
			rawTime string
		)
		if err := rows.Scan(&ev.Seq, &rawID, &ev.Topic, &ev.Payload, &rawTime); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		if ev.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("outbox: bad id %q: %w", rawID, err)
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, rawTime); err != nil {
			return nil, fmt.Errorf("outbox: bad created_at %q: %w", rawTime, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkPublished stamps the given events. Already-stamped events are left
// alone, so retried marks are harmless.
func (o *Outbox) MarkPublished(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id.String())
	}
	q := `UPDATE outbox SET published_at = ? WHERE id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `) AND published_at IS NULL`
	if _, err := o.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

// Publisher delivers one event to the downstream system.
type Publisher func(ctx context.Context, ev Event) error

// RelayConfig tunes the polling relay.
type RelayConfig struct {
	// PollInterval is the wait between empty or failed polls.
	PollInterval time.Duration

	// BatchSize caps events moved per poll.
	BatchSize int
}

// DefaultRelayConfig polls every second, a hundred events at a time.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{PollInterval: time.Second, BatchSize: 100}
}

// Relay moves committed events from the outbox to a Publisher.
type Relay struct {
	outbox  *Outbox
	publish Publisher
	cfg     RelayConfig

	published atomic.Int64
}

// NewRelay builds a relay. Zero config fields fall back to defaults.
func NewRelay(o *Outbox, publish Publisher, cfg RelayConfig) (*Relay, error) {
	if o == nil || publish == nil {
		return nil, errors.New("outbox: relay needs an outbox and a publisher")
	}
	def := DefaultRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Relay{outbox: o, publish: publish, cfg: cfg}, nil
}

// Drain makes one pass: publish pending events in order, mark the
// successes. It returns how many events were published. A publish
// failure ends the pass early so order is preserved; the marked prefix
// stays marked.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.outbox.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		done   []uuid.UUID
		failed error
	)
	for _, ev := range events {
		if err := r.publish(ctx, ev); err != nil {
			failed = fmt.Errorf("outbox: publish %s: %w", ev.ID, err)
			break
		}
		done = append(done, ev.ID)
	}
	if len(done) > 0 {
		if err := r.outbox.MarkPublished(ctx, done...); err != nil {
			failed = errors.Join(failed, err)
		}
		r.published.Add(int64(len(done)))
	}
	return len(done), failed
}

// Published counts events moved over the relay's lifetime.
func (r *Relay) Published() int64 { return r.published.Load() }

// Run polls until ctx is canceled. Publish failures are retried on the
// next poll; cancellation is a clean stop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		_, _ = r.Drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
