// Package eventstore implements an append-only, per-stream event log on a
// single-file embedded database.
//
// Use it as the persistence half of event sourcing: each aggregate owns a
// stream, appends go at the end or nowhere, and nothing is ever updated in
// place. Appends carry the version the writer last saw; if the stream has
// moved, the append fails with ErrConflict and the writer reloads,
// re-decides, and retries. That check is the whole of optimistic
// concurrency control, and it works because bbolt serializes writers, so
// the compare and the append are one atomic step.
//
// Events are stored as envelopes with the payload kept as raw JSON; the
// store never interprets payloads, which is what lets old events outlive
// the structs that produced them. Keys are big-endian sequence numbers so
// a cursor walks a stream in order for free.
//
// Skill metadata:
//
//	name: event-store
//	category: eventsourcing
//	tags: events, append-only, bbolt, streams, optimistic-concurrency
//	level: advanced
package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrConflict is returned when an append's expected version is not the
// stream head.
var ErrConflict = errors.New("eventstore: version conflict")

// Record is an event to append: a type tag and an opaque JSON payload.
type Record struct {
	Type string
	Data json.RawMessage
}

// Envelope is a stored event read back from a stream.
type Envelope struct {
	Stream   string          `json:"-"`
	Seq      uint64          `json:"seq"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Recorded time.Time       `json:"recorded"`
}

// Store is an event log backed by one database file.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes records to the end of stream if its head still equals
// expected (0 for a new stream). It returns the new head version.
func (s *Store) Append(stream string, expected uint64, records ...Record) (uint64, error) {
	if stream == "" {
		return 0, fmt.Errorf("eventstore: empty stream name")
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("eventstore: nothing to append")
	}

	var head uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(stream))
		if err != nil {
			return err
		}

		head = headSeq(b)
		if head != expected {
			return fmt.Errorf("%w: stream %s is at %d, append expected %d",
				ErrConflict, stream, head, expected)
		}

		now := s.now().UTC()
		for _, rec := range records {
			head++
			env := Envelope{Seq: head, Type: rec.Type, Data: rec.Data, Recorded: now}
			val, err := json.Marshal(env)
			if err != nil {
				return fmt.Errorf("encode event %d: %w", head, err)
			}
			if err := b.Put(seqKey(head), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return head, nil
}

// Read returns stream's events with Seq >= from, in order. A missing
// stream reads as empty.
func (s *Store) Read(stream string, from uint64) ([]Envelope, error) {
	var out []Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(stream))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			var env Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("decode event %x: %w", k, err)
			}
			env.Stream = stream
			out = append(out, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Version returns stream's head sequence, 0 for a missing stream.
func (s *Store) Version(stream string) (uint64, error) {
	var head uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(stream)); b != nil {
			head = headSeq(b)
		}
		return nil
	})
	return head, err
}

// Streams lists every stream in the store.
func (s *Store) Streams() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// headSeq reads the last key of a stream bucket.
func headSeq(b *bolt.Bucket) uint64 {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}

// seqKey encodes seq so lexicographic key order equals numeric order.
func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
