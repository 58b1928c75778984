// Package dbpool implements database/sql pool sizing for SQLite.
//
// database/sql is itself a connection pool, and its defaults are wrong
// for SQLite: unlimited connections against a database that allows one
// writer guarantees SQLITE_BUSY under load. The working arrangement is
// two handles over the same file. The writer handle is capped at a
// single connection, so writes serialize in the pool instead of failing
// in the engine. The reader handle opens in read-only mode with a real
// pool, which WAL journaling allows to run concurrently with the writer.
//
// The subtle part is where the PRAGMAs go. Issuing Exec("PRAGMA ...")
// configures only the one pooled connection that ran it; any connection
// the pool opens later silently misses the setting. Safe on the writer
// because its pool is pinned to one connection, wrong on the reader. So
// every PRAGMA here rides in the DSN, where the driver replays it on
// each new connection.
//
// Skill metadata:
//
//	name: db-pool-tuning
//	category: pooling
//	tags: database, sqlite, pool, wal, tuning
//	level: intermediate
package dbpool

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Config tunes the reader pool; the writer is always one connection.
type Config struct {
	// MaxReaders caps the reader pool. Defaults to GOMAXPROCS, floor 4.
	MaxReaders int

	// BusyTimeout is how long a connection waits on a locked database
	// before giving up. Defaults to 5s.
	BusyTimeout time.Duration

	// ConnMaxLifetime retires reader connections by age. Zero keeps
	// them forever.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime closes reader connections idle this long.
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the tuning used when fields are zero.
func DefaultConfig() Config {
	readers := runtime.GOMAXPROCS(0)
	if readers < 4 {
		readers = 4
	}
	return Config{
		MaxReaders:      readers,
		BusyTimeout:     5 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// DB pairs a serialized writer handle with a pooled read-only handle
// over the same SQLite file.
type DB struct {
	// W is the writer. One connection, writes queue in the pool.
	W *sql.DB

	// R is the reader. Read-only mode, sized for concurrency.
	R *sql.DB
}

// Open opens path with both handles and verifies the file is reachable.
// In-memory databases are not supported; each pooled connection would
// get its own private database.
func Open(path string, cfg Config) (*DB, error) {
	if path == "" || strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("dbpool: need a file path, got %q", path)
	}
	def := DefaultConfig()
	if cfg.MaxReaders <= 0 {
		cfg.MaxReaders = def.MaxReaders
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = def.BusyTimeout
	}

	w, err := sql.Open("sqlite", dsn(path, false, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("dbpool: open writer: %w", err)
	}
	w.SetMaxOpenConns(1)
	w.SetMaxIdleConns(1)
	// The single writer connection is never retired; per-connection
	// state like the WAL autocheckpoint survives for the process.
	w.SetConnMaxLifetime(0)
	w.SetConnMaxIdleTime(0)
	// Connecting the writer also creates the file, so the read-only
	// handle below cannot race a missing database.
	if err := w.Ping(); err != nil {
		w.Close()
		return nil, fmt.Errorf("dbpool: ping: %w", err)
	}

	r, err := sql.Open("sqlite", dsn(path, true, cfg.BusyTimeout))
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("dbpool: open reader: %w", err)
	}
	r.SetMaxOpenConns(cfg.MaxReaders)
	r.SetMaxIdleConns(cfg.MaxReaders)
	r.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	r.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{W: w, R: r}, nil
}

// Close closes both handles, readers first.
func (d *DB) Close() error {
	return errors.Join(d.R.Close(), d.W.Close())
}

// PoolStats reports both pools.
type PoolStats struct {
	Writer sql.DBStats
	Reader sql.DBStats
}

// Stats returns a snapshot of both pools.
func (d *DB) Stats() PoolStats {
	return PoolStats{Writer: d.W.Stats(), Reader: d.R.Stats()}
}

func dsn(path string, readOnly bool, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	if readOnly {
		q.Set("mode", "ro")
	}
	return "file:" + path + "?" + q.Encode()
}
