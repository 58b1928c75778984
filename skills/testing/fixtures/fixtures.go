// Package fixtures pairs a stateful component with the testify suite
// lifecycle that keeps its tests honest.
//
// A suite earns its place when tests share an expensive fixture but
// must not share state. The split is the whole technique: SetupSuite
// pays the one-time cost, SetupTest hands every test a clean instance,
// and TearDownTest closes what SetupTest opened, so no test can lean on
// leftovers from the previous one. Inside tests, Require stops a test
// whose preconditions failed, while plain assertions let independent
// checks all report.
//
// Tracker is the component under management here: a small SQLite-backed
// record of which skills each learner has completed, with exactly the
// open/close lifecycle and durable state that makes per-test resets
// worth enforcing.
//
// Skill metadata:
//
//	name: test-fixtures
//	category: testing
//	tags: testify, suite, fixtures, sqlite, lifecycle
//	level: beginner
package fixtures

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS completions (
	learner      TEXT NOT NULL,
	skill        TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	PRIMARY KEY (learner, skill)
);`

// Tracker records which skills each learner has completed.
type Tracker struct {
	db *sql.DB
}

// Open creates or opens the tracker database at path.
func Open(path string) (*Tracker, error) {
	if path == "" {
		return nil, errors.New("fixtures: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("fixtures: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("fixtures: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("fixtures: create schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Close releases the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// Record marks skill completed by learner. Recording the same pair
// twice is a no-op.
func (t *Tracker) Record(learner, skill string) error {
	if learner == "" || skill == "" {
		return errors.New("fixtures: learner and skill are required")
	}
	_, err := t.db.Exec(
		`INSERT OR IGNORE INTO completions (learner, skill, completed_at) VALUES (?, ?, ?)`,
		learner, skill, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("fixtures: record %s/%s: %w", learner, skill, err)
	}
	return nil
}

// Completed lists learner's completed skills in name order.
func (t *Tracker) Completed(learner string) ([]string, error) {
	rows, err := t.db.Query(
		`SELECT skill FROM completions WHERE learner = ? ORDER BY skill`, learner)
	if err != nil {
		return nil, fmt.Errorf("fixtures: completed for %s: %w", learner, err)
	}
	defer rows.Close()

	skills := []string{}
	for rows.Next() {
		var skill string
		if err := rows.Scan(&skill); err != nil {
			return nil, err
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

// Count returns the total number of recorded completions.
func (t *Tracker) Count() (int, error) {
	var n int
	err := t.db.QueryRow(`SELECT COUNT(*) FROM completions`).Scan(&n)
	return n, err
}
