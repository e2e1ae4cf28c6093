// Package store persists fleet state to SQLite: the agent checkpoint
// read at startup and written after every mutation, dashboard sessions,
// and the dispatch audit log. The store does no concurrency control of
// its own; callers serialize writes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fleetdeck/fleetdeck/internal/fleet"
	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database and its tables.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		hostname TEXT PRIMARY KEY,
		static_json TEXT NOT NULL,
		dynamic_json TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		csrf_token TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hostname TEXT NOT NULL,
		kind TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_hostname ON dispatches(hostname);
	`

	_, err := db.Exec(schema)
	return err
}

// Load reads the agent checkpoint written by the last Save. Rows that
// fail to decode are skipped rather than failing the whole load.
func (s *Store) Load() (map[string]fleet.Record, error) {
	rows, err := s.db.Query(`SELECT hostname, static_json, dynamic_json FROM agents`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make(map[string]fleet.Record)
	for rows.Next() {
		var hostname, staticJSON, dynamicJSON string
		if err := rows.Scan(&hostname, &staticJSON, &dynamicJSON); err != nil {
			continue
		}

		var static protocol.StaticInfo
		var dynamic fleet.DynamicState
		if err := json.Unmarshal([]byte(staticJSON), &static); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(dynamicJSON), &dynamic); err != nil {
			continue
		}

		records[hostname] = fleet.Record{
			Hostname: hostname,
			Static:   static,
			Dynamic:  dynamic,
		}
	}
	return records, rows.Err()
}

// Save replaces the agent checkpoint with the given records in one
// transaction, so a crash mid-write never leaves a partial checkpoint.
func (s *Store) Save(records map[string]fleet.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM agents`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO agents (hostname, static_json, dynamic_json) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for hostname, rec := range records {
		staticJSON, err := json.Marshal(rec.Static)
		if err != nil {
			return fmt.Errorf("encoding static for %s: %w", hostname, err)
		}
		dynamicJSON, err := json.Marshal(rec.Dynamic)
		if err != nil {
			return fmt.Errorf("encoding dynamic for %s: %w", hostname, err)
		}
		if _, err := stmt.Exec(hostname, string(staticJSON), string(dynamicJSON)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordDispatch appends a row to the dispatch audit log.
func (s *Store) RecordDispatch(hostname, kind string, issuedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO dispatches (hostname, kind, issued_at) VALUES (?, ?, ?)`,
		hostname, kind, issuedAt,
	)
	return err
}

// DB exposes the underlying handle for the session gate.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
