// Package store implements the daemon's persistence layer: the upload
// queue, host settings and transfer statistics, all in one SQLite file.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS uploads (
	id              TEXT PRIMARY KEY,
	host            TEXT NOT NULL,
	source_dir      TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	uploaded_bytes  INTEGER NOT NULL DEFAULT 0,
	total_bytes     INTEGER NOT NULL DEFAULT 0,
	download_url    TEXT NOT NULL DEFAULT '',
	file_id         TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	scheduled_at_ns INTEGER NOT NULL DEFAULT 0,
	recurrence      TEXT NOT NULL DEFAULT '',
	created_at_ns   INTEGER NOT NULL,
	updated_at_ns   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_host_status ON uploads (host, status);

CREATE TABLE IF NOT EXISTS settings (
	host          TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         TEXT NOT NULL,
	updated_at_ns INTEGER NOT NULL,
	PRIMARY KEY (host, key)
);

CREATE TABLE IF NOT EXISTS transfer_stats (
	host     TEXT NOT NULL,
	day      TEXT NOT NULL,
	uploads  INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	bytes    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (host, day)
);
`

// Store wraps the daemon database. All writes are serialized by an
// internal mutex; the single connection keeps SQLite in single-writer
// mode.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path with WAL journaling and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
