// Package index provides SQLite-backed storage for pages and the link graph.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	slug        TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '{"type":"doc"}',
	checksum    TEXT NOT NULL DEFAULT '',
	source_path TEXT UNIQUE,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS link_groups (
	id           TEXT PRIMARY KEY,
	key          TEXT NOT NULL UNIQUE,
	raw_text     TEXT NOT NULL,
	page_id      TEXT,
	target_state TEXT NOT NULL DEFAULT 'unresolved'
		CHECK (target_state IN ('unresolved', 'resolved', 'dangling')),
	link_count   INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS link_occurrences (
	id             TEXT PRIMARY KEY,
	link_group_id  TEXT NOT NULL REFERENCES link_groups(id),
	source_page_id TEXT NOT NULL,
	annotation_id  TEXT NOT NULL,
	position       INTEGER NOT NULL,
	created_at     DATETIME NOT NULL
);

-- Checksum of the page content last synced into link_occurrences.
CREATE TABLE IF NOT EXISTS link_sync_state (
	page_id   TEXT PRIMARY KEY,
	checksum  TEXT NOT NULL,
	synced_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_link_groups_key ON link_groups(key);
CREATE INDEX IF NOT EXISTS idx_link_groups_page ON link_groups(page_id);
CREATE INDEX IF NOT EXISTS idx_link_occurrences_group ON link_occurrences(link_group_id);
CREATE INDEX IF NOT EXISTS idx_link_occurrences_source ON link_occurrences(source_page_id);
`

// DB wraps a sql.DB with page and link graph operations.
type DB struct {
	conn  *sql.DB
	now   func() time.Time
	newID func() string
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithIDFunc overrides the generator for row ids.
func WithIDFunc(fn func() string) Option {
	return func(db *DB) { db.newID = fn }
}

// Open opens (or creates) the SQLite database and applies the schema.
//
// Transactions take the write lock on BEGIN so that two syncs of the same
// page serialize instead of failing with SQLITE_BUSY on upgrade.
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	db := &DB{conn: conn, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) timestamp() time.Time {
	return db.now().UTC()
}
