package vault

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema defines the per-profile vault database. Timestamps are unix
// milliseconds. Note ciphertexts are opaque AEAD blobs under the session
// note key; every other column is unencrypted query metadata.
const schema = `
CREATE TABLE IF NOT EXISTS vault_check (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	probe BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	ciphertext BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER,
	read_once INTEGER NOT NULL DEFAULT 0,
	archived_at INTEGER,
	trashed_at INTEGER,
	reminder_at INTEGER,
	reminder_done INTEGER NOT NULL DEFAULT 0,
	reminder_repeat TEXT,
	deleted INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_notes_expires ON notes(expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS note_revisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	note_id TEXT NOT NULL,
	ciphertext BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revisions_note ON note_revisions(note_id, created_at DESC);

CREATE TABLE IF NOT EXISTS sync_outbox (
	op_id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	profile TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	op_type TEXT NOT NULL,
	base_revision TEXT,
	envelope BLOB NOT NULL,
	client_ts INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_outbox_due ON sync_outbox(profile, next_attempt_at, created_at);

CREATE TABLE IF NOT EXISTS sync_cursor (
	profile TEXT PRIMARY KEY,
	cursor TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_revisions (
	entity_id TEXT PRIMARY KEY,
	revision TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id TEXT NOT NULL,
	local_revision TEXT,
	remote_revision TEXT,
	remote_op_id TEXT NOT NULL,
	policy TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	resolved_at INTEGER
);
`

// openDatabase opens (or creates) a profile database and applies the schema.
func openDatabase(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to apply schema: %w", err)
	}
	return db, nil
}
