// Package migrations holds the database schema. The initial schema is
// embedded so a fresh store can be created anywhere without shipping SQL
// files next to the binary; later migrations are applied by cmd/migrate.
package migrations

const SchemaVersion = 2

// InitialSchema creates every table at the current version.
const InitialSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_key TEXT NOT NULL,
	thread_key_lookup TEXT NOT NULL,
	is_group INTEGER NOT NULL DEFAULT 0,
	direction TEXT NOT NULL,
	content_kind TEXT NOT NULL,
	content_ref TEXT,
	sender_id TEXT,
	from_own_device INTEGER NOT NULL DEFAULT 0,
	outgoing_status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	played INTEGER NOT NULL DEFAULT 0,
	incoming_status TEXT NOT NULL DEFAULT 'none',
	decrypted INTEGER NOT NULL DEFAULT 0,
	retracted_from TEXT,
	server_timestamp DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_key_lookup, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_outgoing_status ON messages(outgoing_status);
CREATE INDEX IF NOT EXISTS idx_messages_incoming_status ON messages(incoming_status);

CREATE TABLE IF NOT EXISTS receipts (
	message_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'none',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (message_id, recipient_id)
);

CREATE TABLE IF NOT EXISTS counted_messages (
	thread_key_lookup TEXT NOT NULL,
	thread_key TEXT NOT NULL,
	message_id TEXT NOT NULL,
	PRIMARY KEY (thread_key_lookup, message_id)
);

CREATE TABLE IF NOT EXISTS aggregate_marks (
	message_id TEXT PRIMARY KEY,
	emitted_level TEXT NOT NULL DEFAULT 'pending',
	recipient_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO schema_migrations (version) VALUES (1);
INSERT OR IGNORE INTO schema_migrations (version) VALUES (2);
`

// GetInitialSchema returns the schema for a fresh database.
func GetInitialSchema() string {
	return InitialSchema
}
