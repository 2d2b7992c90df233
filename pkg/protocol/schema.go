package protocol

// SchemaDDL creates the scheduler's event log table. Applied with
// CREATE TABLE IF NOT EXISTS so repeated runs against the same database
// are harmless.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	source TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	worker_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_device ON events(device);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`
