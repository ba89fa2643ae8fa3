package ledger

// Schema creates the run ledger tables. Timestamps are unix
// milliseconds. The ledger is append-only except for the run row, which
// is finalised once when the run ends.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER,
	range_from    TEXT NOT NULL DEFAULT '',
	range_to      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'running',
	records_total INTEGER NOT NULL DEFAULT 0,
	records_ok    INTEGER NOT NULL DEFAULT 0,
	files_saved   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	at        INTEGER NOT NULL,
	record_id TEXT NOT NULL DEFAULT '',
	kind      TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, at);

CREATE TABLE IF NOT EXISTS entries (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	at            INTEGER NOT NULL,
	record_id     TEXT NOT NULL,
	license_start TEXT NOT NULL,
	file_type     TEXT NOT NULL,
	filename      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id, at);

CREATE TABLE IF NOT EXISTS snapshots (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	at        INTEGER NOT NULL,
	record_id TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	markdown  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id, at);
`
