package sqlite

import (
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	session_id          TEXT UNIQUE,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	total_cost_usd      REAL NOT NULL DEFAULT 0,
	total_input_tokens  INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	event_data TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(task_id, sequence)
);

CREATE TABLE IF NOT EXISTS conversations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	cost_usd      REAL,
	input_tokens  INTEGER,
	output_tokens INTEGER,
	usage_data    TEXT
);

CREATE INDEX IF NOT EXISTS idx_conversations_task ON conversations(task_id, id);
`

func applySchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, schema, nil)
}
