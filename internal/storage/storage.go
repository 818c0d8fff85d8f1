// Package storage owns the kernel's single embedded SQL database: schema
// definition, idempotent migrations, and the WAL-mode connection. Every
// other kernel package is handed the resulting *sql.DB and issues its own
// narrow, short-lived queries against it — there is no whole-state
// load/mutate/save cycle here, because the context store's ordering and
// cursor invariants require row-level operations, not an in-memory blob.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	name       TEXT NOT NULL,
	tag        TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'running',
	config     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (name, tag)
);

CREATE TABLE IF NOT EXISTS agents (
	name          TEXT NOT NULL,
	workflow      TEXT NOT NULL,
	tag           TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	backend       TEXT NOT NULL DEFAULT 'default',
	system_prompt TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	schedule      TEXT NOT NULL DEFAULT '',
	config        TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'idle',
	created_at    TEXT NOT NULL,
	PRIMARY KEY (name, workflow, tag)
);

CREATE TABLE IF NOT EXISTS workers (
	agent      TEXT NOT NULL,
	workflow   TEXT NOT NULL,
	tag        TEXT NOT NULL,
	pid        INTEGER NOT NULL DEFAULT 0,
	state      TEXT NOT NULL DEFAULT 'idle',
	started_at TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (agent, workflow, tag)
);

CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	sender      TEXT NOT NULL,
	workflow    TEXT NOT NULL,
	tag         TEXT NOT NULL,
	content     TEXT NOT NULL,
	recipients  TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT 'message',
	to_agent    TEXT NOT NULL DEFAULT '',
	tool_call   TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox_ack (
	agent    TEXT NOT NULL,
	workflow TEXT NOT NULL,
	tag      TEXT NOT NULL,
	cursor   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (agent, workflow, tag)
);

CREATE TABLE IF NOT EXISTS resources (
	id         TEXT NOT NULL PRIMARY KEY,
	workflow   TEXT NOT NULL,
	tag        TEXT NOT NULL,
	content    TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'text',
	creator    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
	id          TEXT NOT NULL PRIMARY KEY,
	workflow    TEXT NOT NULL,
	tag         TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT 'decision',
	title       TEXT NOT NULL,
	options     TEXT NOT NULL,
	resolution  TEXT NOT NULL DEFAULT 'plurality',
	binding     INTEGER NOT NULL DEFAULT 1,
	status      TEXT NOT NULL DEFAULT 'active',
	creator     TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	resolved_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS votes (
	proposal_id TEXT NOT NULL,
	agent       TEXT NOT NULL,
	choice      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	PRIMARY KEY (proposal_id, agent)
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_messages_workflow_tag ON messages(workflow, tag);
CREATE INDEX IF NOT EXISTS idx_agents_workflow_tag ON agents(workflow, tag);
CREATE INDEX IF NOT EXISTS idx_proposals_workflow_tag ON proposals(workflow, tag);
CREATE INDEX IF NOT EXISTS idx_votes_proposal ON votes(proposal_id);
`

// runMigrations applies additive schema changes the way the teacher's
// repository.sqlite store does: ALTER TABLE ADD COLUMN, swallowing the
// "duplicate column" error so the statement is idempotent across restarts
// against a database created by an earlier schema version.
func runMigrations(db *sql.DB) {
	stmts := []string{
		`ALTER TABLE agents ADD COLUMN provider TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE agents ADD COLUMN schedule TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE messages ADD COLUMN tool_call TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range stmts {
		_, _ = db.Exec(stmt) // ignored: "duplicate column name" once already applied
	}
}

// Open creates the data directory if needed, opens the database in WAL
// mode with a busy timeout (so short critical sections queue rather than
// fail under contention), and applies the schema.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The embedded driver is not safe for unbounded concurrent writers;
	// a single shared connection serializes access the way the spec's
	// "single database connection plus short critical sections" model
	// requires.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		db.Close()
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	runMigrations(db)

	return db, nil
}
