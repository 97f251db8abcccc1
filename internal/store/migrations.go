package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. The SQL is kept
// to the subset shared by SQLite and PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	routing_code TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL REFERENCES tenants(id),
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	body       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	token      TEXT NOT NULL UNIQUE,
	tenant_id  TEXT NOT NULL REFERENCES tenants(id),
	entry_id   TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_messages (
	message_id TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL REFERENCES threads(id),
	seq        INTEGER NOT NULL,
	direction  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_tenant_created ON entries(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_threads_tenant ON threads(tenant_id);
CREATE INDEX IF NOT EXISTS idx_thread_messages_thread ON thread_messages(thread_id, seq);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
