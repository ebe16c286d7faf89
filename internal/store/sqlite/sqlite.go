// Package sqlite provides the single-file fallback store selected when
// no Postgres DSN is configured. It shares the Postgres store's
// semantics (duplicate-key behavior, conditional status writes, the
// qr_ready/qr_code consistency check) while keeping dev-mode data
// across restarts.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS bridge_configs (
    id TEXT PRIMARY KEY,
    api_url TEXT NOT NULL,
    api_key TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instance_configs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'disconnected'
        CHECK (status IN ('disconnected', 'connecting', 'qr_ready', 'connected')),
    qr_code TEXT,
    qr_expires_at INTEGER,
    webhook_url TEXT NOT NULL DEFAULT '',
    api_url TEXT NOT NULL DEFAULT '',
    api_key TEXT NOT NULL DEFAULT '',
    status_changed_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    CHECK ((status = 'qr_ready') = (qr_code IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_instance_configs_tenant_name
    ON instance_configs (tenant_id, name);
CREATE INDEX IF NOT EXISTS idx_instance_configs_status
    ON instance_configs (status);

CREATE TABLE IF NOT EXISTS agent_bindings (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    instance_id TEXT NOT NULL REFERENCES instance_configs(id) ON DELETE CASCADE,
    model_name TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    auto_response INTEGER NOT NULL DEFAULT 1,
    response_delay_seconds INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_bindings_active
    ON agent_bindings (agent_id, instance_id) WHERE active;

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL REFERENCES instance_configs(id) ON DELETE CASCADE,
    contact TEXT NOT NULL,
    contact_name TEXT NOT NULL DEFAULT '',
    last_message_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_instance_contact
    ON conversations (instance_id, contact);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    instance_id TEXT NOT NULL,
    external_id TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
    content TEXT NOT NULL DEFAULT '',
    message_type TEXT NOT NULL DEFAULT 'text',
    auto_responded INTEGER NOT NULL DEFAULT 0,
    sent_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_instance_external
    ON messages (instance_id, external_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
    ON messages (conversation_id, sent_at);

CREATE TABLE IF NOT EXISTS agent_interactions (
    id TEXT PRIMARY KEY,
    binding_id TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_interactions_conversation
    ON agent_interactions (conversation_id, created_at);
`

// OpenDB opens (and if needed initializes) the database file. A single
// connection sidesteps SQLITE_BUSY between concurrent writers; the
// driver is pure Go, so there is nothing to link.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one SQLite file.
func NewStores(path string) (*store.Stores, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Instances:     &instanceStore{db},
		BridgeConfigs: &bridgeConfigStore{db},
		Bindings:      &bindingStore{db},
		Conversations: &conversationStore{db},
		Messages:      &messageStore{db},
		Interactions:  &interactionStore{db},
	}, nil
}

// Timestamps are stored as integer unix nanoseconds so round-trips do
// not depend on the driver's text formatting.

func ns(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNS(v int64) time.Time { return time.Unix(0, v).UTC() }

func nsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ns(*t)
}

func fromNSPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNS(v.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure, the sqlite counterpart of Postgres code 23505.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
