package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Versions are
// sequential starting from 1 and each block records its own version.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	shadow_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	account       TEXT NOT NULL,
	message_id    TEXT,
	folder        TEXT,
	uid           INTEGER,
	subject       TEXT NOT NULL DEFAULT '',
	from_address  TEXT NOT NULL DEFAULT '',
	date_sent     DATETIME,
	size          INTEGER NOT NULL DEFAULT 0,
	agent_read    INTEGER NOT NULL DEFAULT 0,
	agent_read_at DATETIME,
	first_seen_at DATETIME NOT NULL,
	last_seen_at  DATETIME NOT NULL,
	gone_at       DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_account_message_id
	ON messages(account, message_id) WHERE message_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_anonymous_location
	ON messages(account, folder, uid) WHERE message_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_messages_location
	ON messages(account, folder, uid);

CREATE TABLE IF NOT EXISTS selections (
	account    TEXT NOT NULL,
	folder     TEXT NOT NULL,
	uid        INTEGER NOT NULL,
	shadow_id  INTEGER REFERENCES messages(shadow_id) ON DELETE SET NULL,
	message_id TEXT,
	subject    TEXT,
	added_at   DATETIME NOT NULL,
	UNIQUE(account, folder, uid)
);

CREATE INDEX IF NOT EXISTS idx_selections_shadow ON selections(account, shadow_id);

CREATE TABLE IF NOT EXISTS query_history (
	account      TEXT NOT NULL,
	folder       TEXT NOT NULL,
	query_string TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	executed_at  DATETIME NOT NULL,
	PRIMARY KEY (account, folder)
);

CREATE TABLE IF NOT EXISTS query_history_results (
	account    TEXT NOT NULL,
	folder     TEXT NOT NULL,
	position   INTEGER NOT NULL,
	uid        INTEGER NOT NULL,
	shadow_id  INTEGER REFERENCES messages(shadow_id) ON DELETE SET NULL,
	message_id TEXT,
	subject    TEXT,
	PRIMARY KEY (account, folder, position)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS drafts (
	account       TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	action        TEXT NOT NULL CHECK (action IN ('flag', 'move', 'copy', 'delete', 'archive')),
	source_folder TEXT NOT NULL DEFAULT '',
	params_json   TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'staged',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_targets (
	account    TEXT NOT NULL REFERENCES drafts(account) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	shadow_id  INTEGER,
	message_id TEXT,
	folder     TEXT NOT NULL,
	uid        INTEGER NOT NULL,
	subject    TEXT,
	outcome    TEXT NOT NULL DEFAULT 'pending',
	error      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME,
	PRIMARY KEY (account, position)
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_agent_read
	ON messages(account, agent_read);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}

// InitSchema applies outstanding migrations in order. Each migration runs in
// its own transaction so a failure leaves the previous version intact.
func (s *Store) InitSchema() error {
	ctx := context.Background()
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, m.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, or 0 for a new
// database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var tableCount int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		return 0, nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
