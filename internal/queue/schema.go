package queue

import (
	"database/sql"
	"errors"
	"fmt"
)

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_items (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    owner              TEXT NOT NULL DEFAULT '',
    title              TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    stage              TEXT NOT NULL,
    script             TEXT NOT NULL DEFAULT '',
    render_job_id      TEXT NOT NULL DEFAULT '',
    rendered_asset_url TEXT NOT NULL DEFAULT '',
    seo_json           TEXT NOT NULL DEFAULT '',
    publish_id         TEXT NOT NULL DEFAULT '',
    scheduled_at       TEXT,
    error_message      TEXT NOT NULL DEFAULT '',
    last_failed_stage  TEXT NOT NULL DEFAULT '',
    retry_count        INTEGER NOT NULL DEFAULT 0,
    last_retry_at      TEXT,
    in_flight_since    TEXT,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_items_stage ON queue_items(stage);
CREATE INDEX IF NOT EXISTS idx_queue_items_render_job ON queue_items(render_job_id);
CREATE INDEX IF NOT EXISTS idx_queue_items_updated ON queue_items(updated_at);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var current int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	if current < schemaVersion {
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, schemaVersion); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}
