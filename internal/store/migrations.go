package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order. New enum values and
// optional columns are added in later versions; rows written under an older
// version must remain readable.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with activity_segments and change_records",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add old_path to change_records for rename linkage",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS activity_segments (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT NOT NULL,
    label       TEXT NOT NULL,
    start_ns    INTEGER NOT NULL,
    end_ns      INTEGER,
    closed      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_segments_start ON activity_segments(start_ns);
CREATE INDEX IF NOT EXISTS idx_segments_open ON activity_segments(kind, closed);

CREATE TABLE IF NOT EXISTS change_records (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns  INTEGER NOT NULL,
    root          TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    change_type   TEXT NOT NULL,
    diff          TEXT NOT NULL DEFAULT '',
    content_hash  TEXT NOT NULL DEFAULT '',
    file_size     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_changes_timestamp ON change_records(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_changes_file ON change_records(file_path, timestamp_ns);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_changes_file;
DROP INDEX IF EXISTS idx_changes_timestamp;
DROP TABLE IF EXISTS change_records;
DROP INDEX IF EXISTS idx_segments_open;
DROP INDEX IF EXISTS idx_segments_start;
DROP TABLE IF EXISTS activity_segments;
`

const migrationV2Up = `
ALTER TABLE change_records ADD COLUMN old_path TEXT NOT NULL DEFAULT '';
`

// SQLite cannot drop columns portably; recreate the v1 table shape.
const migrationV2Down = `
CREATE TABLE change_records_v1 AS
SELECT id, timestamp_ns, root, file_path, change_type, diff, content_hash, file_size
FROM change_records;
DROP TABLE change_records;
ALTER TABLE change_records_v1 RENAME TO change_records;
CREATE INDEX IF NOT EXISTS idx_changes_timestamp ON change_records(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_changes_file ON change_records(file_path, timestamp_ns);
`

// ApplyMigrations brings the schema up to the latest version.
func ApplyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
		    version     INTEGER PRIMARY KEY,
		    applied_at  INTEGER NOT NULL,
		    description TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{
		"activity_segments",
		"change_records",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}

	return nil
}
