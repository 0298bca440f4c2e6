package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY,
	run_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	path TEXT NOT NULL,
	source_uri TEXT NOT NULL,
	bytes INTEGER NOT NULL DEFAULT 0,
	downloaded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS archives (
	path TEXT PRIMARY KEY,
	asset_count INTEGER NOT NULL,
	indexed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY,
	archive TEXT NOT NULL REFERENCES archives(path) ON DELETE CASCADE,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	UNIQUE(archive, name)
);

CREATE INDEX IF NOT EXISTS assets_name ON assets(name);
`

// InitDB opens the SQLite database at path and creates the schema if needed.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps :memory: databases and transactions coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
