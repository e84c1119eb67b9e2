package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the sqlite backend for the offline queue, the discarded archive and the entity cache.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer keeps Remove/MarkFailed atomic per entry and makes :memory: a single database.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Offline database initialized")
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_queue (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT UNIQUE NOT NULL,
            entity_type TEXT NOT NULL,
            operation TEXT NOT NULL,
            payload TEXT,
            local_entity_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NOT NULL DEFAULT '',
            error_kind TEXT NOT NULL DEFAULT '',
            last_attempt_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS sync_discarded (
            seq INTEGER NOT NULL,
            id TEXT PRIMARY KEY,
            entity_type TEXT NOT NULL,
            operation TEXT NOT NULL,
            payload TEXT,
            local_entity_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NOT NULL DEFAULT '',
            error_kind TEXT NOT NULL DEFAULT '',
            last_attempt_at DATETIME,
            discarded_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS entity_cache (
            entity_type TEXT NOT NULL,
            id TEXT NOT NULL,
            data TEXT,
            pending BOOLEAN NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (entity_type, id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, local_entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_discarded_at ON sync_discarded(discarded_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}
