package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrLocked       = errors.New("property sync lock held")
	ErrDatabaseInit = errors.New("database initialization failed")
)

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Connection pool limits to prevent file descriptor exhaustion
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// withTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		// Properties table
		`CREATE TABLE IF NOT EXISTS properties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			min_turnover_hours INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Connections table
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			property_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			feed_url TEXT NOT NULL,
			sync_frequency INTEGER NOT NULL DEFAULT 60,
			status TEXT NOT NULL DEFAULT 'active',
			last_synced DATETIME,
			last_error_message TEXT,
			last_error_time DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_connections_property_id ON connections(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_status ON connections(status)`,

		// Calendar events table
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			property_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			external_uid TEXT NOT NULL,
			platform TEXT NOT NULL,
			summary TEXT,
			description TEXT,
			start_date DATETIME NOT NULL,
			end_date DATETIME NOT NULL,
			event_type TEXT NOT NULL DEFAULT 'booking',
			status TEXT NOT NULL DEFAULT 'confirmed',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE,
			FOREIGN KEY (connection_id) REFERENCES connections(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_property_id ON calendar_events(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_connection_uid ON calendar_events(connection_id, external_uid)`,
		// One active row per (connection, uid)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_active_uid
			ON calendar_events(connection_id, external_uid) WHERE active = 1`,

		// Conflicts table; event_key is the sorted member-id set used for dedupe
		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			property_id TEXT NOT NULL,
			event_ids TEXT NOT NULL,
			event_key TEXT NOT NULL,
			conflict_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			detected_at DATETIME NOT NULL,
			resolved_at DATETIME,
			resolution TEXT,
			FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conflicts_property_id ON conflicts(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_event_key ON conflicts(event_key)`,

		// Sync logs table
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			message TEXT,
			events_synced INTEGER NOT NULL DEFAULT 0,
			events_created INTEGER NOT NULL DEFAULT 0,
			events_updated INTEGER NOT NULL DEFAULT 0,
			events_cancelled INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (connection_id) REFERENCES connections(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_logs_connection_id ON sync_logs(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC)`,

		// Per-property sync leases
		`CREATE TABLE IF NOT EXISTS sync_locks (
			property_id TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			locked_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE migrations
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}
