// Package state provides SQLite-based persistence for foreman.
// All engine state lives in one database under the data directory so a
// process restart reloads exactly what the last cycle persisted.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with foreman-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DBPath returns the database path under the given data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "foreman.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Comms},
		{3, migrationV3Environments},
		{4, migrationV4Improvement},
		{5, migrationV5EngineState},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	assigned_to TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 2,
	dependencies TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	result_json TEXT,
	result_text TEXT,
	blockers TEXT,
	blocked_reason TEXT,
	review_id TEXT,
	reviewer TEXT,
	review_feedback TEXT,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
`

const migrationV2Comms = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	type TEXT NOT NULL,
	subject TEXT NOT NULL,
	body TEXT,
	timestamp DATETIME NOT NULL,
	priority TEXT NOT NULL DEFAULT 'normal',
	thread_id TEXT,
	attachments TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_to_agent ON messages(to_agent, timestamp);

CREATE TABLE IF NOT EXISTS status_reports (
	agent_id TEXT NOT NULL,
	date TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	completed_today TEXT,
	working_on TEXT,
	blockers TEXT,
	tests_written INTEGER NOT NULL DEFAULT 0,
	bugs_fixed INTEGER NOT NULL DEFAULT 0,
	velocity REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (agent_id, date)
);

CREATE TABLE IF NOT EXISTS code_reviews (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	description TEXT,
	files_changed TEXT,
	test_coverage REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	comments TEXT,
	reviewed_by TEXT,
	created_at DATETIME NOT NULL,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_code_reviews_reviewer ON code_reviews(to_agent, status);
CREATE INDEX IF NOT EXISTS idx_code_reviews_task ON code_reviews(task_id);
`

const migrationV3Environments = `
CREATE TABLE IF NOT EXISTS env_components (
	environment TEXT NOT NULL,
	component TEXT NOT NULL,
	version TEXT NOT NULL,
	deployed_by TEXT NOT NULL,
	deployed_at DATETIME NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	PRIMARY KEY (environment, component)
);

CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	component TEXT NOT NULL,
	version TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	env_from TEXT NOT NULL,
	env_to TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	test_results TEXT,
	blockers TEXT,
	approvals TEXT,
	rollback_plan TEXT,
	timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deployments_component ON deployments(component, timestamp);
`

const migrationV4Improvement = `
CREATE TABLE IF NOT EXISTS evaluations (
	id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	score INTEGER NOT NULL,
	text TEXT,
	metrics TEXT,
	cycle_count INTEGER NOT NULL DEFAULT 0,
	uptime_hours REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS improvement_cycles (
	id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	status TEXT NOT NULL,
	evaluation_id TEXT,
	score INTEGER NOT NULL DEFAULT 0,
	record TEXT NOT NULL
);
`

const migrationV5EngineState = `
CREATE TABLE IF NOT EXISTS engine_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cycle_count INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	last_self_eval DATETIME
);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is RFC 3339 with a fixed-width fractional second so that
// lexicographic order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime formats a time.Time for SQLite storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a time string from SQLite.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ParseNullableTime parses a nullable time string from SQLite.
func ParseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
