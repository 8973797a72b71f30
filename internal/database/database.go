// Package database persists violations, processing sessions and cameras in
// SQLite. Violation rows are append-only from the processing path.
package database

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	ErrViolationNotFound = errors.New("violation not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrCameraNotFound    = errors.New("camera not found")
)

// Database handles SQLite database operations
type Database struct {
	db   *sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the API read while a pipeline writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db, path: dbPath}, nil
}

// Open creates a connection and migrates the schema to the latest version
func Open(dbPath string) (*Database, error) {
	d, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the connection is alive
func (d *Database) Ping() error {
	return d.db.Ping()
}
