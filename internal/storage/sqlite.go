// Package storage owns the embedded SQLite database: schema migrations,
// transaction boundaries and the upsert primitives every pipeline writes through.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps the single-writer SQLite connection.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// mu serializes write transactions across sync workers.
	mu sync.Mutex
}

// Open opens (or creates) the database at path and applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: creating database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	// One connection: SQLite allows a single writer, and ":memory:" databases
	// are per-connection.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	s := &Store{db: conn, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: running migrations: %w", err)
	}
	logger.Debug("Database ready", "path", path)
	return s, nil
}

// migrate applies the embedded migrations in order. Every step uses
// IF NOT EXISTS, so existing tables and indexes are left untouched.
func (s *Store) migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	// m.Close is not called: it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, _, err := m.Version()
	if err == nil {
		s.logger.Debug("Schema version", "version", version)
	}
	return nil
}

// Path returns the database file the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint failed", "error", err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}
