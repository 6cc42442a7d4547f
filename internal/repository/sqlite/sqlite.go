// Package sqlite implements the repository interfaces on SQLite, using the
// pure-Go modernc driver so the binary builds without cgo.
//
// The pool is capped at a single connection. SQLite serializes writers
// anyway, and one connection keeps ":memory:" databases shared across every
// query in tests. It also means no method may issue a query while it still
// has rows open.
//
// Timestamps are stored as INTEGER unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB owns the connection pool. Each table is reached through a typed view
// (Users, Sessions, ...) that implements one repository interface.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and applies any pending migrations.
//
//   - "data/keralariders.db" → file-based database
//   - ":memory:"             → in-memory database, used by tests
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies the embedded migrations. The migrator is not closed
// because closing its database driver would close db.conn too.
func (db *DB) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	drv, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Users returns the user repository view.
func (db *DB) Users() *UserDB { return &UserDB{conn: db.conn} }

// Sessions returns the refresh session repository view.
func (db *DB) Sessions() *SessionDB { return &SessionDB{conn: db.conn} }

// Codes returns the email code repository view.
func (db *DB) Codes() *CodeDB { return &CodeDB{conn: db.conn} }

// Events returns the event repository view.
func (db *DB) Events() *EventDB { return &EventDB{conn: db.conn} }

// Participants returns the event participant repository view.
func (db *DB) Participants() *ParticipantDB { return &ParticipantDB{conn: db.conn} }

// Activities returns the activity repository view.
func (db *DB) Activities() *ActivityDB { return &ActivityDB{conn: db.conn} }
