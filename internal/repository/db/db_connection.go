package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName   = "sqlite"
	postgresDriverName = "postgres"
	pingTimeout        = 5 * time.Second
)

// Open connects to the configured database and ensures the tables exist.
// driver is "sqlite" (path is the file) or "postgres" (dsn is the connection string).
func Open(driver, path, dsn string) (*sql.DB, error) {
	switch driver {
	case "", sqliteDriverName:
		return InitDB(path)
	case postgresDriverName:
		return initPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite is not great with many writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := ensureSchema(db, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func initPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open(postgresDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(db, postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS water (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    reservoir_id TEXT NOT NULL,
    measured_at TIMESTAMP NOT NULL,
    level REAL NOT NULL,
    pump_states TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_water_reservoir_time ON water (reservoir_id, measured_at);`,
	`CREATE TABLE IF NOT EXISTS automation_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    session_id TEXT NOT NULL,
    severity INTEGER NOT NULL,
    category TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    message TEXT NOT NULL,
    details TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_events_time ON automation_events (occurred_at);`,
	`CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL
);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS water (
    id BIGSERIAL PRIMARY KEY,
    reservoir_id TEXT NOT NULL,
    measured_at TIMESTAMPTZ NOT NULL,
    level DOUBLE PRECISION NOT NULL,
    pump_states TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_water_reservoir_time ON water (reservoir_id, measured_at);`,
	`CREATE TABLE IF NOT EXISTS automation_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMPTZ NOT NULL,
    session_id TEXT NOT NULL,
    severity INTEGER NOT NULL,
    category TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    message TEXT NOT NULL,
    details TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_events_time ON automation_events (occurred_at);`,
	`CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL
);`,
}

func ensureSchema(db *sql.DB, stmts []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
