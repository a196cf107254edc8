package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// OpenSQLite opens (and creates if needed) the trace database at path and
// resets it for a new run. Paths on network filesystems are rejected.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		if err := validateSQLiteFilesystem(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared across queries and
	// serialises trace writes.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite recreates the trace tables. Traces cover the current run
// only, so any rows from a previous run are discarded.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`DROP TABLE IF EXISTS tick_trace;`,
		`DROP TABLE IF EXISTS run_info;`,
		`CREATE TABLE run_info (
  run_id     TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  period_ns  INTEGER NOT NULL,
  digest     TEXT
);`,
		`CREATE TABLE tick_trace (
  seq         INTEGER PRIMARY KEY,
  at          TEXT NOT NULL,
  dt_ns       INTEGER NOT NULL,
  read_ns     INTEGER NOT NULL,
  control_ns  INTEGER NOT NULL,
  feedback_ns INTEGER NOT NULL,
  active      TEXT,
  late        INTEGER NOT NULL DEFAULT 0,
  missed      INTEGER NOT NULL DEFAULT 0,
  read_failed INTEGER NOT NULL DEFAULT 0,
  send_failed INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX tick_trace_flags_idx ON tick_trace(missed, late);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
