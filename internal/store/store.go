// Package store persists materialized replication data in SQLite: entity
// tables keyed by message hash, the processed-message idempotency ledger,
// per-shard sync progress, and embedding vectors for semantic search.
//
// All entity rows are immutable once written. "Remove" events set a
// tombstone (removed_at, removed_message_hash) on the matching row instead
// of deleting it, so history is preserved.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"castlight/internal/logging"
)

// Store wraps the SQLite database. Safe for concurrent use; SQLite's WAL
// mode allows concurrent readers with a single writer, which matches the
// sync engine's batched write pattern.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY between pool connections;
	// the write path is serialized by the batcher anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: logging.Get(logging.CategoryStore)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("store opened", zap.String("path", path))
	return s, nil
}

// DB exposes the underlying handle for read-only query helpers in other
// packages' tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// begin starts a write transaction.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}
