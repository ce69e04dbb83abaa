// Package store is Overseer's single-writer transactional tabular store:
// a SQLite-backed implementation of the persistence contract in spec §4.1.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/overseer-dev/overseer/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/002_idempotency_ttl_index.sql
var migration002 string

// Store is the single-writer SQLite store. Writes are serialized by
// writeMu so that "at most one write transaction commits at a time"
// (spec §5) holds regardless of how many goroutines call BeginWrite.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	log     *zap.SugaredLogger
}

// Open opens (creating if absent) the SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; modernc's driver serializes anyway

	s := &Store{db: db, log: logging.New("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version < 2 {
		s.log.Info("running migration to v2: idempotency TTL index")
		if _, err := s.db.Exec(migration002); err != nil {
			return fmt.Errorf("failed to run migration 002: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Txn wraps a single write transaction. A Txn covers both entity
// mutation and the corresponding event append, committed atomically
// (spec §4.1, §9).
type Txn struct {
	tx      *sql.Tx
	store   *Store
	done    bool
}

// BeginWrite acquires the single write lane and opens a transaction.
// Callers must Commit or Rollback exactly once.
func (s *Store) BeginWrite(ctx context.Context) (*Txn, error) {
	s.writeMu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("failed to begin write transaction: %w", err)
	}
	return &Txn{tx: tx, store: s}, nil
}

func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.writeMu.Unlock()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.writeMu.Unlock()
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// AllocateEventSeq returns the next strictly increasing event sequence
// number, allocated inside txn so a committed higher seq implies every
// lower seq is either committed or forever absent (spec §4.1, §9).
func (t *Txn) AllocateEventSeq() (uint64, error) {
	row := t.tx.QueryRow(`UPDATE seq_counter SET value = value + 1 WHERE id = 1 RETURNING value`)
	var seq uint64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate event seq: %w", err)
	}
	return seq, nil
}

// View runs fn inside a read-only transaction. The pool holds a single
// connection, so a View waits for any open write transaction and holds
// writers off until fn returns.
func (s *Store) View(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// DB exposes the underlying *sql.DB for read helpers in sibling files
// within this package.
func (s *Store) DB() *sql.DB { return s.db }

// Tx exposes the underlying *sql.Tx for entity repositories in sibling
// files within this package.
func (t *Txn) Tx() *sql.Tx { return t.tx }
