// Package store is the durable persistence layer: a single SQLite file,
// write-ahead-logged, accessed through exactly one process-wide writer
// connection, per spec.md §4.1. Every operation the rest of the core
// depends on for crash-safe state transitions lives here as a typed method
// rather than ad-hoc SQL scattered through the call sites — the same shape
// the teacher's repository package uses, generalized from Postgres to
// SQLite and from CRUD-only to the atomic claim primitives this engine's
// invariants require.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the single shared *sqlx.DB connection and exposes every
// persistence operation as a typed method.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite file at path, applies pragmas (WAL,
// busy_timeout, foreign_keys), runs embedded migrations, and caps the pool
// to a single connection — this process is the sole writer, per spec.md §3
// ("Ownership").
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", path, busyTimeout.Milliseconds())
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store.Open: connect: %w", err)
	}
	// A single writer connection makes SQLite's locking model trivial: no
	// writer ever contends with another writer inside this process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for components (e.g. backup) that need it
// directly; core invariant-bearing operations should prefer the typed
// methods on Store.
func (s *Store) DB() *sqlx.DB { return s.db }

// Backup writes a consistent snapshot of the database to destPath using
// SQLite's VACUUM INTO, which takes its own read lock and never blocks
// behind (or is blocked by) the single writer connection's open
// transactions. Cron's periodic backup phase is the only caller; per
// spec.md §9, a failed backup is logged and alerted on, never fatal.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("store.Backup: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store.migrate: read embedded migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("store.migrate: read %q: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("store.migrate: exec %q: %w", name, err)
		}
		slog.Debug("migration applied", "file", name)
	}
	return nil
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic. Call sites that need to chain
// several *Tx-suffixed methods atomically (market resolution's multi-step
// settlement, for instance) use this instead of each method opening its
// own transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.withTx(ctx, fn)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
