package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed document store with declarative collections.
// Uses WAL mode and a single connection, so every operation is serialized.
//
// The underlying database is opened lazily on first use and memoized;
// concurrent callers share the same handle.
type Store struct {
	path   string
	schema Schema
	cols   map[string]*Collection

	mu sync.Mutex
	db *sql.DB
}

// New returns an unopened store for the database file at path.
func New(path string, schema Schema) *Store {
	return &Store{
		path:   path,
		schema: schema,
		cols:   schema.collectionMap(),
	}
}

// Open creates or opens the SQLite database at path and applies schema.
func Open(ctx context.Context, path string, schema Schema) (*Store, error) {
	s := New(path, schema)
	if _, err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens the database if it is not already open and returns the handle.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// A failed open is not memoized; the next call tries again.
func (s *Store) Open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if err := s.schema.Validate(); err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("open database: %w", err)}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("connect to database: %w", err)}
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("execute schema: %w", err)}
	}
	if err := s.upgrade(ctx, db); err != nil {
		db.Close()
		return nil, wrapErr("upgrade", "", err)
	}

	s.db = db
	return db, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Schema returns the declared schema.
func (s *Store) Schema() Schema { return s.schema }

// Close closes the database. The store may be reopened afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DeleteDatabase closes the store and removes the database file along
// with its WAL and shared-memory files.
func (s *Store) DeleteDatabase() error {
	if err := s.Close(); err != nil {
		return &Error{Op: "delete database", Err: err}
	}
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &Error{Op: "delete database", Err: err}
		}
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// upgrade compares PRAGMA user_version with the declared schema version.
// When the stored version is older, the catalog is rewritten, the
// migration callback runs and every secondary index is rebuilt, all in
// one transaction.
func (s *Store) upgrade(ctx context.Context, db *sql.DB) error {
	var stored int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&stored); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if stored > s.schema.Version {
		return &VersionError{Stored: stored, Declared: s.schema.Version}
	}
	if stored == s.schema.Version {
		return nil
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{q: sqlTx, cols: s.cols}
	if err := tx.writeCatalog(ctx, s.schema); err != nil {
		return err
	}
	if s.schema.Upgrade != nil {
		if err := s.schema.Upgrade(ctx, tx, stored, s.schema.Version); err != nil {
			return fmt.Errorf("migrate %d -> %d: %w", stored, s.schema.Version, err)
		}
	}
	if err := tx.purgeUndeclared(ctx); err != nil {
		return err
	}
	for _, c := range s.schema.Collections {
		if err := tx.reindex(ctx, c.Name); err != nil {
			return err
		}
	}
	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.schema.Version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Version returns the version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, wrapErr("version", "", err)
	}
	return v, nil
}

// view runs fn against the database outside a transaction.
func (s *Store) view(ctx context.Context, op, collection string, fn func(tx *Tx) error) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}
	err = retry(ctx, func() error {
		return fn(&Tx{q: db, cols: s.cols})
	})
	return wrapErr(op, collection, err)
}

// update runs fn in a transaction. Everything fn writes commits together
// or not at all.
func (s *Store) update(ctx context.Context, op, collection string, fn func(tx *Tx) error) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}
	err = retry(ctx, func() error {
		sqlTx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer sqlTx.Rollback() // No-op if committed

		if err := fn(&Tx{q: sqlTx, cols: s.cols}); err != nil {
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	return wrapErr(op, collection, err)
}
