// Package store provides the SQLite persistence layer for netmonitor.
//
// It owns the schema, its versioned migrations, and every SQL statement in
// the program: higher layers only see typed repository methods. Writes are
// serialized through a single writer mutex; WAL readers stay concurrent.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"netmonitor/dbopen"
)

// Store is the netmonitor database handle.
type Store struct {
	DB *sql.DB

	// mu serializes writers. SQLite allows one writer at a time; taking the
	// lock in-process avoids SQLITE_BUSY churn between the periodic tasks.
	mu sync.Mutex
}

// Open opens (or creates) the netmonitor database at path, applies pragmas,
// the idempotent schema, and any pending migrations.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{dbopen.WithMkdirAll()}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}

	s := &Store{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an already-open database (tests use this with OpenMemory).
func OpenDB(db *sql.DB) (*Store, error) {
	s := &Store{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// migrate applies the base schema, then walks the ordered migration list for
// databases recorded at an older version. Everything runs in one transaction
// so a failed upgrade leaves the previous version intact.
func (s *Store) migrate(ctx context.Context) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, Schema); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}

		var version int
		err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
		switch {
		case err == sql.ErrNoRows:
			// Fresh database: the schema above is already current.
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
				return fmt.Errorf("store: record schema version: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("store: read schema version: %w", err)
		}

		if version > SchemaVersion {
			return fmt.Errorf("store: database schema v%d is newer than supported v%d", version, SchemaVersion)
		}

		for _, m := range migrations {
			if m.version <= version {
				continue
			}
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("store: migration to v%d: %w", m.version, err)
			}
			version = m.version
		}

		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, SchemaVersion); err != nil {
			return fmt.Errorf("store: update schema version: %w", err)
		}
		return nil
	})
}

// writeTx runs fn in a write transaction under the writer lock, retrying on
// SQLITE_BUSY.
func (s *Store) writeTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dbopen.RunTx(ctx, s.DB, fn)
}
