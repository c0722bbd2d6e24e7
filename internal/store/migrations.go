package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is a pure function of the open connection, run inside its own
// transaction. Migrations are ordered and immutable - never edit one after
// it has shipped; append a new one instead.
type migration func(ctx context.Context, tx *sql.Tx) error

// migrations is the process-wide, immutable ordered migration table (§9
// "Global state"). SchemaVersion after startup equals len(migrations).
var migrations = []migration{
	createTorrentsTable,
	createUsersTable,
	createSessionSettingsTable,
}

func createTorrentsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE torrents (
			info_hash         TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			save_path         TEXT NOT NULL,
			queue_position    INTEGER NOT NULL DEFAULT 0,
			resume_blob       BLOB,
			client_data_blob  BLOB
		)
	`)
	return err
}

func createUsersTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE users (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			created_at    INTEGER NOT NULL
		)
	`)
	return err
}

func createSessionSettingsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE session_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	return err
}

// schemaVersion reads the store's user_version pragma.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, tx *sql.Tx, v int) error {
	// PRAGMA does not accept bound parameters. Running it inside tx makes
	// the version bump commit atomically with the migration it records.
	_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v))
	return err
}

// migrate applies migrations[SchemaVersion:] in order, each under its own
// transaction, and records the new SchemaVersion on success. A fresh
// database starts at 0. Any migration failure aborts startup; SchemaVersion
// is left at the last successfully applied migration (never decremented,
// never advanced past a failure).
func (s *Store) migrate(ctx context.Context) error {
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current > len(migrations) {
		return fmt.Errorf("schema version %d exceeds known migrations (%d); refusing to run against a newer database", current, len(migrations))
	}

	s.log.Info().Int("from", current).Int("to", len(migrations)).Msg("applying migrations")

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", i, err)
		}

		if err := migrations[i](ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i, err)
		}

		if err := s.setSchemaVersion(ctx, tx, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set schema version: %w", i, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", i, err)
		}
	}

	return nil
}
