package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUserNotFound is returned by GetUser when no matching row exists.
var ErrUserNotFound = errors.New("store: user not found")

// UserRecord is the persisted credential row backing the (out-of-scope)
// HTTP control surface's authentication, per SPEC_FULL §3.
type UserRecord struct {
	Username     string
	PasswordHash string
	CreatedAt    int64 // unix seconds
}

// GetUser fetches a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (UserRecord, error) {
	var rec UserRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, created_at FROM users WHERE username = ?
	`, username).Scan(&rec.Username, &rec.PasswordHash, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return rec, nil
}

// UpsertUser inserts the credential row for rec.Username, or, if one
// exists, updates its password hash only (created_at is kept).
func (s *Store) UpsertUser(ctx context.Context, rec UserRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash
	`, rec.Username, rec.PasswordHash, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", rec.Username, err)
	}
	return nil
}

// RemoveUser deletes the credential row for username. Idempotent.
func (s *Store) RemoveUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("remove user %s: %w", username, err)
	}
	return nil
}
