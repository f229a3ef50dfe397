package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a registered account.
type User struct {
	Username     string
	Salt         string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a new user. A taken username yields ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO users (username, salt, password_hash, created_at) VALUES (?, ?, ?, ?)`),
		u.Username, u.Salt, u.PasswordHash, created.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser loads a user by name. A missing user yields ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT username, salt, password_hash, created_at FROM users WHERE username = ?`),
		username).Scan(&u.Username, &u.Salt, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// CountUsers returns the number of registered accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
