package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresTokenStore implements TokenStore on PostgreSQL
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore creates a device token store
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// Create inserts a token and sets its ID
func (s *PostgresTokenStore) Create(ctx context.Context, token *DeviceToken) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO device_tokens (user_id, name, token_hash, token_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, token.UserID, token.Name, token.TokenHash, token.TokenPrefix, token.CreatedAt).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create device token: %w", err)
	}
	return nil
}

// FindByHash looks up a token by the hash of its plaintext
func (s *PostgresTokenStore) FindByHash(ctx context.Context, tokenHash string) (*DeviceToken, error) {
	var (
		token    DeviceToken
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, token_hash, token_prefix, last_used_at, created_at
		FROM device_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&token.ID, &token.UserID, &token.Name, &token.TokenHash,
		&token.TokenPrefix, &lastUsed, &token.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device token: %w", err)
	}

	if lastUsed.Valid {
		t := lastUsed.Time
		token.LastUsedAt = &t
	}
	return &token, nil
}

// Touch records a use of the token
func (s *PostgresTokenStore) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE device_tokens SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch device token: %w", err)
	}
	return nil
}

// Delete removes a token
func (s *PostgresTokenStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete device token: %w", err)
	}
	return nil
}

// DeleteForUser removes every token of a user
func (s *PostgresTokenStore) DeleteForUser(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete device tokens: %w", err)
	}
	return nil
}
