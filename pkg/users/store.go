package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store persists users and their encrypted tokens
type Store interface {
	Get(ctx context.Context, id int64) (*User, error)
	FindByConsoleID(ctx context.Context, consoleUserID int64) (*User, error)
	Upsert(ctx context.Context, profile Profile) (*User, error)
	SaveTokens(ctx context.Context, userID int64, tokens EncryptedTokens) error
	ClearTokens(ctx context.Context, userID int64) error
}

const userColumns = `id, console_user_id, email, name, access_token, refresh_token, token_expires_at, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db       *sql.DB
	validate *validator.Validate
}

// NewPostgresStore creates a PostgreSQL-backed user store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, validate: validator.New()}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u             User
		consoleUserID sql.NullInt64
		accessToken   sql.NullString
		refreshToken  sql.NullString
		expiresAt     sql.NullTime
	)
	err := row.Scan(&u.ID, &consoleUserID, &u.Email, &u.Name,
		&accessToken, &refreshToken, &expiresAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if consoleUserID.Valid {
		id := consoleUserID.Int64
		u.ConsoleUserID = &id
	}
	u.Tokens.AccessToken = accessToken.String
	u.Tokens.RefreshToken = refreshToken.String
	if expiresAt.Valid {
		t := expiresAt.Time
		u.Tokens.ExpiresAt = &t
	}
	return &u, nil
}

// Get retrieves a user by local id
func (s *PostgresStore) Get(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// FindByConsoleID retrieves a user by console user id
func (s *PostgresStore) FindByConsoleID(ctx context.Context, consoleUserID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE console_user_id = $1`, consoleUserID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// Upsert creates or updates the user for a console identity. An existing
// unlinked account with the same email is linked instead of duplicated.
func (s *PostgresStore) Upsert(ctx context.Context, profile Profile) (*User, error) {
	if err := s.validate.Struct(profile); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET console_user_id = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM users
			WHERE email = $2 AND console_user_id IS NULL
			ORDER BY id
			LIMIT 1
		)
		AND NOT EXISTS (SELECT 1 FROM users WHERE console_user_id = $1)
	`, profile.ConsoleUserID, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to link user: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO users (console_user_id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (console_user_id) DO UPDATE
			SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = NOW()
		RETURNING `+userColumns,
		profile.ConsoleUserID, profile.Email, profile.Name)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user: %w", err)
	}
	return u, nil
}

// SaveTokens replaces the stored token fields
func (s *PostgresStore) SaveTokens(ctx context.Context, userID int64, tokens EncryptedTokens) error {
	if err := tokens.Validate(); err != nil {
		return err
	}

	var expiresAt interface{}
	if tokens.ExpiresAt != nil {
		expiresAt = tokens.ExpiresAt.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = $4
		WHERE id = $5
	`, nullString(tokens.AccessToken), nullString(tokens.RefreshToken), expiresAt, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return requireRow(res)
}

// ClearTokens removes all token fields
func (s *PostgresStore) ClearTokens(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET access_token = NULL, refresh_token = NULL, token_expires_at = NULL, updated_at = $1
		WHERE id = $2
	`, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return requireRow(res)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
