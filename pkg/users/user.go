package users

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup
	ErrNotFound = errors.New("user not found")
	// ErrInvalidTokens is returned for an access token without its refresh token or expiry
	ErrInvalidTokens = errors.New("access token requires refresh token and expiry")
)

// EncryptedTokens are the persisted token fields, encrypted at rest.
// The zero value means no tokens.
type EncryptedTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Validate enforces that tokens are stored as a pair with an expiry
func (t EncryptedTokens) Validate() error {
	if t.AccessToken == "" {
		return nil
	}
	if t.RefreshToken == "" || t.ExpiresAt == nil {
		return ErrInvalidTokens
	}
	return nil
}

// IsZero reports whether no token is stored
func (t EncryptedTokens) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.ExpiresAt == nil
}

// User is a local account linked to a console user
type User struct {
	ID            int64           `json:"id"`
	ConsoleUserID *int64          `json:"console_user_id"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	Tokens        EncryptedTokens `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Principal returns the session principal for the user
func (u *User) Principal() Principal {
	p := Principal{UserID: u.ID, Tokens: u.Tokens}
	if u.ConsoleUserID != nil {
		p.ConsoleUserID = *u.ConsoleUserID
	}
	return p
}

// Principal identifies the user a request acts for. ConsoleUserID is zero
// when the account has not been linked yet.
type Principal struct {
	UserID        int64
	ConsoleUserID int64
	Tokens        EncryptedTokens
}

// WithTokens returns a copy of the principal carrying tokens
func (p Principal) WithTokens(tokens EncryptedTokens) Principal {
	p.Tokens = tokens
	return p
}

// Profile is the identity data used to create or update a user on login
type Profile struct {
	ConsoleUserID int64  `validate:"required,gt=0"`
	Email         string `validate:"required,email"`
	Name          string
}
