package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// TokenPrefix identifies device tokens
	TokenPrefix = "cssd_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// ErrInvalidToken is returned for malformed, unknown or deleted tokens
var ErrInvalidToken = errors.New("invalid device token")

// TokenGenerator generates and hashes device tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new token.
// Format: cssd_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	full := TokenPrefix + encoded
	return full, tg.HashToken(full), TokenPrefix + encoded[:8], nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("%w: must start with %q", ErrInvalidToken, TokenPrefix)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, TokenPrefix))
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrInvalidToken)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("%w: wrong length", ErrInvalidToken)
	}
	return nil
}

// TokenStore persists device tokens
type TokenStore interface {
	Create(ctx context.Context, token *DeviceToken) error
	FindByHash(ctx context.Context, tokenHash string) (*DeviceToken, error)
	Touch(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
	DeleteForUser(ctx context.Context, userID int64) error
}

// TokenIssuer issues and validates device tokens
type TokenIssuer struct {
	generator *TokenGenerator
	store     TokenStore
	now       func() time.Time
}

// NewTokenIssuer creates a token issuer backed by store
func NewTokenIssuer(store TokenStore) *TokenIssuer {
	return &TokenIssuer{generator: NewTokenGenerator(), store: store, now: time.Now}
}

// Issue creates a device token and returns its plaintext, which is not
// recoverable afterwards.
func (ti *TokenIssuer) Issue(ctx context.Context, userID int64, name string) (string, *DeviceToken, error) {
	plaintext, hash, prefix, err := ti.generator.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	token := &DeviceToken{
		UserID:      userID,
		Name:        name,
		TokenHash:   hash,
		TokenPrefix: prefix,
		CreatedAt:   ti.now(),
	}
	if err := ti.store.Create(ctx, token); err != nil {
		return "", nil, fmt.Errorf("failed to store device token: %w", err)
	}
	return plaintext, token, nil
}

// Validate resolves a presented token. Unknown or malformed tokens yield
// ErrInvalidToken.
func (ti *TokenIssuer) Validate(ctx context.Context, plaintext string) (*DeviceToken, error) {
	if err := ti.generator.ValidateTokenFormat(plaintext); err != nil {
		return nil, err
	}

	token, err := ti.store.FindByHash(ctx, ti.generator.HashToken(plaintext))
	if err != nil {
		return nil, err
	}

	now := ti.now()
	if err := ti.store.Touch(ctx, token.ID, now); err == nil {
		token.LastUsedAt = &now
	}
	return token, nil
}

// Revoke deletes a device token
func (ti *TokenIssuer) Revoke(ctx context.Context, token *DeviceToken) error {
	return ti.store.Delete(ctx, token.ID)
}
