package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, hash, prefix, err := tg.GenerateToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, hash, 64)
	assert.Equal(t, tg.HashToken(token), hash)
	assert.True(t, strings.HasPrefix(token, prefix))
	assert.Len(t, prefix, len(TokenPrefix)+8)
	assert.NoError(t, tg.ValidateTokenFormat(token))

	other, _, _, err := tg.GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name  string
		token string
	}{
		{"wrong prefix", "spoke_abcdef"},
		{"empty body", TokenPrefix},
		{"bad encoding", TokenPrefix + "!!!!"},
		{"short", TokenPrefix + "YWJj"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tg.ValidateTokenFormat(tt.token), ErrInvalidToken)
		})
	}
}

type memoryTokenStore struct {
	byHash  map[string]*DeviceToken
	nextID  int64
	touched map[int64]time.Time
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{byHash: map[string]*DeviceToken{}, touched: map[int64]time.Time{}}
}

func (m *memoryTokenStore) Create(_ context.Context, token *DeviceToken) error {
	m.nextID++
	token.ID = m.nextID
	m.byHash[token.TokenHash] = token
	return nil
}

func (m *memoryTokenStore) FindByHash(_ context.Context, hash string) (*DeviceToken, error) {
	token, ok := m.byHash[hash]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := *token
	return &cp, nil
}

func (m *memoryTokenStore) Touch(_ context.Context, id int64, at time.Time) error {
	m.touched[id] = at
	return nil
}

func (m *memoryTokenStore) Delete(_ context.Context, id int64) error {
	for hash, token := range m.byHash {
		if token.ID == id {
			delete(m.byHash, hash)
		}
	}
	return nil
}

func (m *memoryTokenStore) DeleteForUser(_ context.Context, userID int64) error {
	for hash, token := range m.byHash {
		if token.UserID == userID {
			delete(m.byHash, hash)
		}
	}
	return nil
}

func TestTokenIssuer_Lifecycle(t *testing.T) {
	store := newMemoryTokenStore()
	issuer := NewTokenIssuer(store)
	ctx := context.Background()

	plaintext, token, err := issuer.Issue(ctx, 7, "Ada's iPhone")
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, token.TokenHash)
	assert.Equal(t, int64(7), token.UserID)

	found, err := issuer.Validate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)
	assert.NotNil(t, found.LastUsedAt)
	assert.Contains(t, store.touched, token.ID)

	_, err = issuer.Validate(ctx, plaintext+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, issuer.Revoke(ctx, found))
	_, err = issuer.Validate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
