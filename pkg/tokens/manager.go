package tokens

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
)

// DefaultRefreshWindow is how close to expiry a token is refreshed
const DefaultRefreshWindow = 5 * time.Minute

// Refresher is the provider side of the token lifecycle
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*console.TokenPair, error)
	RevokeToken(ctx context.Context, refreshToken string) (bool, error)
}

// TokenStore persists encrypted tokens for a user
type TokenStore interface {
	SaveTokens(ctx context.Context, userID int64, tokens users.EncryptedTokens) error
	ClearTokens(ctx context.Context, userID int64) error
}

// Manager refreshes, stores and revokes provider tokens
type Manager struct {
	client  Refresher
	store   TokenStore
	cipher  Cipher
	window  time.Duration
	now     func() time.Time
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithRefreshWindow overrides DefaultRefreshWindow
func WithRefreshWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records refresh outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a token manager
func NewManager(client Refresher, store TokenStore, cipher Cipher, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		cipher: cipher,
		window: DefaultRefreshWindow,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns the decrypted access token, refreshing it first when
// it is close to expiry. It returns "" when the user has no usable token.
func (m *Manager) AccessToken(ctx context.Context, p users.Principal) (string, error) {
	if p.Tokens.AccessToken == "" {
		return "", nil
	}

	tokens := p.Tokens
	if m.needsRefresh(tokens) {
		refreshed, ok, err := m.refresh(ctx, p)
		if err != nil {
			return "", err
		}
		if ok {
			tokens = refreshed
		} else if !tokens.ExpiresAt.After(m.now()) {
			return "", nil
		}
	}

	plain, err := m.cipher.Decrypt(tokens.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token for user %d: %w", p.UserID, err)
	}
	return plain, nil
}

// RefreshIfNeeded refreshes when the token expires within the refresh
// window. It makes no provider call otherwise.
func (m *Manager) RefreshIfNeeded(ctx context.Context, p users.Principal) (bool, error) {
	if !m.needsRefresh(p.Tokens) {
		return false, nil
	}
	return m.Refresh(ctx, p)
}

// Refresh exchanges the stored refresh token for a new pair. It returns
// false without error when there is no refresh token or the provider
// refuses it; the user must then sign in again. Store failures propagate.
func (m *Manager) Refresh(ctx context.Context, p users.Principal) (bool, error) {
	_, ok, err := m.refresh(ctx, p)
	return ok, err
}

type refreshResult struct {
	tokens users.EncryptedTokens
	ok     bool
}

func (m *Manager) refresh(ctx context.Context, p users.Principal) (users.EncryptedTokens, bool, error) {
	if p.Tokens.RefreshToken == "" {
		return users.EncryptedTokens{}, false, nil
	}

	v, err, shared := m.group.Do(strconv.FormatInt(p.UserID, 10), func() (interface{}, error) {
		return m.doRefresh(ctx, p)
	})
	if shared {
		m.logger.WithField("user_id", p.UserID).Debug("Joined in-flight token refresh")
	}
	if err != nil {
		return users.EncryptedTokens{}, false, err
	}
	res := v.(refreshResult)
	return res.tokens, res.ok, nil
}

func (m *Manager) doRefresh(ctx context.Context, p users.Principal) (refreshResult, error) {
	log := m.logger.WithField("user_id", p.UserID)

	refreshToken, err := m.cipher.Decrypt(p.Tokens.RefreshToken)
	if err != nil {
		log.WithError(err).Warn("Stored refresh token is unreadable")
		m.metrics.ObserveRefresh("unreadable")
		return refreshResult{}, nil
	}

	pair, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		log.WithError(err).Warn("Token refresh failed")
		m.metrics.ObserveRefresh("error")
		return refreshResult{}, nil
	}
	if pair == nil {
		log.Info("Refresh token rejected by provider")
		m.metrics.ObserveRefresh("rejected")
		return refreshResult{}, nil
	}

	tokens, err := m.encrypt(pair)
	if err != nil {
		return refreshResult{}, err
	}
	if err := m.store.SaveTokens(ctx, p.UserID, tokens); err != nil {
		m.metrics.ObserveRefresh("store_error")
		return refreshResult{}, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	m.metrics.ObserveRefresh("success")
	return refreshResult{tokens: tokens, ok: true}, nil
}

// RevokeTokens revokes the refresh token at the provider, best effort, and
// always clears the stored tokens.
func (m *Manager) RevokeTokens(ctx context.Context, p users.Principal) error {
	log := m.logger.WithField("user_id", p.UserID)

	if p.Tokens.RefreshToken != "" {
		refreshToken, err := m.cipher.Decrypt(p.Tokens.RefreshToken)
		if err != nil {
			log.WithError(err).Warn("Skipping revoke of unreadable refresh token")
		} else if _, err := m.client.RevokeToken(ctx, refreshToken); err != nil {
			log.WithError(err).Warn("Token revoke failed")
		}
	}

	if err := m.store.ClearTokens(ctx, p.UserID); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

// StoreTokens encrypts and persists a freshly issued pair, returning the
// principal updated with the stored values.
func (m *Manager) StoreTokens(ctx context.Context, p users.Principal, pair *console.TokenPair) (users.Principal, error) {
	tokens, err := m.encrypt(pair)
	if err != nil {
		return p, err
	}
	if err := m.store.SaveTokens(ctx, p.UserID, tokens); err != nil {
		return p, fmt.Errorf("persist tokens: %w", err)
	}
	return p.WithTokens(tokens), nil
}

func (m *Manager) encrypt(pair *console.TokenPair) (users.EncryptedTokens, error) {
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return users.EncryptedTokens{}, users.ErrInvalidTokens
	}
	access, err := m.cipher.Encrypt(pair.AccessToken)
	if err != nil {
		return users.EncryptedTokens{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := m.cipher.Encrypt(pair.RefreshToken)
	if err != nil {
		return users.EncryptedTokens{}, fmt.Errorf("encrypt refresh token: %w", err)
	}
	expiresAt := m.now().Add(time.Duration(pair.ExpiresIn) * time.Second)
	return users.EncryptedTokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: &expiresAt}, nil
}

func (m *Manager) needsRefresh(tokens users.EncryptedTokens) bool {
	if tokens.ExpiresAt == nil {
		return false
	}
	return !tokens.ExpiresAt.After(m.now().Add(m.window))
}
