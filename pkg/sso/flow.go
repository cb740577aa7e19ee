package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
	"github.com/platinummonkey/consolesso/pkg/verifier"
)

// CodeExchanger trades an authorization code for tokens. A rejected code
// yields (nil, nil).
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*console.TokenPair, error)
}

// TokenVerifier validates an access token issued by the provider
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*verifier.Claims, error)
}

// UserStore creates or updates the local account for a console identity
type UserStore interface {
	Upsert(ctx context.Context, profile users.Profile) (*users.User, error)
}

// TokenStorer persists and revokes a user's provider tokens
type TokenStorer interface {
	StoreTokens(ctx context.Context, p users.Principal, pair *console.TokenPair) (users.Principal, error)
	RevokeTokens(ctx context.Context, p users.Principal) error
}

// OrganizationSource lists a user's organizations and drops what is cached
// for them
type OrganizationSource interface {
	Organizations(ctx context.Context, p users.Principal) ([]console.AccessGrant, error)
	ForgetUser(ctx context.Context, p users.Principal) error
}

// Session is the result of a login or a current-user lookup
type Session struct {
	User          *users.User           `json:"user"`
	Organizations []console.AccessGrant `json:"organizations"`
	// Token is the device token plaintext, set only for device logins
	Token string `json:"token,omitempty"`
}

// Flow runs the login transaction and the session lifecycle around it
type Flow struct {
	exchanger CodeExchanger
	verifier  TokenVerifier
	users     UserStore
	tokens    TokenStorer
	orgs      OrganizationSource
	logger    *observability.Logger
}

// FlowOption configures a Flow
type FlowOption func(*Flow)

// WithLogger sets the flow logger
func WithLogger(l *observability.Logger) FlowOption {
	return func(f *Flow) { f.logger = l }
}

// NewFlow creates an authentication flow
func NewFlow(exchanger CodeExchanger, verifier TokenVerifier, users UserStore, tokens TokenStorer, orgs OrganizationSource, opts ...FlowOption) *Flow {
	f := &Flow{
		exchanger: exchanger,
		verifier:  verifier,
		users:     users,
		tokens:    tokens,
		orgs:      orgs,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Login exchanges code, verifies the issued token, upserts the user, stores
// the encrypted tokens and resolves the user's organizations. Nothing is
// written unless the token verifies.
func (f *Flow) Login(ctx context.Context, code string) (*Session, error) {
	if code == "" {
		return nil, errInvalidCode(nil)
	}

	pair, err := f.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		if e, ok := console.AsError(err); ok && e.Status >= 400 && e.Status < 500 {
			return nil, errInvalidCode(err)
		}
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if pair == nil {
		return nil, errInvalidCode(nil)
	}

	claims, err := f.verifier.Verify(ctx, pair.AccessToken)
	if err != nil {
		var verr *verifier.Error
		if errors.As(err, &verr) {
			f.logger.WithField("reason", string(verr.Reason)).Warn("Issued access token failed verification")
			return nil, errInvalidToken(err)
		}
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	if claims.Email == "" {
		f.logger.WithField("console_user_id", claims.Subject).Warn("Issued access token has no email claim")
		return nil, errInvalidToken(errors.New("missing email claim"))
	}

	user, err := f.users.Upsert(ctx, users.Profile{
		ConsoleUserID: claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	principal, err := f.tokens.StoreTokens(ctx, user.Principal(), pair)
	if err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}
	user.Tokens = principal.Tokens

	f.logger.WithFields(map[string]interface{}{
		"user_id":         user.ID,
		"console_user_id": claims.Subject,
	}).Info("User logged in")

	return &Session{User: user, Organizations: f.organizations(ctx, principal)}, nil
}

// Logout revokes the user's provider tokens, best effort, clears them
// locally and drops cached access. Only a failure to clear is returned.
func (f *Flow) Logout(ctx context.Context, p users.Principal) error {
	if err := f.orgs.ForgetUser(ctx, p); err != nil {
		f.logger.WithError(err).WithField("user_id", p.UserID).Warn("Failed to forget cached access")
	}
	return f.tokens.RevokeTokens(ctx, p)
}

// CurrentUser decorates the authenticated user with their organizations
func (f *Flow) CurrentUser(ctx context.Context, u *users.User) (*Session, error) {
	if u == nil {
		return nil, errUnauthenticated()
	}
	return &Session{User: u, Organizations: f.organizations(ctx, u.Principal())}, nil
}

func (f *Flow) organizations(ctx context.Context, p users.Principal) []console.AccessGrant {
	orgs, err := f.orgs.Organizations(ctx, p)
	if err != nil {
		f.logger.WithError(err).WithField("user_id", p.UserID).Warn("Failed to load organizations")
		return []console.AccessGrant{}
	}
	if orgs == nil {
		return []console.AccessGrant{}
	}
	return orgs
}
