package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/contextkeys"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
)

// SessionReader resolves the session user of a request
type SessionReader interface {
	UserID(r *http.Request) (int64, error)
}

// DeviceTokenValidator resolves a presented bearer token
type DeviceTokenValidator interface {
	Validate(ctx context.Context, plaintext string) (*auth.DeviceToken, error)
}

// UserLoader loads users by local id
type UserLoader interface {
	Get(ctx context.Context, id int64) (*users.User, error)
}

// Authenticator provides authentication middleware
type Authenticator struct {
	sessions SessionReader
	tokens   DeviceTokenValidator
	users    UserLoader
	optional bool // If true, allow requests without auth
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(sessions SessionReader, tokens DeviceTokenValidator, users UserLoader, optional bool) *Authenticator {
	return &Authenticator{
		sessions: sessions,
		tokens:   tokens,
		users:    users,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := m.authenticate(r)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Authentication lookup failed")
			httputil.WriteInternalError(w)
			return
		}
		if authCtx == nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthenticated(w)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate returns nil without error when the request carries no
// valid credential
func (m *Authenticator) authenticate(r *http.Request) (*auth.AuthContext, error) {
	ctx := r.Context()

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || m.tokens == nil {
			return nil, nil
		}

		token, err := m.tokens.Validate(ctx, strings.TrimSpace(parts[1]))
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return m.load(ctx, token.UserID, auth.MethodDevice, token)
	}

	if m.sessions == nil {
		return nil, nil
	}
	userID, err := m.sessions.UserID(r)
	if err != nil {
		return nil, nil
	}
	return m.load(ctx, userID, auth.MethodSession, nil)
}

func (m *Authenticator) load(ctx context.Context, userID int64, method auth.Method, token *auth.DeviceToken) (*auth.AuthContext, error) {
	user, err := m.users.Get(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &auth.AuthContext{User: user, Method: method, Token: token}, nil
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return auth.FromContext(r.Context())
}
