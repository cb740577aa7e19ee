// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that
// producers and consumers agree on names and value types.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: /sso/logout, /sso/user, admin endpoints
	AuthKey Key = "auth_context"

	// GrantKey contains *console.AccessGrant for the X-Org-Id organization
	// Set by: middleware.RequireOrganization (pkg/middleware/org.go)
	// Required by: role level checks, rbac permission middleware, admin handlers
	GrantKey Key = "access_grant"

	// LocaleKey contains the caller's preferred language tag (string)
	// Set by: middleware.Locale (pkg/middleware/locale.go)
	// Used by: console client Accept-Language forwarding
	LocaleKey Key = "locale"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithGrant adds the organization access grant to the context
func WithGrant(ctx context.Context, grant interface{}) context.Context {
	return context.WithValue(ctx, GrantKey, grant)
}

// WithLocale adds the preferred locale to the context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, LocaleKey, locale)
}

// GetLocale retrieves the preferred locale from context
func GetLocale(ctx context.Context) string {
	if locale, ok := ctx.Value(LocaleKey).(string); ok {
		return locale
	}
	return ""
}
