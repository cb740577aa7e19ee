// Package middleware provides HTTP middleware for authentication,
// organization scoping and request throttling.
//
// # Middleware Components
//
// Authenticator: resolves the caller from a device bearer token or the
// session cookie and stores an *auth.AuthContext in the request context.
//
//	router.Use(middleware.NewAuthenticator(sessions, issuer, userStore, false).Handler)
//
// RequireOrganization: reads the X-Org-Id header, checks access with the
// identity provider and stores the *console.AccessGrant.
//
//	admin.Use(middleware.RequireOrganization(resolver))
//
// RequireRole: compares the grant's service role level with a minimum.
//
//	admin.Use(middleware.RequireRole(middleware.DefaultRoleLevels(), "admin"))
//
// Locale: negotiates Accept-Language so provider calls can forward it.
//
// RateLimit: throttles by client address, in memory or in Redis.
//
// # Error Responses
//
//	401 {"error":"UNAUTHENTICATED"}
//	400 {"error":"MISSING_ORGANIZATION"}
//	403 {"error":"ACCESS_DENIED"}
//	403 {"error":"INSUFFICIENT_ROLE","required_role":"admin","current_role":"member"}
//	429 {"error":"RATE_LIMITED","retry_after":60}
package middleware
