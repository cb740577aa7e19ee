// Package auth provides request authentication primitives: the
// authenticated context carried by each request, device bearer tokens for
// mobile clients, and security audit events.
//
// # Device Tokens
//
// Mobile clients that sign in with a device name receive a bearer token
// instead of a cookie session:
//
//	plaintext, token, err := issuer.Issue(ctx, user.ID, "Ada's iPhone")
//	// plaintext: cssd_<base64url(32 random bytes)>, shown once
//	// token.TokenHash: hex(SHA256(plaintext)), stored
//
// Validation hashes the presented token and looks it up:
//
//	token, err := store.FindByHash(ctx, generator.HashToken(presented))
//
// # Audit
//
// AuditLogger emits one structured log line per security event (login,
// logout, token issue and revoke, role changes) with the client address
// and outcome.
package auth
