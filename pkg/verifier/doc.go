// Package verifier validates RS256 access tokens issued by the identity
// provider against its published JWKS.
//
// Verification failures are values: Verify returns a *Error describing why
// a token was refused and the caller decides how to respond and what to
// log. A missing key id and an unknown key id also match console.ErrAuth.
package verifier
