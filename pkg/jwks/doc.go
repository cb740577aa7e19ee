// Package jwks fetches and caches the identity provider's signing keys and
// converts RSA JWKs into verification keys.
//
// The key set is cached with a TTL. When a token names a key id that is
// not in the cached set, the set is dropped and fetched again exactly once,
// which picks up rotated keys without manual intervention.
package jwks
