// Package access resolves what a signed-in user may do in an organization
// by asking the identity provider, with cache-aside results.
//
// A denied or token-less access check is cached as a nil grant for the
// same TTL as a positive one. Cache outages fall through to the provider.
package access
