// Package tokens manages a user's provider token pair: encryption at rest,
// refresh ahead of expiry, and revocation on logout.
//
// Concurrent refreshes for the same user within one process share a single
// provider call. Two processes may still refresh the same user at once;
// the provider's refresh token rotation decides which pair survives and
// both writes leave a complete pair in the store.
package tokens
