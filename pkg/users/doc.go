// Package users holds the local user record linked to a console account and
// its PostgreSQL store.
//
// Token fields are always ciphertext. The store never sees plaintext
// tokens and refuses to persist an access token without its refresh token
// and expiry.
//
// Services that act on behalf of a user take a Principal, a value snapshot
// of the identity and token fields, rather than the User record itself.
package users
