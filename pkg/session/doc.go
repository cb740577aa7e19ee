// Package session issues the browser session created by a successful SSO
// login, as a signed and encrypted gorilla/sessions cookie.
package session
