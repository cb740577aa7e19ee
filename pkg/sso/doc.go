// Package sso runs the login transaction against the identity provider and
// serves the SSO endpoints.
//
// # Login
//
// Flow.Login walks one authorization code through
//
//	exchange -> verify -> upsert user -> store tokens -> organizations
//
// A rejected code fails with INVALID_CODE and a token that does not verify
// fails with INVALID_TOKEN, both 401. Nothing is written before the token
// verifies. Provider outages and database failures are returned as-is.
// Failing to list organizations is logged and yields an empty list.
//
// # Endpoints
//
//	POST /sso/callback            {code, device_name?} -> {user, organizations, token?}
//	POST /sso/logout              authenticated
//	GET  /sso/user                authenticated -> {user, organizations}
//	GET  /sso/global-logout-url   ?redirect_uri=  -> {logout_url}
//	GET  /sso/login-url           -> {login_url, state}
//
// Without device_name the callback starts a cookie session; with it a
// device token is issued and returned once.
package sso
