// Package console is the typed HTTP client for the Console identity
// provider's SSO REST surface.
//
// Every call carries the configured timeout and a bounded retry count with
// fixed backoff. Only transport failures and 5xx responses are retried.
// Non-2xx responses that are not documented soft failures become *Error,
// whose Kind matches one of the sentinel errors:
//
//	400, other 4xx  ErrAPI
//	401             ErrAuth
//	403             ErrAccessDenied
//	404             ErrNotFound
//	5xx             ErrServer
//
// Soft failures: a rejected code exchange or refresh returns a nil
// TokenPair, Access answers nil on 403, and UserTeams answers an empty list
// on 403 or 404.
package console
