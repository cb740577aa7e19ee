// Package httputil provides HTTP helpers shared by the SSO handlers:
// JSON responses with stable error codes, request parsing with struct
// validation, and the request-scoped middleware chain.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, payload)
//	httputil.WriteErrorCode(w, http.StatusUnauthorized, "INVALID_CODE", "The authorization code is invalid.")
//
// Every error body has the shape {"error": CODE, "message": text}. Internal
// error text is never written to the client; log it instead.
//
// # Request Parsing
//
//	var req CallbackRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // 400 already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and organization middleware
package httputil
