package sso

import (
	"fmt"
	"net/http"
)

// Error codes rendered to clients
const (
	CodeInvalidCode     = "INVALID_CODE"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeUnauthenticated = "UNAUTHENTICATED"
)

// Error is a login or session failure the client can act on
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode implements httputil.CodedError
func (e *Error) ErrorCode() string { return e.Code }

// HTTPStatus implements httputil.CodedError
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusUnauthorized
	}
	return e.Status
}

// PublicMessage implements httputil.CodedError
func (e *Error) PublicMessage() string { return e.Message }

func errInvalidCode(err error) *Error {
	return &Error{
		Code:    CodeInvalidCode,
		Status:  http.StatusUnauthorized,
		Message: "The authorization code is invalid or has expired.",
		Err:     err,
	}
}

func errInvalidToken(err error) *Error {
	return &Error{
		Code:    CodeInvalidToken,
		Status:  http.StatusUnauthorized,
		Message: "The issued access token could not be verified.",
		Err:     err,
	}
}

func errUnauthenticated() *Error {
	return &Error{
		Code:    CodeUnauthenticated,
		Status:  http.StatusUnauthorized,
		Message: "Authentication required.",
	}
}
