package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match with errors.Is.
var (
	ErrAPI          = errors.New("console api error")
	ErrAuth         = errors.New("console authentication error")
	ErrAccessDenied = errors.New("console access denied")
	ErrNotFound     = errors.New("console resource not found")
	ErrServer       = errors.New("console server error")
)

// Error is a non-2xx provider response or an exhausted transport failure
type Error struct {
	Kind    error
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v: status %d (%s): %s", e.Kind, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// ErrorCode returns the stable code rendered to clients
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	switch e.Kind {
	case ErrAuth:
		return "AUTH_ERROR"
	case ErrAccessDenied:
		return "ACCESS_DENIED"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrServer:
		return "SERVER_ERROR"
	default:
		return "API_ERROR"
	}
}

// HTTPStatus returns the status to render for this error
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}

// PublicMessage returns the message rendered to clients
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.HTTPStatus())
}

// KindForStatus maps a provider status code to an error kind
func KindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusForbidden:
		return ErrAccessDenied
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrAPI
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFromResponse(status int, body []byte) *Error {
	e := &Error{
		Kind:    KindForStatus(status),
		Status:  status,
		Message: http.StatusText(status),
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Code = parsed.Code
		if e.Code == "" {
			e.Code = parsed.Error
		}
		if parsed.Message != "" {
			e.Message = parsed.Message
		}
	}
	return e
}

// NewAuthError builds an ErrAuth error raised locally, e.g. by token verification
func NewAuthError(code, message string) *Error {
	return &Error{Kind: ErrAuth, Status: http.StatusUnauthorized, Code: code, Message: message}
}

// AsError extracts a provider error from err
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
