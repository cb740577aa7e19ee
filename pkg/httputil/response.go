package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error codes shared across handlers
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInternal        = "INTERNAL_ERROR"
	CodeNotFound        = "NOT_FOUND"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorCode writes {"error": code, "message": message}
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// WriteErrorDetails writes an error body with extra top-level fields
func WriteErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		body[k] = v
	}
	body["error"] = code
	body["message"] = message
	_ = WriteJSON(w, status, body)
}

// WriteValidationError writes a 400 VALIDATION_ERROR
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusBadRequest, CodeValidation, message)
}

// WriteUnauthenticated writes a 401 UNAUTHENTICATED
func WriteUnauthenticated(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusUnauthorized, CodeUnauthenticated, "Authentication required.")
}

// WriteNotFound writes a 404 NOT_FOUND
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteInternalError writes a generic 500 without leaking the cause
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "An internal error occurred.")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteMessage writes {"message": message} with 200
func WriteMessage(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{"message": message})
}

// CodedError is an error that knows how it is rendered to clients
type CodedError interface {
	error
	ErrorCode() string
	HTTPStatus() int
	PublicMessage() string
}

// WriteError renders a CodedError found in err's chain with its own status
// and code. Any other error becomes a 500 without its text.
func WriteError(w http.ResponseWriter, err error) {
	var coded CodedError
	if errors.As(err, &coded) {
		WriteErrorCode(w, coded.HTTPStatus(), coded.ErrorCode(), coded.PublicMessage())
		return
	}
	WriteInternalError(w)
}
