package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeJSONAPI = "application/vnd.api+json"
)

// WriteJSON writes a JSON response with the given status code and data.
// Encoding failures are logged; the status has already been sent by then.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorObject is a single JSON:API error.
type ErrorObject struct {
	Status int               `json:"status,omitempty"`
	Code   string            `json:"code,omitempty"`
	Title  string            `json:"title,omitempty"`
	Detail string            `json:"detail,omitempty"`
	Source map[string]string `json:"source,omitempty"` // e.g. {"parameter": "from"}
}

// ErrorResponse is the JSON:API error document.
type ErrorResponse struct {
	Errors []ErrorObject `json:"errors"`
}

// NewError creates a single error object.
func NewError(status int, code, title, detail string) ErrorObject {
	return ErrorObject{
		Status: status,
		Code:   code,
		Title:  title,
		Detail: detail,
	}
}

// WriteErrors writes a JSON:API error document.
func WriteErrors(w http.ResponseWriter, status int, errs ...ErrorObject) {
	w.Header().Set("Content-Type", ContentTypeJSONAPI)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Errors: errs}); err != nil {
		slog.Error("failed to encode JSON:API error response", "error", err)
	}
}

// WriteError writes a JSON:API error document with one error.
func WriteError(w http.ResponseWriter, status int, code, title, detail string) {
	WriteErrors(w, status, NewError(status, code, title, detail))
}

// WriteValidationError writes a 400 for a bad query parameter.
//
// Example:
//
//	httputil.WriteValidationError(w, "from", "must be epoch milliseconds")
func WriteValidationError(w http.ResponseWriter, parameter, detail string) {
	e := NewError(http.StatusBadRequest, "validation_failed", "Validation Failed", detail)
	if parameter != "" {
		e.Source = map[string]string{"parameter": parameter}
	}
	WriteErrors(w, http.StatusBadRequest, e)
}

// WriteUnauthorizedError writes a 401 unauthorized error response.
func WriteUnauthorizedError(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", detail)
}

// WriteInternalError writes a 500 internal server error response.
// Log the underlying error with context before calling this.
func WriteInternalError(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", detail)
}
