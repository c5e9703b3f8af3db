package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/23026475/trackit/internal/blob"
	"github.com/23026475/trackit/internal/githubinfo"
	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternal        = "internal"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeArchived        = "project_archived"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeSignupDisabled  = "signup_disabled"
	ErrCodeValidation      = "validation_failed"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeUpstream        = "upstream_error"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, status, APIError{Code: code, Message: message})
}

func writeAPIError(w http.ResponseWriter, status int, e APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: e}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// writeStoreError maps a domain error to its HTTP response. Unknown errors
// are logged with op and reported as 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *models.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: verr.Error(), Field: verr.Field})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, store.ErrArchived):
		writeError(w, http.StatusConflict, ErrCodeArchived, "project is archived; restore it to make changes")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, blob.ErrTooLarge), errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "upload exceeds size limit")
	case errors.Is(err, githubinfo.ErrNotGitHub):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "project has no GitHub repository url")
	case errors.Is(err, githubinfo.ErrRepoNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		logFor(r.Context()).Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to "+op)
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return false
	}
	return true
}
