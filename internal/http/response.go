package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fleetledger/internal/core"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError describes a failed request. Field is set for validation errors
// and Invariant for state errors.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Invariant string `json:"invariant,omitempty"`
}

// Error codes
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeValidation  = "VALIDATION_ERROR"
	CodeConflict    = "STATE_CONFLICT"
	CodeConversion  = "CONVERSION_UNAVAILABLE"
	CodeNotFound    = "NOT_FOUND"
	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func writeAPIError(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Error: &apiErr})
}

func badRequest(w http.ResponseWriter, message string) {
	writeAPIError(w, http.StatusBadRequest, APIError{Code: CodeBadRequest, Message: message})
}

// writeError maps a domain error onto its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *core.ValidationError
		serr *core.StateError
		cerr *core.ConversionError
	)
	switch {
	case errors.As(err, &verr):
		writeAPIError(w, http.StatusUnprocessableEntity, APIError{Code: CodeValidation, Message: verr.Error(), Field: verr.Field})
	case errors.As(err, &serr):
		writeAPIError(w, http.StatusConflict, APIError{Code: CodeConflict, Message: serr.Error(), Invariant: serr.Invariant})
	case errors.As(err, &cerr):
		writeAPIError(w, http.StatusServiceUnavailable, APIError{Code: CodeConversion, Message: cerr.Error()})
	case core.IsNotFound(err):
		writeAPIError(w, http.StatusNotFound, APIError{Code: CodeNotFound, Message: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeAPIError(w, http.StatusInternalServerError, APIError{Code: CodeInternal, Message: "internal error"})
	}
}
