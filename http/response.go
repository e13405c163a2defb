package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/qurlsh/qurl"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// HandleError writes the response matching a core error. Absent, expired
// and exhausted entries all surface as the same not-found; the password
// challenge and a password mismatch stay distinguishable from it.
func HandleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qurl.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, qurl.ErrPasswordRequired):
		WriteError(w, http.StatusUnauthorized, "password_required", "This entry is password protected")
	case errors.Is(err, qurl.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "invalid_password", "Invalid password")
	case errors.Is(err, qurl.ErrDecryptFailed):
		WriteError(w, http.StatusBadRequest, "invalid_key", "Invalid key or corrupt data")
	case errors.Is(err, qurl.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request")
	default:
		slog.Error("request error", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
