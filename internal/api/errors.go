package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/metal-price-cache/internal/errors"
	"github.com/metal-price-cache/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondCategorizedError sends err with the status and code of its category
func respondCategorizedError(w http.ResponseWriter, err error) {
	catErr := apperrors.Categorize(err)
	respondJSON(w, catErr.StatusCode, ErrorResponse{Error: *catErr.ToServiceError()})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
