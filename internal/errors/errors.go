package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/metal-price-cache/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConfiguration represents missing or invalid server-side configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryProvider represents upstream price provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryPersistence represents secondary cache read/write errors
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryValidation represents request validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryRateLimit represents inbound request throttling
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes
const (
	CodeConfigurationMissing = "CONFIGURATION_MISSING"
	CodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout      = "UPSTREAM_TIMEOUT"
	CodePersistenceFailure   = "PERSISTENCE_FAILURE"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewConfigurationMissingError creates an error for a required setting that is not configured
func NewConfigurationMissingError(setting string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeConfigurationMissing,
		Message:    fmt.Sprintf("%s not configured", setting),
		Details: map[string]interface{}{
			"setting": setting,
		},
	}
}

// NewUpstreamUnavailableError creates a price provider error
func NewUpstreamUnavailableError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamUnavailable,
		Message:    fmt.Sprintf("price provider unavailable: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewUpstreamTimeoutError creates a price provider timeout error
func NewUpstreamTimeoutError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeUpstreamTimeout,
		Message:    fmt.Sprintf("price provider timeout: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewPersistenceError creates a secondary cache error
func NewPersistenceError(store, operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       CodePersistenceFailure,
		Message:    fmt.Sprintf("%s store error during %s", store, operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"store":     store,
			"operation": operation,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeServiceUnavailable,
		Message:    message,
	}
}

// NewMethodNotAllowedError creates a method not allowed error
func NewMethodNotAllowedError(method, hint string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusMethodNotAllowed,
		Code:       CodeMethodNotAllowed,
		Message:    fmt.Sprintf("method %s not allowed. %s", method, hint),
		Details: map[string]interface{}{
			"method": method,
		},
	}
}

// NewRateLimitError creates an inbound rate limit error
func NewRateLimitError(limit float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded. Please try again later.",
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsUpstreamFailure reports whether err means no fresh prices could be obtained.
// A missing API key counts: for normal reads it is handled exactly like an outage.
func IsUpstreamFailure(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Category == CategoryProvider || catErr.Code == CodeConfigurationMissing
}

// IsPersistenceFailure reports whether err came from a secondary cache store
func IsPersistenceFailure(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryPersistence
}

// IsConfigurationMissing reports whether err is a missing-setting error
func IsConfigurationMissing(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == CodeConfigurationMissing
}
