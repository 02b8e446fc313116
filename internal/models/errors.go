package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrCallbackURLRequired indicates a required callback URL field is empty.
	ErrCallbackURLRequired = errors.New("client_callback_url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrFilenameRequired indicates a required filename field is empty.
	ErrFilenameRequired = errors.New("original_filename is required")

	// ErrTaskIDRequired indicates a required task ID field is zero.
	ErrTaskIDRequired = errors.New("task_id is required")

	// ErrBlobPathRequired indicates a required blob path field is empty.
	ErrBlobPathRequired = errors.New("blob_path is required")

	// ErrInvalidTimeRange indicates end seconds is not after start seconds.
	ErrInvalidTimeRange = errors.New("end_seconds must be after start_seconds")

	// ErrNegativeTime indicates a negative segment boundary.
	ErrNegativeTime = errors.New("segment times must be non-negative")
)

// ErrorCategory classifies an application error for retry and HTTP mapping.
type ErrorCategory string

const (
	// CategoryValidation covers bad inputs. Non-retryable.
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthentication covers missing or bad credentials. Non-retryable.
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryAuthorization covers permission failures. Non-retryable.
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound covers missing entities. Non-retryable.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryExternalService covers upstream failures. Retryable by default.
	CategoryExternalService ErrorCategory = "external_service"
	// CategoryRateLimit covers upstream throttling. Retryable.
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryTimeout covers deadline expiry. Retryable.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryCircuitOpen covers calls rejected by an open breaker. Retryable.
	CategoryCircuitOpen ErrorCategory = "circuit_breaker_open"
	// CategoryDatabase covers store failures. Retryable.
	CategoryDatabase ErrorCategory = "database"
	// CategoryBusinessLogic covers domain rule violations. Non-retryable.
	CategoryBusinessLogic ErrorCategory = "business_logic"
	// CategorySystem covers unknown internal failures. Non-retryable.
	CategorySystem ErrorCategory = "system"
)

// AppError is a structured application error carrying a stable code,
// a category, retryability, and the HTTP status it maps to at the edge.
type AppError struct {
	Code       string         `json:"code"`
	Category   ErrorCategory  `json:"category"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair to the error's details map.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewValidationError creates a non-retryable validation error.
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Category:   CategoryValidation,
		Message:    message,
		Retryable:  false,
		HTTPStatus: http.StatusBadRequest,
		Err:        cause,
	}
}

// NewAuthenticationError creates a non-retryable authentication error.
func NewAuthenticationError(message string, cause error) *AppError {
	return &AppError{
		Code:       "AUTHENTICATION_ERROR",
		Category:   CategoryAuthentication,
		Message:    message,
		Retryable:  false,
		HTTPStatus: http.StatusUnauthorized,
		Err:        cause,
	}
}

// NewAuthorizationError creates a non-retryable authorization error.
func NewAuthorizationError(message string, cause error) *AppError {
	return &AppError{
		Code:       "AUTHORIZATION_ERROR",
		Category:   CategoryAuthorization,
		Message:    message,
		Retryable:  false,
		HTTPStatus: http.StatusForbidden,
		Err:        cause,
	}
}

// NewNotFoundError creates a non-retryable not-found error.
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Category:   CategoryNotFound,
		Message:    message,
		Retryable:  false,
		HTTPStatus: http.StatusNotFound,
		Err:        cause,
	}
}

// NewExternalServiceError creates a retryable upstream failure.
func NewExternalServiceError(message string, cause error) *AppError {
	return &AppError{
		Code:       "EXTERNAL_SERVICE_ERROR",
		Category:   CategoryExternalService,
		Message:    message,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
		Err:        cause,
	}
}

// NewRateLimitError creates a retryable rate-limit error. retryAfterSec
// is recorded in details when positive.
func NewRateLimitError(message string, retryAfterSec int, cause error) *AppError {
	e := &AppError{
		Code:       "RATE_LIMIT",
		Category:   CategoryRateLimit,
		Message:    message,
		Retryable:  true,
		HTTPStatus: http.StatusTooManyRequests,
		Err:        cause,
	}
	if retryAfterSec > 0 {
		e.WithDetail("retry_after_sec", retryAfterSec)
	}
	return e
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Code:       "TIMEOUT",
		Category:   CategoryTimeout,
		Message:    message,
		Retryable:  true,
		HTTPStatus: http.StatusRequestTimeout,
		Err:        cause,
	}
}

// NewCircuitOpenError creates a retryable error for an open breaker.
func NewCircuitOpenError(dependency string, cause error) *AppError {
	e := &AppError{
		Code:       "CIRCUIT_BREAKER_OPEN",
		Category:   CategoryCircuitOpen,
		Message:    fmt.Sprintf("circuit breaker open for %s", dependency),
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        cause,
	}
	return e.WithDetail("dependency", dependency)
}

// NewDatabaseError creates a retryable store failure.
func NewDatabaseError(message string, cause error) *AppError {
	return &AppError{
		Code:       "DATABASE_ERROR",
		Category:   CategoryDatabase,
		Message:    message,
		Retryable:  true,
		HTTPStatus: http.StatusInternalServerError,
		Err:        cause,
	}
}

// NewBusinessLogicError creates a non-retryable domain rule violation.
func NewBusinessLogicError(message string, cause error) *AppError {
	return &AppError{
		Code:       "BUSINESS_LOGIC_ERROR",
		Category:   CategoryBusinessLogic,
		Message:    message,
		Retryable:  false,
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        cause,
	}
}

// NewSystemError creates a non-retryable internal failure.
func NewSystemError(message string, cause error) *AppError {
	return &AppError{
		Code:       "SYSTEM_ERROR",
		Category:   CategorySystem,
		Message:    message,
		Retryable:  false,
		HTTPStatus: http.StatusInternalServerError,
		Err:        cause,
	}
}

// retryableFragments are message substrings that mark an untyped error
// as transient. Matching is case-insensitive.
var retryableFragments = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"circuit breaker",
	"internal server error",
	"http 5",
}

// nonRetryableFragments mark an untyped error as permanent. These are
// checked before the retryable list so "invalid api key" style failures
// never burn retry budget.
var nonRetryableFragments = []string{
	"unauthorized",
	"invalid api key",
	"authentication",
	"forbidden",
	"not found",
	"file not found",
	"validation",
	"bad request",
	"unprocessable",
}

// IsRetryableError reports whether err is worth retrying. Typed
// *AppError values answer from their Retryable flag; anything else is
// classified by message substrings, defaulting to non-retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range nonRetryableFragments {
		if strings.Contains(msg, frag) {
			return false
		}
	}
	for _, frag := range retryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// ErrorCategoryOf returns the category for err, CategorySystem when untyped.
func ErrorCategoryOf(err error) ErrorCategory {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category
	}
	return CategorySystem
}
