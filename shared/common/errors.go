package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents different types of engine errors
type ErrorCode string

const (
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeExternalService  ErrorCode = "EXTERNAL_SERVICE"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Cause      error                  `json:"-"`
	StatusCode int                    `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Retryable:  isRetryable(code),
		StatusCode: getHTTPStatusCode(code),
	}
}

// NewAppErrorWithDetails creates a new application error with details
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	err := NewAppError(code, message)
	err.Details = details
	return err
}

// NewAppErrorWithCause creates a new application error with an underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	err := NewAppError(code, message)
	err.Cause = cause
	return err
}

// WrapError wraps an existing error with application error context.
// An error that already carries an AppError in its chain is returned unchanged.
func WrapError(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	if GetAppError(err) != nil {
		return err
	}
	return NewAppErrorWithCause(code, message, err)
}

func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeExternalService, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// getHTTPStatusCode maps error codes to HTTP status codes
func getHTTPStatusCode(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeStoreUnavailable, ErrCodeExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasErrorCode checks if the error has a specific error code
func HasErrorCode(err error, code ErrorCode) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code == code
	}
	return false
}

// IsNotFound reports whether err is a not-found AppError
func IsNotFound(err error) bool {
	return HasErrorCode(err, ErrCodeNotFound)
}

// IsRetryable reports whether the caller may retry the failed operation
func IsRetryable(err error) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Retryable
	}
	return false
}

// ErrNotFound creates a not found error
func ErrNotFound(resource, id string) *AppError {
	return NewAppErrorWithDetails(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), id)
}

// ErrInvalidInput creates an invalid input error
func ErrInvalidInput(field, reason string) *AppError {
	return NewAppErrorWithDetails(ErrCodeInvalidInput, fmt.Sprintf("invalid input for field: %s", field), reason)
}

// ErrInvalidState creates an invalid state error
func ErrInvalidState(current, requested string) *AppError {
	return NewAppErrorWithDetails(ErrCodeInvalidState, "invalid state transition",
		fmt.Sprintf("current: %s, requested: %s", current, requested))
}

// ErrStoreUnavailable creates a retryable persistence error
func ErrStoreUnavailable(operation string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeStoreUnavailable, fmt.Sprintf("store operation failed: %s", operation), cause)
}

// ErrExternalService creates an external service error
func ErrExternalService(service string, cause error) *AppError {
	return NewAppErrorWithCause(ErrCodeExternalService, fmt.Sprintf("external service error: %s", service), cause)
}

// ErrInternal creates an internal error
func ErrInternal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return NewAppError(ErrCodeInternal, message)
}
