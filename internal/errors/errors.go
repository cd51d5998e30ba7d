package errors

import (
	"fmt"
	"net/http"
)

// AppError represents a custom application error
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status for the error, defaulting to 500.
func (e *AppError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Error kinds. Every handler failure maps to exactly one of these;
// validation and authorization fire before any mutation is attempted.
var (
	ErrUnauthenticated   = &AppError{Code: "UNAUTHENTICATED", Message: "Authentication required", Status: http.StatusUnauthorized}
	ErrUnauthorized      = &AppError{Code: "UNAUTHORIZED", Message: "Insufficient role", Status: http.StatusForbidden}
	ErrNotFound          = &AppError{Code: "NOT_FOUND", Message: "Resource not found", Status: http.StatusNotFound}
	ErrConflict          = &AppError{Code: "CONFLICT", Message: "Conflicting state", Status: http.StatusConflict}
	ErrRateLimited       = &AppError{Code: "RATE_LIMITED", Message: "Too many requests", Status: http.StatusTooManyRequests}
	ErrValidation        = &AppError{Code: "VALIDATION_FAILED", Message: "Validation failed", Status: http.StatusBadRequest}
	ErrDependencyFailure = &AppError{Code: "DEPENDENCY_FAILURE", Message: "Upstream dependency failed", Status: http.StatusInternalServerError}
)

// New creates a new AppError
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// Unauthenticated builds a 401 error with a caller-facing message.
func Unauthenticated(message string) *AppError {
	return &AppError{Code: ErrUnauthenticated.Code, Message: message, Status: http.StatusUnauthorized}
}

// Unauthorized builds a 403 error naming the required role.
func Unauthorized(requiredRole string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized.Code,
		Message: "Insufficient role",
		Details: fmt.Sprintf("required role: %s", requiredRole),
		Status:  http.StatusForbidden,
	}
}

// NotFound builds a 404 error for a named resource.
func NotFound(resource string) *AppError {
	return &AppError{Code: ErrNotFound.Code, Message: resource + " not found", Status: http.StatusNotFound}
}

// Conflict builds a 409 error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrConflict.Code, Message: message, Status: http.StatusConflict}
}

// RateLimited builds a 429 error.
func RateLimited(message string) *AppError {
	return &AppError{Code: ErrRateLimited.Code, Message: message, Status: http.StatusTooManyRequests}
}

// Validation builds a 400 error naming the offending field.
func Validation(field, message string) *AppError {
	return &AppError{Code: ErrValidation.Code, Message: message, Details: "field: " + field, Status: http.StatusBadRequest}
}

// Dependency wraps a store or identity-provider failure. The wrapped error is
// kept for logging but never rendered to the caller.
func Dependency(err error, message string) *AppError {
	return &AppError{Code: ErrDependencyFailure.Code, Message: message, Status: http.StatusInternalServerError, Err: err}
}
