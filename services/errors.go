package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Compare with errors.Is; the sentinels themselves
// are never returned, callers get fresh copies through the constructors below.

var (
	// Not Found Errors
	ErrUserNotFound = NewDomainError(ErrorTypeNotFound, "user not found", nil)

	// Validation Errors
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)
	ErrProviderAuth = NewDomainError(ErrorTypeUnauthorized, "fenix authentication failed", nil)
	ErrInvalidState = NewDomainError(ErrorTypeUnauthorized, "invalid oauth state", nil)

	// Permission Errors
	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)
	ErrUserNotEnrolled         = NewDomainError(ErrorTypeForbidden, "user not enrolled in any known course", nil)

	// Conflict Errors
	ErrPersistenceConflict = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Configuration Errors
	ErrProviderConfiguration = NewDomainError(ErrorTypeConfiguration, "fenix client is not configured", nil)
	ErrSigningKeyUnavailable = NewDomainError(ErrorTypeConfiguration, "token signing key unavailable", nil)

	// Internal Errors
	ErrInternal           = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrPersistenceFailure = NewDomainError(ErrorTypeInternal, "persistence failure", nil)
)

// NewProviderAuthError collapses every code exchange or fetch failure into one error kind
func NewProviderAuthError(err error) *DomainError {
	return NewDomainError(ErrorTypeUnauthorized, ErrProviderAuth.Message, err)
}

// NewProviderConfigurationError reports a Fenix client that could not be built
func NewProviderConfigurationError(err error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, ErrProviderConfiguration.Message, err)
}

// NewUserNotEnrolledError rejects a login that matches no known course and no administrator
func NewUserNotEnrolledError(username string) *DomainError {
	return NewDomainError(ErrorTypeForbidden, ErrUserNotEnrolled.Message, nil).
		WithDetail("username", username)
}

// NewPersistenceFailureError reports a reconciliation that could not be committed
func NewPersistenceFailureError(attempts int, err error) *DomainError {
	return NewDomainError(ErrorTypeInternal, ErrPersistenceFailure.Message, err).
		WithDetail("attempts", attempts)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfiguration
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
