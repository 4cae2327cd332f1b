package errors

import (
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeResolution represents link resolution errors (no transfer ever started)
	ErrTypeResolution ErrorType = "resolution"
	// ErrTypeTransfer represents network/IO failures mid-download
	ErrTypeTransfer ErrorType = "transfer"
	// ErrTypeValidation represents artifact validation errors (file too small)
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeStorage represents disk write/rename failures
	ErrTypeStorage ErrorType = "storage"
	// ErrTypeNotFound represents operations referencing an unknown record
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewResolutionError creates a new link resolution error
func NewResolutionError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeResolution,
		Message:   message,
		Retryable: true, // resolved URLs expire, a fresh resolve may succeed
		Cause:     cause,
	}
}

// NewTransferError creates a new transfer error
func NewTransferError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTransfer,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewValidationError creates a new artifact validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: true, // a re-download may produce a complete artifact
		Cause:     nil,
	}
}

// NewStorageError creates a new storage error
func NewStorageError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeStorage,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeNotFound,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsResolutionError checks if an error came from link resolution
func IsResolutionError(err error) bool {
	return GetErrorType(err) == ErrTypeResolution
}

// IsValidationError checks if an error came from artifact validation
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrTypeValidation
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrTypeNotFound
}
