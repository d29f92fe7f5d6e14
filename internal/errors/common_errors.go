package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfig     ErrorType = "CONFIG"
	ErrTypeAuth       ErrorType = "AUTH"
	ErrTypeRateLimit  ErrorType = "RATE_LIMIT"
	ErrTypeNetwork    ErrorType = "NETWORK"
	ErrTypeVendor     ErrorType = "VENDOR"
	ErrTypeProcessing ErrorType = "PROCESSING"
	ErrTypeStorage    ErrorType = "STORAGE"
)

// Sentinels for errors.Is matching on the error type alone
var (
	ErrConfig     = &AppError{Type: ErrTypeConfig}
	ErrAuth       = &AppError{Type: ErrTypeAuth}
	ErrRateLimit  = &AppError{Type: ErrTypeRateLimit}
	ErrNetwork    = &AppError{Type: ErrTypeNetwork}
	ErrVendor     = &AppError{Type: ErrTypeVendor}
	ErrProcessing = &AppError{Type: ErrTypeProcessing}
	ErrStorage    = &AppError{Type: ErrTypeStorage}
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type. A target with
// a message must match it too.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Message == "" || t.Message == e.Message
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
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewAuthError creates an authentication error
func NewAuthError(message string, cause error) *AppError {
	return NewAppError(ErrTypeAuth, message, cause)
}

// NewRateLimitError creates a vendor rate-limit error
func NewRateLimitError(message string, cause error) *AppError {
	return NewAppError(ErrTypeRateLimit, message, cause)
}

// NewNetworkError creates a network-related error
func NewNetworkError(message string, cause error) *AppError {
	return NewAppError(ErrTypeNetwork, message, cause)
}

// NewVendorError creates an error for an unexpected vendor response
func NewVendorError(message string, cause error) *AppError {
	return NewAppError(ErrTypeVendor, message, cause)
}

// NewProcessingError creates a processing error
func NewProcessingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeProcessing, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// TypeOf returns the type of the first AppError in err's chain, or "" if none
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}
