package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeMediaAcquisition ErrorCode = "MEDIA_ACQUISITION"
	ErrCodePeerUnreachable  ErrorCode = "PEER_UNREACHABLE"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit        ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
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
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewInvalidStateError(message string) *AppError {
	return NewAppError(ErrCodeInvalidState, message, http.StatusConflict)
}

func NewMediaAcquisitionError(message string, err error) *AppError {
	return WrapError(err, ErrCodeMediaAcquisition, message, http.StatusInternalServerError)
}

func NewPeerUnreachableError(message string) *AppError {
	return NewAppError(ErrCodePeerUnreachable, message, http.StatusGone)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(err error) *AppError {
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// GetAppError extracts an AppError from an error chain, or returns nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
