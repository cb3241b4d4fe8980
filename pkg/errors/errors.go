// Package errors defines common error types for dexhelper.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown         = "UNKNOWN_ERROR"
	CodeMalformedImage  = "MALFORMED_IMAGE"
	CodeIndexExhausted  = "INDEX_EXHAUSTED"
	CodeHandleNotFound  = "HANDLE_NOT_FOUND"
	CodeClosed          = "CLOSED"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeConfigError     = "CONFIG_ERROR"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeUploadError     = "UPLOAD_ERROR"
	CodeDownloadError   = "DOWNLOAD_ERROR"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	// ErrMalformedImage: a dex container violates header or table invariants.
	ErrMalformedImage = New(CodeMalformedImage, "malformed dex image")
	// ErrIndexExhausted: code or table offsets run outside the container while indexing.
	ErrIndexExhausted = New(CodeIndexExhausted, "index exhausted")
	// ErrHandleNotFound: a handle or descriptor no longer resolves in the loaded image set.
	ErrHandleNotFound = New(CodeHandleNotFound, "handle not found")
	// ErrClosed: the helper was released.
	ErrClosed = New(CodeClosed, "helper closed")

	ErrInvalidInput    = New(CodeInvalidInput, "invalid input")
	ErrNotFound        = New(CodeNotFound, "resource not found")
	ErrConfigError     = New(CodeConfigError, "configuration error")
	ErrDatabaseError   = New(CodeDatabaseError, "database error")
	ErrUploadError     = New(CodeUploadError, "upload error")
	ErrDownloadError   = New(CodeDownloadError, "download error")
	ErrUnsupportedType = New(CodeUnsupportedType, "unsupported type")
)

// MalformedImage builds an ErrMalformedImage for the named container.
func MalformedImage(name string, format string, args ...interface{}) *AppError {
	return Wrap(CodeMalformedImage, fmt.Sprintf("malformed dex image %s", name), fmt.Errorf(format, args...))
}

// IndexExhausted builds an ErrIndexExhausted for the named container.
func IndexExhausted(name string, format string, args ...interface{}) *AppError {
	return Wrap(CodeIndexExhausted, fmt.Sprintf("index exhausted in %s", name), fmt.Errorf(format, args...))
}

// IsMalformedImage checks if the error is a malformed image error.
func IsMalformedImage(err error) bool {
	return errors.Is(err, ErrMalformedImage)
}

// IsIndexExhausted checks if the error is an index exhausted error.
func IsIndexExhausted(err error) bool {
	return errors.Is(err, ErrIndexExhausted)
}

// IsHandleNotFound checks if the error is a handle not found error.
func IsHandleNotFound(err error) bool {
	return errors.Is(err, ErrHandleNotFound)
}

// IsClosed checks if the error reports a released helper.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
