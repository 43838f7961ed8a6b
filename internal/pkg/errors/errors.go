// Package errors provides custom error types and error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes.
const (
	// Fatal configuration and input errors. These abort the whole run.
	CodeInput  = "INPUT_ERROR"
	CodeConfig = "CONFIG_ERROR"

	// Evaluation errors.
	CodeDimensionMismatch = "DIMENSION_MISMATCH"
	CodeProvider          = "PROVIDER_ERROR"

	// Infrastructure errors.
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status for this error.
func (e *AppError) ExitCode() int {
	switch e.Code {
	case CodeInput:
		return 65 // EX_DATAERR
	case CodeConfig:
		return 78 // EX_CONFIG
	case CodeUnavailable:
		return 69 // EX_UNAVAILABLE
	default:
		return 1
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// InputError creates a dataset input error.
func InputError(message string) *AppError {
	return New(CodeInput, message)
}

// ConfigError creates a configuration error.
func ConfigError(message string) *AppError {
	return New(CodeConfig, message)
}

// DimensionMismatch creates an embedding-dimensionality error.
func DimensionMismatch(want, got int) *AppError {
	return New(CodeDimensionMismatch, fmt.Sprintf("embedding dimension mismatch: want %d, got %d", want, got))
}

// ProviderError creates an embedding-provider error.
func ProviderError(message string, err error) *AppError {
	return Wrap(CodeProvider, message, err)
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// CodeOf returns the error code of err, or CodeInternal for foreign errors.
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsInput checks if error is a dataset input error.
func IsInput(err error) bool {
	return CodeOf(err) == CodeInput
}

// IsConfig checks if error is a configuration error.
func IsConfig(err error) bool {
	return CodeOf(err) == CodeConfig
}

// IsDimensionMismatch checks if error is a dimensionality error.
func IsDimensionMismatch(err error) bool {
	return CodeOf(err) == CodeDimensionMismatch
}

// IsProvider checks if error is an embedding-provider error.
func IsProvider(err error) bool {
	return CodeOf(err) == CodeProvider
}

// IsFatal reports whether err must abort the whole run rather than a
// single model evaluation.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeInput, CodeConfig:
		return true
	default:
		return false
	}
}

// ExitCode returns the process exit status for err, 1 for foreign errors.
func ExitCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.ExitCode()
	}
	return 1
}
