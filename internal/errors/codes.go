// Package errors defines the closed set of failure kinds raised by the tagging pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a failure kind.
type ErrorCode string

const (
	// ErrCodeLoadFailed indicates a source could not be read or is unsupported.
	ErrCodeLoadFailed ErrorCode = "LOAD_FAILED"
	// ErrCodeOracleFailed indicates the labeling or description service failed for a whole call.
	ErrCodeOracleFailed ErrorCode = "ORACLE_FAILED"
	// ErrCodePersistenceFailed indicates the cache document could not be written or read.
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	// ErrCodeConfigurationInvalid indicates missing or invalid settings.
	ErrCodeConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"
)

// TagError is the structured error returned across package boundaries.
type TagError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *TagError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *TagError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *TagError) WithContext(key string, value any) *TagError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether repeating the operation may succeed.
func (e *TagError) Retryable() bool {
	switch e.Code {
	case ErrCodeOracleFailed, ErrCodePersistenceFailed:
		return true
	default:
		return false
	}
}

// NewLoadError creates a load error for the given source reference.
func NewLoadError(ref string, cause error) *TagError {
	return (&TagError{Code: ErrCodeLoadFailed, Message: "failed to load content", Cause: cause}).
		WithContext("ref", ref)
}

// NewOracleError creates an oracle error.
func NewOracleError(msg string, cause error) *TagError {
	return &TagError{Code: ErrCodeOracleFailed, Message: msg, Cause: cause}
}

// NewPersistenceError creates a persistence error.
func NewPersistenceError(msg string, cause error) *TagError {
	return &TagError{Code: ErrCodePersistenceFailed, Message: msg, Cause: cause}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(msg string) *TagError {
	return &TagError{Code: ErrCodeConfigurationInvalid, Message: msg}
}

// IsCode checks if any error in the chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var tagErr *TagError
	if stderrors.As(err, &tagErr) {
		return tagErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a TagError of a retryable kind.
func IsRetryable(err error) bool {
	var tagErr *TagError
	if stderrors.As(err, &tagErr) {
		return tagErr.Retryable()
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a TagError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var tagErr *TagError
	if stderrors.As(err, &tagErr) {
		return tagErr.Code
	}
	return defaultCode
}
