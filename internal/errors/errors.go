// Package errors provides structured error handling for vecsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Caller input errors (bad paths, duplicate watches)
//   - 2XX: Per-file errors (extraction, decoding)
//   - 3XX: Backend errors (index store, embedding provider)
//   - 5XX: Internal errors
package errors

import (
	"fmt"
)

// Error codes organized by category.
const (
	// Caller input errors (100-199). Surfaced immediately, never retried.
	ErrCodePathNotFound   = "ERR_101_PATH_NOT_FOUND"
	ErrCodeAlreadyWatched = "ERR_102_ALREADY_WATCHED"
	ErrCodeNotWatched     = "ERR_103_NOT_WATCHED"
	ErrCodeInvalidInput   = "ERR_104_INVALID_INPUT"

	// Per-file errors (200-299). Caught, file marked skipped, folder continues.
	ErrCodeExtraction   = "ERR_201_EXTRACTION_FAILED"
	ErrCodeFileTooLarge = "ERR_202_FILE_TOO_LARGE"

	// Backend errors (300-399). Transient, retried with backoff.
	ErrCodeIndexStore        = "ERR_301_INDEX_STORE"
	ErrCodeEmbeddingProvider = "ERR_302_EMBEDDING_PROVIDER"
	ErrCodeRerankProvider    = "ERR_303_RERANK_PROVIDER"

	// Internal errors (500-599).
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// Error is the structured error type for vecsync.
type Error struct {
	// Code is the unique error code (e.g., "ERR_101_PATH_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// The retryable flag is derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message. Returns nil for nil input.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// PathNotFound creates an error for a path that does not exist or is not a directory.
func PathNotFound(path string) *Error {
	return Newf(ErrCodePathNotFound, "path not found or not a directory: %s", path).WithDetail("path", path)
}

// AlreadyWatched creates an error for a path that is already registered.
func AlreadyWatched(path string) *Error {
	return Newf(ErrCodeAlreadyWatched, "path already watched: %s", path).WithDetail("path", path)
}

// NotWatched creates an error for a path that is not registered.
func NotWatched(path string) *Error {
	return Newf(ErrCodeNotWatched, "path not watched: %s", path).WithDetail("path", path)
}

// ExtractionError creates a per-file extraction error.
func ExtractionError(path string, cause error) *Error {
	return New(ErrCodeExtraction, fmt.Sprintf("extract %s: %v", path, cause), cause).WithDetail("path", path)
}

// IndexStoreError creates a transient index store error.
func IndexStoreError(message string, cause error) *Error {
	return New(ErrCodeIndexStore, message, cause)
}

// EmbeddingError creates a transient embedding provider error.
func EmbeddingError(message string, cause error) *Error {
	return New(ErrCodeEmbeddingProvider, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an Error with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetCode extracts the error code from an Error.
// Returns empty string if not an Error.
func GetCode(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// isRetryableCode returns true for codes that represent transient failures.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexStore, ErrCodeEmbeddingProvider, ErrCodeRerankProvider:
		return true
	default:
		return false
	}
}
