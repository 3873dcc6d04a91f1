// Package plexerrors provides structured error handling for plexload with
// error kinds, key-value context and stack traces. Every fatal condition the
// converter can report is one of the ErrorType constants below, so callers
// (the CLI in particular) can map a failure to a stable kind and exit code.
//
// # Overview
//
// The package extends Go's standard error handling with:
//   - Error kinds through ErrorType
//   - Structured context with key-value details (entry, offset, batch index)
//   - Automatic stack trace capture
//   - Error wrapping with cause preservation
//
// # Basic Usage
//
//	err := plexerrors.New(plexerrors.ErrorTypePayloadTruncated, "series payload ends early").
//	    WithDetail("entry", "t_data_0.BIN").
//	    WithDetail("offset", int64(4096))
//
//	if plexerrors.IsType(err, plexerrors.ErrorTypePayloadTruncated) {
//	    // ...
//	}
//
// # Retryability
//
// Only ErrorTypeIoTimeout is retryable. Structural errors (malformed
// metadata, unresolved keys, truncated payloads) abort the run.
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Attach details
// before sharing an error across goroutines.
package plexerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType is the kind of a failure.
type ErrorType string

const (
	// ErrorTypeArchiveCorrupt means the container index or an entry stream is invalid
	ErrorTypeArchiveCorrupt ErrorType = "archive_corrupt"
	// ErrorTypeEntryNotFound means an expected archive entry is missing
	ErrorTypeEntryNotFound ErrorType = "entry_not_found"
	// ErrorTypeUnsupportedCompression means an entry uses an unknown codec
	ErrorTypeUnsupportedCompression ErrorType = "unsupported_compression"

	// ErrorTypeMetadataMalformed means the metadata document failed validation
	ErrorTypeMetadataMalformed ErrorType = "metadata_malformed"
	// ErrorTypeMetadataVersionUnsupported means the document declares an unknown version
	ErrorTypeMetadataVersionUnsupported ErrorType = "metadata_version_unsupported"

	// ErrorTypeDirectoryCorrupt means the series directory is inconsistent
	ErrorTypeDirectoryCorrupt ErrorType = "directory_corrupt"
	// ErrorTypeUnresolvedSeriesKey means a directory entry references unknown metadata
	ErrorTypeUnresolvedSeriesKey ErrorType = "unresolved_series_key"
	// ErrorTypePayloadTruncated means a series declares more bytes than available
	ErrorTypePayloadTruncated ErrorType = "payload_truncated"

	// ErrorTypeSchemaCreateFailed means the target rejected a table definition
	ErrorTypeSchemaCreateFailed ErrorType = "schema_create_failed"
	// ErrorTypeBatchWriteFailed means a batch could not be committed
	ErrorTypeBatchWriteFailed ErrorType = "batch_write_failed"
	// ErrorTypeTargetAlreadyExists means the output exists and overwrite was not requested
	ErrorTypeTargetAlreadyExists ErrorType = "target_already_exists"

	// ErrorTypeIoTimeout means a read or write exceeded its deadline
	ErrorTypeIoTimeout ErrorType = "io_timeout"
	// ErrorTypeCancelled means the run was cancelled externally
	ErrorTypeCancelled ErrorType = "cancelled"

	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error with a kind, context details and the stack at
// creation time.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value and whether it was set.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a kind and message. If err is already a
// structured Error its stack trace is preserved. Returns nil for a nil err.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether the outermost structured error is retryable.
// Only timeouts are retried; everything else aborts the run.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == ErrorTypeIoTimeout
}

// IsType checks if the outermost structured error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType reports whether any structured error in the chain has the type.
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the kind of the outermost structured error, or
// ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// captureStack records at most 32 frames, starting skip frames above its
// caller.
func captureStack(skip int) []StackFrame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		out = append(out, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			return out
		}
	}
}
