package plexerrors

import (
	"errors"
	"fmt"
	"strings"
)

// maxViolationsInMessage bounds how many violations are inlined into the
// error string; the full list stays available through Violations.
const maxViolationsInMessage = 10

// Malformed builds a MetadataMalformed error carrying every violation found
// during metadata resolution.
func Malformed(violations []string) *Error {
	shown := violations
	if len(shown) > maxViolationsInMessage {
		shown = shown[:maxViolationsInMessage]
	}
	msg := fmt.Sprintf("%d metadata violation(s): %s", len(violations), strings.Join(shown, "; "))
	if len(violations) > len(shown) {
		msg += fmt.Sprintf("; ... %d more", len(violations)-len(shown))
	}

	e := &Error{
		Type:    ErrorTypeMetadataMalformed,
		Message: msg,
		Stack:   captureStack(2),
	}
	list := make([]string, len(violations))
	copy(list, violations)
	return e.WithDetail("violations", list)
}

// Violations returns the violation list of a MetadataMalformed error.
func Violations(err error) []string {
	var e *Error
	if !errors.As(err, &e) || e.Type != ErrorTypeMetadataMalformed {
		return nil
	}
	v, _ := e.Details["violations"].([]string)
	return v
}

// BatchWriteFailed wraps a commit failure with the index of the batch that
// failed. Batch indexes start at 1.
func BatchWriteFailed(err error, batchIndex int) *Error {
	e := Wrap(err, ErrorTypeBatchWriteFailed, fmt.Sprintf("batch %d could not be committed", batchIndex))
	if e == nil {
		e = New(ErrorTypeBatchWriteFailed, fmt.Sprintf("batch %d could not be committed", batchIndex))
	}
	return e.WithDetail("batch_index", batchIndex)
}

// BatchIndex returns the batch index carried by a BatchWriteFailed error.
func BatchIndex(err error) (int, bool) {
	var e *Error
	for err != nil && errors.As(err, &e) {
		if e.Type == ErrorTypeBatchWriteFailed {
			idx, ok := e.Details["batch_index"].(int)
			return idx, ok
		}
		err = e.Cause
	}
	return 0, false
}
