package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can distinguish
// degraded-but-valid outcomes from fatal ones without string matching.
type ErrorKind string

const (
	KindInsufficientData  ErrorKind = "insufficient_data"
	KindUnreliable        ErrorKind = "unreliable"
	KindLookahead         ErrorKind = "lookahead"
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindVersionConflict   ErrorKind = "version_conflict"
	KindValidationFailure ErrorKind = "validation_failure"
	KindUnknownInterval   ErrorKind = "unknown_interval"
	KindNotFound          ErrorKind = "not_found"
	KindFatal             ErrorKind = "fatal"
)

// Error carries a kind plus optional wrapped cause and key/value context.
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so errors.Is(err, &Error{Kind: k})
// works alongside errors.As.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError constructs a typed error with formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause under a kind.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithContext attaches a key/value pair and returns the same error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the kind from any error in the chain; unknown errors are
// classified as fatal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether a replay sample failure should be recorded
// and skipped rather than counted toward the fatal-abort threshold.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindInsufficientData, KindUnreliable, KindRateLimited, KindTimeout:
		return true
	}
	return false
}
