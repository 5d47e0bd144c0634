package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the image and session pipeline.
type ErrorKind string

const (
	KindTooLarge            ErrorKind = "too_large"
	KindUnsupportedFormat   ErrorKind = "unsupported_format"
	KindSecurityRejected    ErrorKind = "security_rejected"
	KindDimensionOutOfRange ErrorKind = "dimension_out_of_range"
	KindBatchTooLarge       ErrorKind = "batch_too_large"
	KindTimeout             ErrorKind = "timeout"
	KindProcessFailure      ErrorKind = "process_failure"
	KindGenericFailure      ErrorKind = "generic_failure"
	KindNoActiveSession     ErrorKind = "no_active_session"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrTooLarge            = &Error{Kind: KindTooLarge}
	ErrUnsupportedFormat   = &Error{Kind: KindUnsupportedFormat}
	ErrSecurityRejected    = &Error{Kind: KindSecurityRejected}
	ErrDimensionOutOfRange = &Error{Kind: KindDimensionOutOfRange}
	ErrBatchTooLarge       = &Error{Kind: KindBatchTooLarge}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrProcessFailure      = &Error{Kind: KindProcessFailure}
	ErrGenericFailure      = &Error{Kind: KindGenericFailure}
	ErrNoActiveSession     = &Error{Kind: KindNoActiveSession}
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds a classified error for the given operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindGenericFailure when err is unclassified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGenericFailure
}

// IsRecoverable reports whether the session stays in Collecting after err.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindTooLarge, KindUnsupportedFormat, KindSecurityRejected, KindDimensionOutOfRange, KindBatchTooLarge:
		return true
	}
	return false
}
