package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for callers at the control-plane boundary.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"
	KindUpstream   ErrorKind = "UPSTREAM_FAILURE"
	KindConflict   ErrorKind = "CONFLICT"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindInternal   ErrorKind = "INTERNAL"
)

// AppError wraps an operation, error kind, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an internal AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindInternal, Msg: msg, Err: err}
}

// NewKindError constructs an AppError of the given kind.
func NewKindError(kind ErrorKind, op, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// ValidationError reports malformed input rejected before processing.
func ValidationError(op, msg string) error {
	return &AppError{Op: op, Kind: KindValidation, Msg: msg}
}

// NotFoundError reports an unknown identifier.
func NotFoundError(op, msg string) error {
	return &AppError{Op: op, Kind: KindNotFound, Msg: msg}
}

// ConflictError reports a state transition that lost a race or was already applied.
func ConflictError(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindConflict, Msg: msg, Err: err}
}

// UpstreamError reports a failed external dependency.
func UpstreamError(op, msg string, err error) error {
	return &AppError{Op: op, Kind: KindUpstream, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost AppError in err's chain, or
// KindInternal for unclassified errors. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
