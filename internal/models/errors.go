package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrMalformedLocator ErrorType = iota
	ErrChecksumMismatch
	ErrUnsupportedChecksumAlgorithm
	ErrUnresolvedPackageURL
	ErrVCS
	ErrUnhandledScheme
	ErrMissingTool
	ErrSignature
	ErrFileOp
	ErrNetwork
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrMalformedLocator:
		return "MalformedLocator"
	case ErrChecksumMismatch:
		return "ChecksumMismatch"
	case ErrUnsupportedChecksumAlgorithm:
		return "UnsupportedChecksumAlgorithm"
	case ErrUnresolvedPackageURL:
		return "UnresolvedPackageURL"
	case ErrVCS:
		return "VCS"
	case ErrUnhandledScheme:
		return "UnhandledScheme"
	case ErrMissingTool:
		return "MissingTool"
	case ErrSignature:
		return "Signature"
	case ErrFileOp:
		return "FileOp"
	case ErrNetwork:
		return "Network"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// Recoverable reports whether an error of this type only aborts the branch
// of the walk that produced it.
func (e ErrorType) Recoverable() bool {
	switch e {
	case ErrMalformedLocator, ErrUnresolvedPackageURL, ErrUnhandledScheme:
		return true
	default:
		return false
	}
}

// FetchError represents an error while resolving or fetching a reference
type FetchError struct {
	Type    ErrorType
	Locator string
	Err     error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Locator, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewError wraps err in a FetchError of the given type.
func NewError(t ErrorType, locator string, err error) *FetchError {
	return &FetchError{Type: t, Locator: locator, Err: err}
}

// Errorf builds a FetchError from a format string.
func Errorf(t ErrorType, locator, format string, args ...interface{}) *FetchError {
	return &FetchError{Type: t, Locator: locator, Err: fmt.Errorf(format, args...)}
}

// TypeOf returns the category of err, if it carries one.
func TypeOf(err error) (ErrorType, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Type, true
	}
	return 0, false
}

// IsType reports whether err is a FetchError of type t.
func IsType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}

// IsRecoverable reports whether err may be logged and skipped. Untyped
// errors are treated as fatal.
func IsRecoverable(err error) bool {
	t, ok := TypeOf(err)
	return ok && t.Recoverable()
}
