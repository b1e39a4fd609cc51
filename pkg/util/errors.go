// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying every failure that crosses a public
// operation boundary. Typed errors below wrap one of these so callers
// can branch with errors.Is and map to a stable API code.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrPolicyViolation = errors.New("policy violation")
	ErrTransient       = errors.New("transient infrastructure error")
	ErrInvariant       = errors.New("invariant violation")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// CodedError carries a stable machine-readable code alongside a
// human-readable message. The code is what the API and CLIs surface.
type CodedError struct {
	Code    string
	Message string
	Kind    error // one of the sentinels above
}

func (e *CodedError) Error() string {
	return e.Message
}

func (e *CodedError) Unwrap() error {
	return e.Kind
}

// NewCodedError creates a coded error of the given kind.
func NewCodedError(kind error, code, format string, args ...interface{}) *CodedError {
	return &CodedError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
	}
}

// Code extracts the stable code from err, or "internal" if it has none.
func Code(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "internal"
}

// Stable input-error constructors used across subsystems.

// InvalidInputf reports a caller mistake (bad cron, malformed id, ...).
func InvalidInputf(code, format string, args ...interface{}) error {
	return NewCodedError(ErrInvalidInput, code, format, args...)
}

// NotFoundf reports a missing resource.
func NotFoundf(code, format string, args ...interface{}) error {
	return NewCodedError(ErrNotFound, code, format, args...)
}

// Conflictf reports a uniqueness or in-use conflict.
func Conflictf(code, format string, args ...interface{}) error {
	return NewCodedError(ErrAlreadyExists, code, format, args...)
}

// Policyf reports a policy violation (lockout, unsatisfied dependency, ...).
func Policyf(code, format string, args ...interface{}) error {
	return NewCodedError(ErrPolicyViolation, code, format, args...)
}

// Transientf reports a retryable infrastructure failure.
func Transientf(code, format string, args ...interface{}) error {
	return NewCodedError(ErrTransient, code, format, args...)
}

// Invariantf reports a bug-class failure: an illegal state transition or
// broken invariant. The operation is rejected; the subsystem continues.
func Invariantf(code, format string, args ...interface{}) error {
	return NewCodedError(ErrInvariant, code, format, args...)
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
