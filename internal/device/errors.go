package device

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures reported by backends, allocators and matrices.
type ErrorType int

// Error categories.
const (
	// ErrTypeAllocation covers host and device allocation failures.
	ErrTypeAllocation ErrorType = iota + 1
	// ErrTypeTransfer covers host<->device copies.
	ErrTypeTransfer
	// ErrTypeShape covers dimension contract violations.
	ErrTypeShape
	// ErrTypeBackend covers BLAS status failures and asynchronous kernel errors.
	ErrTypeBackend
	// ErrTypeInvalidArgument covers malformed calls (bad indices, leading dimensions).
	ErrTypeInvalidArgument
	// ErrTypeUnavailable is returned when a backend is not compiled in or has no device.
	ErrTypeUnavailable
	// ErrTypeNotAllocated is returned when a buffer is accessed before allocation.
	ErrTypeNotAllocated
)

// String returns the error type name.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeAllocation:
		return "Allocation"
	case ErrTypeTransfer:
		return "Transfer"
	case ErrTypeShape:
		return "Shape"
	case ErrTypeBackend:
		return "Backend"
	case ErrTypeInvalidArgument:
		return "InvalidArgument"
	case ErrTypeUnavailable:
		return "Unavailable"
	case ErrTypeNotAllocated:
		return "NotAllocated"
	default:
		return "Unknown"
	}
}

// Error is a structured failure with the operation that produced it.
type Error struct {
	Type    ErrorType
	Op      string // Operation that failed, e.g. "matrix.CopyToDevice"
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var msg string
	switch {
	case e.Message != "" && e.Err != nil:
		msg = fmt.Sprintf("%s (caused by: %v)", e.Message, e.Err)
	case e.Message != "":
		msg = e.Message
	case e.Err != nil:
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("cumat %s error: %s", e.Type, msg)
	}
	return fmt.Sprintf("cumat %s error in %s: %s", e.Type, e.Op, msg)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the category sentinels below: any *Error with the same Type
// matches a sentinel, which carries no Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Type == e.Type
}

// Category sentinels for errors.Is.
var (
	ErrAllocation      = &Error{Type: ErrTypeAllocation, Message: "allocation failed"}
	ErrTransfer        = &Error{Type: ErrTypeTransfer, Message: "transfer failed"}
	ErrShape           = &Error{Type: ErrTypeShape, Message: "shape mismatch"}
	ErrBackend         = &Error{Type: ErrTypeBackend, Message: "backend call failed"}
	ErrInvalidArgument = &Error{Type: ErrTypeInvalidArgument, Message: "invalid argument"}
	ErrUnavailable     = &Error{Type: ErrTypeUnavailable, Message: "backend unavailable"}
	ErrNotAllocated    = &Error{Type: ErrTypeNotAllocated, Message: "buffer not allocated"}
)

// ErrDoubleFree is wrapped by backends when a pointer is released twice.
var ErrDoubleFree = errors.New("double free detected")

// NewError builds a structured error.
func NewError(t ErrorType, op, message string, err error) error {
	return &Error{Type: t, Op: op, Message: message, Err: err}
}

// Wrap attaches an operation and category to err. It returns nil for a nil err
// and keeps an existing *Error category when err already carries one.
func Wrap(t ErrorType, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		t = de.Type
	}
	return &Error{Type: t, Op: op, Err: err}
}

// TypeOf returns the category of err, or 0 when err is not a *Error.
func TypeOf(err error) ErrorType {
	var de *Error
	if errors.As(err, &de) {
		return de.Type
	}
	return 0
}
