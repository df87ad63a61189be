// Package engineerr implements the error taxonomy from spec.md §7 ERROR
// HANDLING DESIGN: Validation, Handler, Timeout, TransientWrite,
// ChannelClosed, and Panic classes, plus the status-updater write-error
// categories used for observability (spec.md §4.2 "Detail floor"), which
// CategorizeWriteError assigns.
package engineerr

import (
	"errors"
	"fmt"

	"flowengine/internal/flow"
)

// Category is the status-updater's observability bucket for a write
// failure (spec.md §4.2): connection_pool, network, serialization,
// constraint, timeout, unknown.
type Category string

const (
	CategoryConnectionPool Category = "connection_pool"
	CategoryNetwork        Category = "network"
	CategorySerialization  Category = "serialization"
	CategoryConstraint     Category = "constraint"
	CategoryTimeout        Category = "timeout"
	CategoryUnknown        Category = "unknown"
)

// Class is the high-level taxonomy from spec.md §7.
type Class string

const (
	ClassValidation      Class = "validation"
	ClassHandler         Class = "handler"
	ClassTimeout         Class = "timeout"
	ClassTransientWrite  Class = "transient_write"
	ClassChannelClosed   Class = "channel_closed"
	ClassPanic           Class = "panic"
)

// Error wraps an underlying cause with the taxonomy class and a task error
// code. It carries no write-error category; see CategorizeWriteError.
type Error struct {
	Class     Class
	ErrorCode string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Class, e.ErrorCode)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.ErrorCode, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation wraps a fatal-at-load error (unknown plugin, invalid cron,
// malformed edges).
func Validation(code string, cause error) *Error {
	return &Error{Class: ClassValidation, ErrorCode: code, Cause: cause}
}

// Handler wraps a captured handler failure (HTTP non-2xx, script throw,
// formatter invalid input). These are never retried (spec.md §4.3).
func Handler(code string, cause error) *Error {
	return &Error{Class: ClassHandler, ErrorCode: code, Cause: cause}
}

// Timeout wraps a synthesized timeout error — a categorized subtype of
// Handler per spec.md §7.
func Timeout(code string, cause error) *Error {
	return &Error{Class: ClassTimeout, ErrorCode: code, Cause: cause}
}

// Panic wraps a recovered panic from inside a handler (spec.md §7 "Panic
// inside a handler").
func Panic(recovered any) *Error {
	return &Error{Class: ClassPanic, ErrorCode: "panic", Cause: fmt.Errorf("%v", recovered)}
}

// TaskError converts an Error into the durable flow.TaskError shape
// recorded on a failed task (SPEC_FULL.md supplemented feature 3).
func (e *Error) TaskError() flow.TaskError {
	msg := e.Error()
	if e.Cause != nil {
		msg = e.Cause.Error()
	}
	return flow.TaskError{ErrorCode: e.ErrorCode, Message: msg}
}

// CategorizeWriteError classifies a durable-write failure into one of the
// status-updater's observability categories (spec.md §4.2).
func CategorizeWriteError(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	switch {
	case errors.Is(err, errConnectionPool):
		return CategoryConnectionPool
	case errors.Is(err, errSerialization):
		return CategorySerialization
	case errors.Is(err, errConstraint):
		return CategoryConstraint
	case errors.Is(err, errNetwork):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// Sentinel causes a store adapter can wrap its errors with to get precise
// categorization out of CategorizeWriteError; adapters that cannot
// distinguish causes simply return CategoryUnknown, which is still a valid
// observability bucket.
var (
	errConnectionPool = errors.New("connection pool exhausted")
	errSerialization   = errors.New("serialization failure")
	errConstraint      = errors.New("constraint violation")
	errNetwork         = errors.New("network error")
)

// WrapConnectionPool, WrapSerialization, WrapConstraint, and WrapNetwork let
// store adapters tag an error with the category CategorizeWriteError should
// report for it.
func WrapConnectionPool(err error) error { return fmt.Errorf("%w: %v", errConnectionPool, err) }
func WrapSerialization(err error) error  { return fmt.Errorf("%w: %v", errSerialization, err) }
func WrapConstraint(err error) error     { return fmt.Errorf("%w: %v", errConstraint, err) }
func WrapNetwork(err error) error        { return fmt.Errorf("%w: %v", errNetwork, err) }
