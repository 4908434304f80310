// Package faults defines the error taxonomy shared by the timeline, the
// render graph compiler and the execution adapter.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrCompilation = errors.New("compilation error")
	ErrExecution   = errors.New("execution error")
)

// Error carries the failing operation and a human-readable message, tagged
// with one of the sentinel kinds above.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, op)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return e.kind().Error()
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind so errors.Is(err, ErrValidation) holds for
// any wrapped *Error of that kind.
func (e *Error) Is(target error) bool {
	return target == e.kind()
}

func (e *Error) kind() error {
	if e.Kind == nil {
		return ErrCompilation
	}
	return e.Kind
}

// Validation builds a validation error for op.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Compilation builds a compilation error for op.
func Compilation(op, format string, args ...any) error {
	return &Error{Kind: ErrCompilation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Execution builds an execution error for op.
func Execution(op, format string, args ...any) error {
	return &Error{Kind: ErrExecution, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == kind && fe.Op == op {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the taxonomy kind of err, or nil when err carries none.
func KindOf(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrCompilation):
		return ErrCompilation
	case errors.Is(err, ErrExecution):
		return ErrExecution
	default:
		return nil
	}
}
