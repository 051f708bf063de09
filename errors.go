package readout

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-readout/internal/ctrl"
	"github.com/ehrlich-b/go-readout/internal/queue"
)

// Error represents a structured readout error with run context
type Error struct {
	Op    string           // Operation that failed (e.g., "prestart", "trigger")
	Run   int              // Run number (0 if not applicable)
	State State            // Run-control state when the error occurred
	Code  ReadoutErrorCode // High-level error category
	Msg   string           // Human-readable message
	Inner error            // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Run != 0 {
		parts = append(parts, fmt.Sprintf("run=%d", e.Run))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("readout: %s (%s)", msg, joinParts(parts))
	}

	return fmt.Sprintf("readout: %s", msg)
}

func joinParts(parts []string) string {
	s := parts[0]
	for _, p := range parts[1:] {
		s += " " + p
	}
	return s
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for ReadoutError compatibility
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	// Support sentinel ReadoutError comparison
	if re, ok := target.(ReadoutError); ok {
		return e.Code == ReadoutErrorCode(re)
	}

	// Support structured Error comparison
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ReadoutErrorCode represents high-level error categories
type ReadoutErrorCode string

const (
	ErrCodeIllegalTransition ReadoutErrorCode = "illegal transition"
	ErrCodeNotRunning        ReadoutErrorCode = "not running"
	ErrCodeExhausted         ReadoutErrorCode = "no buffer available"
	ErrCodeHardwareRead      ReadoutErrorCode = "hardware read failed"
	ErrCodeHardware          ReadoutErrorCode = "hardware error"
	ErrCodeInvalidParameters ReadoutErrorCode = "invalid parameters"
	ErrCodeClosed            ReadoutErrorCode = "closed"
)

// ReadoutError is a comparable sentinel matched by *Error.Is
type ReadoutError string

func (e ReadoutError) Error() string {
	return string(e)
}

// Sentinel errors for errors.Is
const (
	ErrIllegalTransition ReadoutError = "illegal transition"
	ErrNotRunning        ReadoutError = "not running"
	ErrExhausted         ReadoutError = "no buffer available"
	ErrHardwareRead      ReadoutError = "hardware read failed"
	ErrHardware          ReadoutError = "hardware error"
	ErrInvalidParameters ReadoutError = "invalid parameters"
	ErrClosed            ReadoutError = "closed"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ReadoutErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewRunError creates a new run-specific error
func NewRunError(op string, run int, state State, code ReadoutErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Run:   run,
		State: state,
		Code:  code,
		Msg:   msg,
	}
}

// WrapError wraps an existing error with readout context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	var re *Error
	if errors.As(inner, &re) {
		return &Error{
			Op:    op,
			Run:   re.Run,
			State: re.State,
			Code:  re.Code,
			Msg:   re.Msg,
			Inner: re.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  mapErrorToCode(inner),
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrorToCode maps internal sentinel errors to readout error codes
func mapErrorToCode(err error) ReadoutErrorCode {
	switch {
	case errors.Is(err, ctrl.ErrIllegalTransition):
		return ErrCodeIllegalTransition
	case errors.Is(err, queue.ErrNotProducing):
		return ErrCodeNotRunning
	case errors.Is(err, queue.ErrExhausted):
		return ErrCodeExhausted
	case errors.Is(err, queue.ErrHardwareRead):
		return ErrCodeHardwareRead
	default:
		return ErrCodeHardware
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ReadoutErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
