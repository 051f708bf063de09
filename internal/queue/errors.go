package queue

import "errors"

var (
	// ErrNotProducing is returned for a trigger delivered outside a
	// producing state, or while ending with no residual hardware data
	ErrNotProducing = errors.New("trigger outside producing state")

	// ErrExhausted is returned when no free buffer was available for a trigger
	ErrExhausted = errors.New("no buffer available")

	// ErrHardwareRead wraps a failed hardware read
	ErrHardwareRead = errors.New("hardware read failed")
)
