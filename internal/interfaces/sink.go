package interfaces

// Sink receives packaged events from the dispatcher.
type Sink interface {
	// Emit delivers one event. It is called from the dispatcher goroutine, one
	// event at a time, in production order. Emit should not block for long; a
	// failed emission is counted and the event is not retried.
	//
	// Implementations must not retain ev or its slices after returning.
	Emit(ev *Event) error
}

// FlushingSink is an optional interface for sinks that batch output.
type FlushingSink interface {
	Sink

	// Flush is called once at the end of every run.
	Flush() error
}
