package interfaces

// Event is the record handed to a Sink for one filled buffer
type Event struct {
	// Run is the run number set at Prestart
	Run int

	// RunID is a unique identifier generated at Prestart
	RunID string

	// Sequence is the trigger count assigned at acquisition
	Sequence uint32

	// Sync marks a synchronization boundary event
	Sync bool

	// Length is the number of valid payload bytes
	Length int

	// Payload is the raw data read from the hardware (Payload[:Length])
	Payload []byte

	// Packaged is Payload wrapped in the emission format
	Packaged []byte
}

// Packager wraps an event payload into the format expected by a sink.
type Packager interface {
	// Package appends the packaged form of ev to dst and returns the result.
	Package(dst []byte, ev *Event) ([]byte, error)
}
