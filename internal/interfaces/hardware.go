package interfaces

// Hardware defines the interface that the trigger readout hardware must implement.
// Every method is called without the readout's exclusive region held, so an
// implementation is free to block on bus I/O.
type Hardware interface {
	// ReadInto reads the data for one trigger into p.
	// It returns the number of bytes the hardware had available for this event,
	// which may exceed len(p); only len(p) bytes are ever written.
	// sync reports whether this event is a synchronization boundary.
	//
	// Implementations must not retain p.
	ReadInto(p []byte) (n int, sync bool, err error)

	// PendingData reports whether the hardware still holds data that has not
	// been read out (block-ready / block-status on a trigger interface).
	PendingData() bool

	// Enable arms the hardware to deliver triggers.
	Enable() error

	// Disable stops further triggers from being delivered.
	Disable() error
}

// Initializer is an optional interface for hardware that needs one-time
// setup when the run control downloads.
type Initializer interface {
	Hardware

	// Init initializes the hardware. Called on every Download.
	Init() error
}

// Flusher is an optional interface for hardware that can flush residual
// data left behind after a synchronization boundary event.
type Flusher interface {
	Hardware

	// Flush discards one unit of residual data.
	Flush() error
}

// TeardownHardware is an optional interface for hardware that needs to
// release resources when a run ends.
type TeardownHardware interface {
	Hardware

	// Teardown is called at the end of every run, whether or not the drain completed.
	Teardown() error
}

// StatHardware is an optional interface that provides hardware statistics.
type StatHardware interface {
	Hardware

	// Stats returns hardware-specific statistics.
	Stats() map[string]interface{}
}
