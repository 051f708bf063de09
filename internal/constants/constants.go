package constants

import "time"

// Default buffer pool configuration
const (
	// DefaultPoolSize is the number of event buffers in the pool
	DefaultPoolSize = 10

	// DefaultBufferSize is the size of each event buffer in bytes (64KB)
	DefaultBufferSize = 64 * 1024

	// MaxPoolSize bounds the pool so a misconfigured run cannot pin unbounded memory
	MaxPoolSize = 4096

	// MaxBufferSize is the largest single event buffer accepted (16MB)
	MaxBufferSize = 16 << 20
)

// Timing constants for the end-of-run drain
const (
	// DefaultDrainTimeout is how long End waits for the ready queue and hardware to drain
	DefaultDrainTimeout = 30 * time.Second

	// DrainPollInterval is the interval to re-check hardware pending data while draining
	DrainPollInterval = 10 * time.Millisecond
)

// Sync-boundary flush
const (
	// DefaultMaxFlushRetries is the number of residual-data flushes attempted after a sync event
	DefaultMaxFlushRetries = 10
)

// Event packaging
const (
	// DefaultROCID is the bank tag written into each packaged event
	DefaultROCID = 1

	// DefaultDataTag is the tag of the inner data bank
	DefaultDataTag = 5

	// BankTypeBank marks a bank of banks in the header word
	BankTypeBank = 0x10

	// BankTypeUint32 marks a bank of unsigned 32-bit words
	BankTypeUint32 = 0x01

	// DefaultSource is the CloudEvents source for emitted events
	DefaultSource = "go-readout"
)
