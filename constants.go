package readout

import "github.com/ehrlich-b/go-readout/internal/constants"

// Re-export constants for public API
const (
	DefaultPoolSize        = constants.DefaultPoolSize
	DefaultBufferSize      = constants.DefaultBufferSize
	DefaultDrainTimeout    = constants.DefaultDrainTimeout
	DrainPollInterval      = constants.DrainPollInterval
	DefaultMaxFlushRetries = constants.DefaultMaxFlushRetries
	DefaultROCID           = constants.DefaultROCID
	DefaultSource          = constants.DefaultSource
	MaxPoolSize            = constants.MaxPoolSize
	MaxBufferSize          = constants.MaxBufferSize
)
