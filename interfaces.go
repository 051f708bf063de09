package readout

import (
	"github.com/ehrlich-b/go-readout/internal/interfaces"
	"github.com/ehrlich-b/go-readout/internal/runstate"
)

// Hardware is the trigger readout hardware collaborator
type Hardware = interfaces.Hardware

// Initializer is optional hardware set up on every Download
type Initializer = interfaces.Initializer

// Flusher is optional hardware that can discard residual data after a sync event
type Flusher = interfaces.Flusher

// TeardownHardware is optional hardware released at the end of every run
type TeardownHardware = interfaces.TeardownHardware

// StatHardware is optional hardware that reports its own statistics
type StatHardware = interfaces.StatHardware

// Sink receives packaged events
type Sink = interfaces.Sink

// FlushingSink is an optional sink flushed at the end of every run
type FlushingSink = interfaces.FlushingSink

// Event is one emitted trigger event
type Event = interfaces.Event

// Packager wraps an event payload for a sink
type Packager = interfaces.Packager

// Observer allows pluggable metrics collection
type Observer = interfaces.Observer

// State is a run-control state
type State = runstate.State

// Run-control states
const (
	StateUnloaded   = runstate.Unloaded
	StateDownloaded = runstate.Downloaded
	StatePrestarted = runstate.Prestarted
	StateActive     = runstate.Active
	StatePaused     = runstate.Paused
	StateEnding     = runstate.Ending
	StateEnded      = runstate.Ended
)
