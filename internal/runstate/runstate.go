// Package runstate holds the process-wide run-control state value.
//
// Only the run-control state machine stores into a Value; the producer and
// the dispatcher load it without taking the transition lock.
package runstate

import "sync/atomic"

// State is a run-control state
type State int32

const (
	Unloaded State = iota
	Downloaded
	Prestarted
	Active
	Paused
	Ending
	Ended
)

var stateNames = [...]string{
	Unloaded:   "unloaded",
	Downloaded: "downloaded",
	Prestarted: "prestarted",
	Active:     "active",
	Paused:     "paused",
	Ending:     "ending",
	Ended:      "ended",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Producing reports whether triggers may acquire buffers in this state.
// Ending is included because residual hardware data is still read out
// while the run drains; the producer checks pending data separately.
func (s State) Producing() bool {
	return s == Active || s == Paused || s == Ending
}

// Value is an atomically readable State
type Value struct {
	v atomic.Int32
}

// Load returns the current state
func (v *Value) Load() State {
	return State(v.v.Load())
}

// Store sets the current state
func (v *Value) Store(s State) {
	v.v.Store(int32(s))
}
