// Package ctrl implements the run-control state machine.
//
// Transitions are serialized by a mutex. The current state is published
// through a runstate.Value so the trigger path and the dispatcher can read it
// without contending with a transition in progress.
package ctrl

import (
	"sync"

	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/internal/runstate"
)

// Action performs the work attached to a transition. It runs with the
// transition lock held; from is the state the command was issued in.
type Action func(from runstate.State) error

// Machine is the run-control state machine
type Machine struct {
	mu     sync.Mutex
	state  runstate.Value
	logger *logging.Logger
}

// NewMachine creates a machine in the Unloaded state
func NewMachine(logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Machine{logger: logger}
	m.state.Store(runstate.Unloaded)
	return m
}

// State returns the current state without taking the transition lock
func (m *Machine) State() runstate.State {
	return m.state.Load()
}

// Value exposes the lock-free state for readers outside the machine
func (m *Machine) Value() *runstate.Value {
	return &m.state
}

// Can reports whether t is legal in the current state
func (m *Machine) Can(t Transition) bool {
	r, ok := rules[t]
	return ok && r.allows(m.state.Load())
}

// Do validates t against the current state, runs action and moves to the
// target state. An illegal command returns a *TransitionError and leaves the
// state unchanged. When action fails the state is restored, except for End
// and Reset which always reach their target.
func (m *Machine) Do(t Transition, action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state.Load()
	r, ok := rules[t]
	if !ok || !r.allows(from) {
		err := &TransitionError{Transition: t, From: from}
		m.logger.TransitionFailed(t.String(), from.String(), err)
		return err
	}

	m.logger.TransitionStart(t.String(), from.String())

	if r.via != noVia {
		m.state.Store(r.via)
	}

	var err error
	if action != nil {
		err = action(from)
	}

	if err != nil {
		aerr := &ActionError{Transition: t, From: from, To: r.to, Err: err}
		m.logger.TransitionFailed(t.String(), from.String(), err)
		if r.commit {
			m.state.Store(r.to)
		} else {
			m.state.Store(from)
		}
		return aerr
	}

	m.state.Store(r.to)
	m.logger.TransitionDone(t.String(), from.String(), r.to.String())
	return nil
}
