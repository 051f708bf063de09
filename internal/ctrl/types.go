package ctrl

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-readout/internal/runstate"
)

// Transition names a run-control command
type Transition int

const (
	Download Transition = iota
	Prestart
	Go
	Resume
	Pause
	End
	Reset
)

var transitionNames = [...]string{
	Download: "download",
	Prestart: "prestart",
	Go:       "go",
	Resume:   "resume",
	Pause:    "pause",
	End:      "end",
	Reset:    "reset",
}

func (t Transition) String() string {
	if t < 0 || int(t) >= len(transitionNames) {
		return fmt.Sprintf("transition(%d)", int(t))
	}
	return transitionNames[t]
}

// rule describes one row of the transition table
type rule struct {
	from []runstate.State // empty means any state
	via  runstate.State   // published while the action runs; -1 for none
	to   runstate.State

	// commit moves to the target state even when the action fails
	commit bool
}

const noVia runstate.State = -1

var rules = map[Transition]rule{
	Download: {
		from: []runstate.State{runstate.Unloaded, runstate.Downloaded, runstate.Ended},
		via:  noVia,
		to:   runstate.Downloaded,
	},
	Prestart: {
		from: []runstate.State{runstate.Downloaded, runstate.Ended},
		via:  noVia,
		to:   runstate.Prestarted,
	},
	Go: {
		from: []runstate.State{runstate.Prestarted},
		via:  noVia,
		to:   runstate.Active,
	},
	Resume: {
		from: []runstate.State{runstate.Paused},
		via:  noVia,
		to:   runstate.Active,
	},
	Pause: {
		from: []runstate.State{runstate.Active},
		via:  noVia,
		to:   runstate.Paused,
	},
	End: {
		from:   []runstate.State{runstate.Active, runstate.Paused},
		via:    runstate.Ending,
		to:     runstate.Ended,
		commit: true,
	},
	Reset: {
		via:    runstate.Unloaded,
		to:     runstate.Unloaded,
		commit: true,
	},
}

func (r rule) allows(s runstate.State) bool {
	if len(r.from) == 0 {
		return true
	}
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when a command is issued in a state that
// does not accept it
var ErrIllegalTransition = errors.New("illegal run-control transition")

// TransitionError reports a rejected command and the state it was issued in
type TransitionError struct {
	Transition Transition
	From       runstate.State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Transition, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ActionError wraps a failure from the work attached to a transition
type ActionError struct {
	Transition Transition
	From       runstate.State
	To         runstate.State
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s (%s -> %s): %v", e.Transition, e.From, e.To, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
