package sink

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

// Discard counts events and drops them
type Discard struct {
	events atomic.Uint64
	bytes  atomic.Uint64
}

// Emit implements interfaces.Sink
func (d *Discard) Emit(ev *interfaces.Event) error {
	d.events.Add(1)
	d.bytes.Add(uint64(len(ev.Packaged)))
	return nil
}

// Written returns the number of events and bytes dropped
func (d *Discard) Written() (events, bytes uint64) {
	return d.events.Load(), d.bytes.Load()
}

var _ interfaces.Sink = (*Discard)(nil)
