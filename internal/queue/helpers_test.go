package queue

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
	"github.com/ehrlich-b/go-readout/internal/runstate"
)

func activeState() *runstate.Value {
	v := &runstate.Value{}
	v.Store(runstate.Active)
	return v
}

// fakeHardware returns a 4-byte big-endian sequence payload per read
type fakeHardware struct {
	mu       sync.Mutex
	reads    int
	size     int   // bytes reported per read; 0 means 4
	syncEach int   // every Nth read is a sync event
	readErr  error // returned by every read when set
	drains   bool  // a read consumes all pending data
	pending  atomic.Int32
	flushes  atomic.Int32
}

func (h *fakeHardware) ReadInto(p []byte) (int, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.readErr != nil {
		return 0, false, h.readErr
	}
	h.reads++
	if h.drains {
		h.pending.Store(0)
	}
	n := h.size
	if n == 0 {
		n = 4
	}
	if len(p) >= 4 {
		binary.BigEndian.PutUint32(p, uint32(h.reads))
	}
	sync := h.syncEach > 0 && h.reads%h.syncEach == 0
	return n, sync, nil
}

func (h *fakeHardware) PendingData() bool { return h.pending.Load() > 0 }
func (h *fakeHardware) Enable() error     { return nil }
func (h *fakeHardware) Disable() error    { return nil }

// flushingHardware clears one unit of pending data per Flush
type flushingHardware struct {
	*fakeHardware
}

func (h flushingHardware) Flush() error {
	h.flushes.Add(1)
	if h.pending.Load() > 0 {
		h.pending.Add(-1)
	}
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
	block  chan struct{}
}

type recordedEvent struct {
	seq      uint32
	sync     bool
	run      int
	runID    string
	payload  []byte
	packaged []byte
}

func (s *recordingSink) Emit(ev *interfaces.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, recordedEvent{
		seq:      ev.Sequence,
		sync:     ev.Sync,
		run:      ev.Run,
		runID:    ev.RunID,
		payload:  append([]byte(nil), ev.Payload...),
		packaged: append([]byte(nil), ev.Packaged...),
	})
	return nil
}

func (s *recordingSink) sequences() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.events))
	for i, e := range s.events {
		out[i] = e.seq
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// countingObserver tallies every observer callback
type countingObserver struct {
	triggers, produced, exhausted, lost, empty  atomic.Int64
	overflows, readErrors, flushFailures, syncs atomic.Int64
	emitted, emitErrors, drains, drainTimeouts  atomic.Int64
	maxDepth                                    atomic.Uint32
}

func (o *countingObserver) ObserveTrigger() { o.triggers.Add(1) }
func (o *countingObserver) ObserveProduced(bytes uint64, sync bool) {
	o.produced.Add(1)
	if sync {
		o.syncs.Add(1)
	}
}
func (o *countingObserver) ObserveExhausted()        { o.exhausted.Add(1) }
func (o *countingObserver) ObserveLost()             { o.lost.Add(1) }
func (o *countingObserver) ObserveEmpty()            { o.empty.Add(1) }
func (o *countingObserver) ObserveOverflow()         { o.overflows.Add(1) }
func (o *countingObserver) ObserveReadError()        { o.readErrors.Add(1) }
func (o *countingObserver) ObserveSyncFlushFailure() { o.flushFailures.Add(1) }
func (o *countingObserver) ObserveEmit(bytes, latencyNs uint64, success bool) {
	if success {
		o.emitted.Add(1)
	} else {
		o.emitErrors.Add(1)
	}
}
func (o *countingObserver) ObserveDrain(timedOut bool) {
	o.drains.Add(1)
	if timedOut {
		o.drainTimeouts.Add(1)
	}
}
func (o *countingObserver) ObserveQueueDepth(depth uint32) {
	for {
		cur := o.maxDepth.Load()
		if depth <= cur || o.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// prefixPackager prepends a 4-byte length word
type prefixPackager struct {
	err error
}

func (p prefixPackager) Package(dst []byte, ev *interfaces.Event) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(ev.Length))
	return append(dst, ev.Payload...), nil
}

var errSink = errors.New("sink unavailable")
