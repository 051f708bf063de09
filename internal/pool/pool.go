// Package pool implements the fixed-capacity event buffer arena.
//
// A Pool owns N equally sized buffers carved out of one allocation. Each
// buffer is, at any instant, in exactly one of four places: the free set, the
// producer (Filling), the ready queue, or the consumer (Draining). Ownership
// moves only through Acquire, Push, Pop and Release.
//
// Pool is not safe for concurrent use. The acknowledgment coordinator
// serializes every call under its lock.
package pool

import (
	"fmt"

	"github.com/eapache/queue"
)

// State represents where a buffer currently lives
type State int

const (
	StateFree     State = iota // In the free set
	StateFilling               // Owned by the producer
	StateReady                 // Waiting in the ready queue
	StateDraining              // Owned by the consumer
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateFilling:
		return "filling"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Buffer is one fixed-capacity slab of the arena
type Buffer struct {
	index int
	data  []byte
	state State

	// Length is the number of valid bytes written by the producer
	Length int

	// Sequence is the trigger count assigned at acquisition
	Sequence uint32

	// Sync marks a synchronization boundary event
	Sync bool
}

// Index returns the buffer's slot in the arena
func (b *Buffer) Index() int {
	return b.index
}

// Cap returns the usable capacity in bytes
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Data returns the full-capacity slice for the producer to fill
func (b *Buffer) Data() []byte {
	return b.data
}

// Bytes returns the valid portion of the buffer
func (b *Buffer) Bytes() []byte {
	return b.data[:b.Length]
}

// State returns the buffer's ownership state
func (b *Buffer) State() State {
	return b.state
}

// Pool is a fixed set of buffers with a free set and a FIFO ready queue
type Pool struct {
	arena    []byte
	buffers  []Buffer
	free     []int // LIFO stack of free indices
	ready    *queue.Queue
	inFlight int
	size     int
}

// New allocates a pool of count buffers of size bytes each
func New(count, size int) (*Pool, error) {
	if count < 1 {
		return nil, fmt.Errorf("pool: invalid buffer count %d", count)
	}
	if size < 1 {
		return nil, fmt.Errorf("pool: invalid buffer size %d", size)
	}

	p := &Pool{
		arena:   make([]byte, count*size),
		buffers: make([]Buffer, count),
		free:    make([]int, 0, count),
		ready:   queue.New(),
		size:    size,
	}

	for i := range p.buffers {
		off := i * size
		p.buffers[i] = Buffer{
			index: i,
			data:  p.arena[off : off+size : off+size],
			state: StateFree,
		}
	}

	// Push in reverse so index 0 is handed out first
	for i := count - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}

	return p, nil
}

// Acquire takes a buffer from the free set for the producer.
// It never blocks; ok is false when the free set is exhausted.
func (p *Pool) Acquire(seq uint32) (buf *Buffer, ok bool) {
	n := len(p.free)
	if n == 0 {
		return nil, false
	}

	idx := p.free[n-1]
	p.free = p.free[:n-1]

	buf = &p.buffers[idx]
	buf.state = StateFilling
	buf.Length = 0
	buf.Sync = false
	buf.Sequence = seq
	p.inFlight++
	return buf, true
}

// Push hands a filled buffer from the producer to the tail of the ready queue
func (p *Pool) Push(buf *Buffer) {
	buf.state = StateReady
	p.ready.Add(buf)
	p.inFlight--
}

// Pop takes the oldest ready buffer for the consumer
func (p *Pool) Pop() (*Buffer, bool) {
	if p.ready.Length() == 0 {
		return nil, false
	}

	buf := p.ready.Remove().(*Buffer)
	buf.state = StateDraining
	p.inFlight++
	return buf, true
}

// Release returns a buffer owned by the caller to the free set.
// The caller must be the current owner (producer while filling, consumer
// while draining); this is not checked.
func (p *Pool) Release(buf *Buffer) {
	buf.state = StateFree
	buf.Length = 0
	p.free = append(p.free, buf.index)
	p.inFlight--
}

// Reclaim moves every buffer still in the ready queue back to the free set
// and returns how many were reclaimed. Buffers owned by the producer or the
// consumer are left alone.
func (p *Pool) Reclaim() int {
	n := 0
	for p.ready.Length() > 0 && n < len(p.buffers) {
		buf := p.ready.Remove().(*Buffer)
		buf.state = StateFree
		buf.Length = 0
		p.free = append(p.free, buf.index)
		n++
	}
	return n
}

// FreeCount returns the number of buffers in the free set
func (p *Pool) FreeCount() int {
	return len(p.free)
}

// ReadyCount returns the number of buffers waiting in the ready queue
func (p *Pool) ReadyCount() int {
	return p.ready.Length()
}

// InFlight returns the number of buffers held by the producer or consumer
func (p *Pool) InFlight() int {
	return p.inFlight
}

// Capacity returns the total number of buffers
func (p *Pool) Capacity() int {
	return len(p.buffers)
}

// BufferSize returns the capacity of each buffer in bytes
func (p *Pool) BufferSize() int {
	return p.size
}

// Check verifies the accounting invariant and per-buffer states
func (p *Pool) Check() error {
	free, ready, inFlight := len(p.free), p.ready.Length(), p.inFlight
	if free+ready+inFlight != len(p.buffers) {
		return fmt.Errorf("pool: free(%d)+ready(%d)+inflight(%d) != capacity(%d)",
			free, ready, inFlight, len(p.buffers))
	}

	var counts [4]int
	for i := range p.buffers {
		s := p.buffers[i].state
		if s < StateFree || s > StateDraining {
			return fmt.Errorf("pool: buffer %d has invalid state %d", i, s)
		}
		counts[s]++
	}

	if counts[StateFree] != free {
		return fmt.Errorf("pool: %d buffers marked free, free set holds %d", counts[StateFree], free)
	}
	if counts[StateReady] != ready {
		return fmt.Errorf("pool: %d buffers marked ready, ready queue holds %d", counts[StateReady], ready)
	}
	if counts[StateFilling]+counts[StateDraining] != inFlight {
		return fmt.Errorf("pool: %d buffers marked in flight, counter says %d",
			counts[StateFilling]+counts[StateDraining], inFlight)
	}
	return nil
}
