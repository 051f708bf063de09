// Package ack coordinates buffer hand-off between the trigger producer and
// the event dispatcher.
//
// All pool mutations happen inside one exclusive region. Two wake-ups are
// layered on top of it:
//
//   - availability: the producer arms it when a push leaves the free pool
//     empty, then sleeps until the consumer releases a buffer.
//   - drain: End waits on it for the ready queue to empty after the trigger
//     source has been disabled.
//
// Nothing in this package calls the hardware; callers evaluate hardware
// state before or after entering the region.
package ack

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/go-readout/internal/pool"
)

// Stats is a point-in-time view of the coordinator
type Stats struct {
	Free     int
	Ready    int
	InFlight int
	Capacity int
	NeedAck  bool
	Ending   bool
}

// Coordinator owns the buffer pool and the acknowledgment state
type Coordinator struct {
	mu    sync.Mutex
	avail *sync.Cond
	pool  *pool.Pool

	needAck bool
	ending  bool

	drainCh     chan struct{}
	drainClosed bool
}

// New creates a coordinator over a fresh pool of count buffers of size bytes
func New(count, size int) (*Coordinator, error) {
	p, err := pool.New(count, size)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{pool: p}
	c.avail = sync.NewCond(&c.mu)
	return c, nil
}

// Acquire takes a free buffer for the producer without blocking
func (c *Coordinator) Acquire(seq uint32) (*pool.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Acquire(seq)
}

// Enqueue pushes a filled buffer onto the ready queue and returns the new
// queue depth and whether the free pool is now empty. When it is and arm is
// true, the availability wait is armed; the caller must then wake the
// consumer and call WaitForAvailability.
func (c *Coordinator) Enqueue(buf *pool.Buffer, arm bool) (depth int, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pool.Push(buf)
	empty = c.pool.FreeCount() == 0
	if empty && arm {
		c.needAck = true
	}
	return c.pool.ReadyCount(), empty
}

// WaitForAvailability blocks while an armed availability wait is
// outstanding. It returns once a buffer has been released or ForceWake was
// called, and reports whether it had to sleep.
func (c *Coordinator) WaitForAvailability() (waited bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.needAck {
		waited = true
		c.avail.Wait()
	}
	return waited
}

// SignalAvailability wakes exactly one producer waiting for a free buffer
func (c *Coordinator) SignalAvailability() {
	c.mu.Lock()
	c.signalLocked()
	c.mu.Unlock()
}

func (c *Coordinator) signalLocked() {
	if c.needAck {
		c.needAck = false
		c.avail.Signal()
	}
}

// Dequeue takes the oldest ready buffer for the consumer
func (c *Coordinator) Dequeue() (*pool.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Pop()
}

// Release returns a buffer to the free pool, acknowledges an armed
// availability wait, and reports whether the run is ending with nothing
// left queued or in flight.
func (c *Coordinator) Release(buf *pool.Buffer) (drained bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pool.Release(buf)
	c.signalLocked()
	return c.idleLocked()
}

func (c *Coordinator) idleLocked() bool {
	return c.ending && c.pool.ReadyCount() == 0 && c.pool.InFlight() == 0
}

// BeginEnd marks the run as ending and arms a fresh drain signal
func (c *Coordinator) BeginEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ending = true
	c.drainCh = make(chan struct{})
	c.drainClosed = false
}

// Ending reports whether BeginEnd has been called for the current run
func (c *Coordinator) Ending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ending
}

// SignalDrain wakes WaitForDrain if the run is ending and nothing is left
// queued or in flight. Extra calls are no-ops.
func (c *Coordinator) SignalDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drainCh != nil && !c.drainClosed && c.idleLocked() {
		close(c.drainCh)
		c.drainClosed = true
	}
}

// WaitForDrain blocks until the ready queue is empty, no buffer is in flight
// and pending (if non-nil) reports no residual hardware data. pending is
// re-evaluated outside the lock on every poll tick and after every drain
// signal. It returns incomplete=true when timeout elapses or ctx is done
// first.
func (c *Coordinator) WaitForDrain(ctx context.Context, timeout, poll time.Duration, pending func() bool) (incomplete bool) {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	c.mu.Lock()
	signal := c.drainCh
	c.mu.Unlock()

	for {
		if c.queueIdle() && (pending == nil || !pending()) {
			return false
		}

		select {
		case <-signal:
			// Closed channels stay readable; fall back to the ticker
			signal = nil
		case <-ticker.C:
		case <-timer.C:
			return true
		case <-ctx.Done():
			return true
		}
	}
}

func (c *Coordinator) queueIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.ReadyCount() == 0 && c.pool.InFlight() == 0
}

// ForceWake clears any armed availability wait and wakes every waiter
func (c *Coordinator) ForceWake() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.needAck = false
	c.avail.Broadcast()
}

// ResetRun clears per-run acknowledgment state
func (c *Coordinator) ResetRun() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.needAck = false
	c.ending = false
	c.drainCh = nil
	c.drainClosed = false
	c.avail.Broadcast()
}

// Reclaim returns every queued buffer to the free pool
func (c *Coordinator) Reclaim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Reclaim()
}

// Check verifies the pool accounting invariant
func (c *Coordinator) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Check()
}

// Stats returns a snapshot of pool occupancy and acknowledgment flags
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Free:     c.pool.FreeCount(),
		Ready:    c.pool.ReadyCount(),
		InFlight: c.pool.InFlight(),
		Capacity: c.pool.Capacity(),
		NeedAck:  c.needAck,
		Ending:   c.ending,
	}
}

// BufferSize returns the capacity of each pool buffer
func (c *Coordinator) BufferSize() int {
	return c.pool.BufferSize()
}
