package queue

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-readout/internal/ack"
	"github.com/ehrlich-b/go-readout/internal/interfaces"
	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/internal/runstate"
)

// ProducerConfig wires a Producer to its collaborators
type ProducerConfig struct {
	Coord    *ack.Coordinator
	Hardware interfaces.Hardware
	State    *runstate.Value
	Observer interfaces.Observer
	Logger   *logging.Logger

	// Notify wakes the consumer after a push. It must not block.
	Notify func()

	// MaxFlushRetries bounds the residual-data flush after a sync event
	MaxFlushRetries int

	// BlockOnEmpty makes the producer wait for a release when a push
	// leaves the free pool empty
	BlockOnEmpty bool
}

// Producer turns trigger notifications into filled buffers on the ready queue.
// HandleTrigger is called by a single trigger source at a time.
type Producer struct {
	coord    *ack.Coordinator
	hw       interfaces.Hardware
	flusher  interfaces.Flusher
	state    *runstate.Value
	observer interfaces.Observer
	notify   func()
	maxFlush int
	block    bool

	logger atomic.Pointer[logging.Logger]

	// triggers currently inside HandleTrigger
	active atomic.Int32

	// First occurrence per run of each error class is logged at error level
	exhaustedLogged atomic.Bool
	readErrLogged   atomic.Bool
	flushLogged     atomic.Bool
}

// NewProducer creates a producer
func NewProducer(config ProducerConfig) *Producer {
	p := &Producer{
		coord:    config.Coord,
		hw:       config.Hardware,
		state:    config.State,
		observer: config.Observer,
		notify:   config.Notify,
		maxFlush: config.MaxFlushRetries,
		block:    config.BlockOnEmpty,
	}
	if f, ok := config.Hardware.(interfaces.Flusher); ok {
		p.flusher = f
	}
	if p.notify == nil {
		p.notify = func() {}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	p.logger.Store(logger)
	return p
}

// ResetRun re-arms the first-occurrence logs and attaches the run's logger
func (p *Producer) ResetRun(logger *logging.Logger) {
	if logger != nil {
		p.logger.Store(logger)
	}
	p.exhaustedLogged.Store(false)
	p.readErrLogged.Store(false)
	p.flushLogged.Store(false)
}

// HandleTrigger reads the data for trigger count into a pool buffer and
// hands it to the consumer. It may block when the pool runs dry and
// backpressure is enabled.
func (p *Producer) HandleTrigger(count uint32) error {
	p.observer.ObserveTrigger()
	logger := p.logger.Load()

	// Counted before the state check so Quiesce never misses a trigger that
	// saw a producing state
	p.active.Add(1)
	defer p.active.Add(-1)

	st := p.state.Load()
	if !st.Producing() || (st == runstate.Ending && !p.hw.PendingData()) {
		p.observer.ObserveLost()
		logger.Debug("trigger dropped", "seq", count, "state", st.String())
		return ErrNotProducing
	}

	buf, ok := p.coord.Acquire(count)
	if !ok {
		p.observer.ObserveExhausted()
		p.observer.ObserveLost()
		if p.exhaustedLogged.CompareAndSwap(false, true) {
			logger.Error("no event buffer available, events could be out of sync", "seq", count)
		} else {
			logger.Debug("no event buffer available", "seq", count)
		}
		return ErrExhausted
	}

	n, sync, err := p.hw.ReadInto(buf.Data())
	if err != nil {
		p.coord.Release(buf)
		p.observer.ObserveReadError()
		p.observer.ObserveLost()
		if p.readErrLogged.CompareAndSwap(false, true) {
			logger.WithError(err).Error("hardware read failed", "seq", count)
		} else {
			logger.WithError(err).Debug("hardware read failed", "seq", count)
		}
		return fmt.Errorf("%w: %w", ErrHardwareRead, err)
	}

	if n > buf.Cap() {
		p.observer.ObserveOverflow()
		logger.WithEvent(count, sync).Warn("event truncated to buffer capacity",
			"reported", n, "capacity", buf.Cap())
		n = buf.Cap()
	} else if n < 0 {
		n = 0
	}
	buf.Length = n
	buf.Sync = sync

	if sync {
		p.flushAfterSync(count, logger)
	}

	arm := p.block
	if arm && p.state.Load() == runstate.Ending {
		arm = p.hw.PendingData()
	}

	depth, empty := p.coord.Enqueue(buf, arm)
	p.observer.ObserveProduced(uint64(n), sync)
	p.observer.ObserveQueueDepth(uint32(depth))
	p.notify()

	if empty {
		p.observer.ObserveEmpty()
		if arm {
			p.coord.WaitForAvailability()
		}
	}
	return nil
}

// Quiesce waits for triggers already inside HandleTrigger to return. The
// caller must first publish a non-producing state so no new trigger can
// acquire a buffer. Waiters blocked on availability are woken on every poll.
// It reports false if a trigger is still active after timeout.
func (p *Producer) Quiesce(timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.coord.ForceWake()
		if p.active.Load() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}

// flushAfterSync drains residual hardware data left after a sync event.
// Residual data that survives the retries is counted, not fatal.
func (p *Producer) flushAfterSync(count uint32, logger *logging.Logger) {
	if !p.hw.PendingData() {
		return
	}

	if p.flusher != nil {
		for i := 0; i < p.maxFlush && p.hw.PendingData(); i++ {
			if err := p.flusher.Flush(); err != nil {
				logger.WithError(err).Debug("residual flush failed", "seq", count, "attempt", i+1)
				break
			}
		}
	}

	if p.hw.PendingData() {
		p.observer.ObserveSyncFlushFailure()
		if p.flushLogged.CompareAndSwap(false, true) {
			logger.WithEvent(count, true).Error("hardware data still available after sync event")
		}
	}
}
