package queue

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-readout/internal/ack"
	"github.com/ehrlich-b/go-readout/internal/interfaces"
	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/internal/pool"
)

// packageHeadroom covers bank headers and word padding added by a Packager
const packageHeadroom = 64

// DispatcherConfig wires a Dispatcher to its collaborators
type DispatcherConfig struct {
	Coord    *ack.Coordinator
	Hardware interfaces.Hardware
	Sink     interfaces.Sink
	Packager interfaces.Packager // optional; nil emits the raw payload
	Observer interfaces.Observer
	Logger   *logging.Logger
}

type runInfo struct {
	number int
	id     string
	logger *logging.Logger
}

// Dispatcher is the single consumer of the ready queue. It packages each
// buffer, emits it to the sink and returns the buffer to the pool.
type Dispatcher struct {
	coord    *ack.Coordinator
	hw       interfaces.Hardware
	sink     interfaces.Sink
	packager interfaces.Packager
	observer interfaces.Observer

	run atomic.Pointer[runInfo]

	wake   chan struct{}
	paused atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	emitErrLogged atomic.Bool
}

// NewDispatcher creates a dispatcher. It does not start consuming until Start.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		coord:    config.Coord,
		hw:       config.Hardware,
		sink:     config.Sink,
		packager: config.Packager,
		observer: config.Observer,
		wake:     make(chan struct{}, 1),
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	d.run.Store(&runInfo{logger: logger})
	return d
}

// SetRun attaches the run number and id stamped on every emitted event
func (d *Dispatcher) SetRun(number int, id string, logger *logging.Logger) {
	if logger == nil {
		logger = d.run.Load().logger
	}
	d.run.Store(&runInfo{number: number, id: id, logger: logger})
	d.emitErrLogged.Store(false)
}

// Start launches the consumer loop if it is not already running
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	go d.loop(ctx, d.done)
}

// Running reports whether the consumer loop is active
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stop terminates the consumer loop and waits for it to exit. A buffer being
// emitted when Stop is called is finished and released first; buffers still
// in the ready queue are left there.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	done := d.done
	d.running = false
	d.mu.Unlock()

	<-done
}

// Notify wakes the consumer loop without blocking
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pause stops draining; buffers accumulate in the ready queue
func (d *Dispatcher) Pause() {
	d.paused.Store(true)
}

// Resume restarts draining
func (d *Dispatcher) Resume() {
	d.paused.Store(false)
	d.Notify()
}

// Paused reports whether draining is suspended
func (d *Dispatcher) Paused() bool {
	return d.paused.Load()
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Keep the consumer on one OS thread so sink I/O does not migrate
	// between threads mid-run
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger := d.run.Load().logger
	logger.Debug("dispatcher loop starting")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("dispatcher loop stopping")
			return
		case <-d.wake:
		}

		d.drain(ctx)
	}
}

// DrainOnce empties the ready queue unless paused and returns the number of
// events dispatched. Tests may call it directly when the loop is not running.
func (d *Dispatcher) DrainOnce() int {
	return d.drain(context.Background())
}

// drain dispatches ready buffers until the queue is empty, draining is
// paused or ctx is cancelled. Buffers left queued after cancellation stay
// in the ready queue for Reclaim.
func (d *Dispatcher) drain(ctx context.Context) int {
	n := 0
	for !d.paused.Load() && ctx.Err() == nil {
		buf, ok := d.coord.Dequeue()
		if !ok {
			break
		}
		d.dispatch(buf)
		n++
	}
	return n
}

func (d *Dispatcher) dispatch(buf *pool.Buffer) {
	run := d.run.Load()

	ev := interfaces.Event{
		Run:      run.number,
		RunID:    run.id,
		Sequence: buf.Sequence,
		Sync:     buf.Sync,
		Length:   buf.Length,
		Payload:  buf.Bytes(),
	}

	var scratch []byte
	ev.Packaged = ev.Payload
	if d.packager != nil {
		scratch = GetBuffer(buf.Length + packageHeadroom)
		out, err := d.packager.Package(scratch[:0], &ev)
		if err != nil {
			d.emitFailed(run, &ev, err)
			d.observer.ObserveEmit(0, 0, false)
			PutBuffer(scratch)
			d.release(buf)
			return
		}
		ev.Packaged = out
	}

	start := time.Now()
	err := d.sink.Emit(&ev)
	latency := uint64(time.Since(start).Nanoseconds())

	if err != nil {
		d.emitFailed(run, &ev, err)
	}
	d.observer.ObserveEmit(uint64(len(ev.Packaged)), latency, err == nil)

	if scratch != nil {
		PutBuffer(scratch)
	}
	d.release(buf)
}

func (d *Dispatcher) emitFailed(run *runInfo, ev *interfaces.Event, err error) {
	logger := run.logger.WithEvent(ev.Sequence, ev.Sync).WithError(err)
	if d.emitErrLogged.CompareAndSwap(false, true) {
		logger.Error("event emission failed, dropping event")
	} else {
		logger.Debug("event emission failed")
	}
}

func (d *Dispatcher) release(buf *pool.Buffer) {
	if d.coord.Release(buf) && !d.hw.PendingData() {
		d.coord.SignalDrain()
	}
}
