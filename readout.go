// Package readout provides a trigger-driven event readout coordinator.
//
// A Readout owns a fixed pool of event buffers. Each trigger fills one
// buffer from the hardware and queues it; a single dispatcher goroutine
// packages queued buffers in order, hands them to a Sink and returns them to
// the pool. Run control (Download, Prestart, Go, Pause, Resume, End, Reset)
// gates when triggers are accepted and drains the queue at the end of a run.
package readout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/go-readout/internal/ack"
	"github.com/ehrlich-b/go-readout/internal/constants"
	"github.com/ehrlich-b/go-readout/internal/ctrl"
	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/internal/queue"
	"github.com/ehrlich-b/go-readout/internal/runstate"
)

// Params contains parameters for creating a Readout
type Params struct {
	// Hardware is the trigger readout hardware
	Hardware Hardware

	// Sink receives every packaged event
	Sink Sink

	// Buffer pool
	PoolSize   int // Number of event buffers (default: 10)
	BufferSize int // Bytes per event buffer (default: 64KB)

	// End-of-run drain
	DrainTimeout      time.Duration // Maximum wait for the queue to drain (default: 30s)
	DrainPollInterval time.Duration // Hardware pending-data poll period while draining (default: 10ms)

	// Trigger path
	MaxFlushRetries int  // Residual flushes attempted after a sync event (default: 10)
	BlockOnEmpty    bool // Hold the trigger path when the pool runs dry (default: true)

	// Run metadata
	RunType string // Free-form run type recorded in logs and Info
	Source  string // Event source name used by sinks (default: "go-readout")
}

// DefaultParams returns default readout parameters
func DefaultParams(hw Hardware, sink Sink) Params {
	return Params{
		Hardware:          hw,
		Sink:              sink,
		PoolSize:          constants.DefaultPoolSize,
		BufferSize:        constants.DefaultBufferSize,
		DrainTimeout:      constants.DefaultDrainTimeout,
		DrainPollInterval: constants.DrainPollInterval,
		MaxFlushRetries:   constants.DefaultMaxFlushRetries,
		BlockOnEmpty:      true,
		Source:            constants.DefaultSource,
	}
}

// Validate checks that params can build a Readout
func (p Params) Validate() error {
	switch {
	case p.Hardware == nil:
		return NewError("new", ErrCodeInvalidParameters, "hardware is required")
	case p.Sink == nil:
		return NewError("new", ErrCodeInvalidParameters, "sink is required")
	case p.PoolSize < 1 || p.PoolSize > constants.MaxPoolSize:
		return NewError("new", ErrCodeInvalidParameters,
			fmt.Sprintf("pool size %d out of range [1, %d]", p.PoolSize, constants.MaxPoolSize))
	case p.BufferSize < 1 || p.BufferSize > constants.MaxBufferSize:
		return NewError("new", ErrCodeInvalidParameters,
			fmt.Sprintf("buffer size %d out of range [1, %d]", p.BufferSize, constants.MaxBufferSize))
	case p.DrainTimeout <= 0:
		return NewError("new", ErrCodeInvalidParameters, "drain timeout must be positive")
	case p.MaxFlushRetries < 0:
		return NewError("new", ErrCodeInvalidParameters, "max flush retries must not be negative")
	}
	return nil
}

// Options contains additional options for readout creation
type Options struct {
	// Logger for run-control and error messages (if nil, uses logging.Default())
	Logger *logging.Logger

	// Observer receives every observation in addition to the built-in Metrics
	Observer Observer

	// Packager wraps each payload before emission (if nil, the raw payload is emitted)
	Packager Packager
}

// EndReport summarizes the end of a run
type EndReport struct {
	// DrainIncomplete is true when the drain timed out with events still queued
	// or hardware data still pending
	DrainIncomplete bool

	// Drained is the number of events dispatched while End waited
	Drained uint64

	// Lost is the number of triggers whose data was dropped during the run
	Lost uint64

	// Events is the number of events produced during the run
	Events uint64

	// Duration is the time from Go to the end of the drain
	Duration time.Duration
}

// Info is a point-in-time view of a Readout
type Info struct {
	State       State
	Run         int
	RunID       string
	RunType     string
	FreeBuffers int // Buffers available to the trigger path
	ReadyEvents int // Filled buffers waiting for the dispatcher
	InFlight    int // Buffers held by the producer or the dispatcher
	PoolSize    int
	BufferSize  int
	Dispatching bool
	Hardware    map[string]interface{} // Populated when the hardware implements StatHardware
}

// Readout coordinates trigger readout for one hardware source and one sink
type Readout struct {
	params Params

	ctx    context.Context
	cancel context.CancelFunc

	coord      *ack.Coordinator
	producer   *queue.Producer
	dispatcher *queue.Dispatcher
	machine    *ctrl.Machine

	metrics  *Metrics
	observer Observer

	logger    *logging.Logger
	runLogger atomic.Pointer[logging.Logger]

	runMu   sync.RWMutex
	run     int
	runID   string
	startAt time.Time

	closed atomic.Bool
}

// New creates a Readout in the Unloaded state.
//
// Example:
//
//	hw := hardware.NewSim(hardware.SimConfig{EventSize: 256})
//	params := readout.DefaultParams(hw, readout.NewMemorySink())
//	r, err := readout.New(context.Background(), params, nil)
func New(ctx context.Context, params Params, options *Options) (*Readout, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	coord, err := ack.New(params.PoolSize, params.BufferSize)
	if err != nil {
		return nil, WrapError("new", err)
	}

	metrics := NewMetrics()
	observer := MultiObserver{NewMetricsObserver(metrics)}
	if options.Observer != nil {
		observer = append(observer, options.Observer)
	}

	machine := ctrl.NewMachine(logger)

	ctx, cancel := context.WithCancel(ctx)
	r := &Readout{
		params:   params,
		ctx:      ctx,
		cancel:   cancel,
		coord:    coord,
		machine:  machine,
		metrics:  metrics,
		observer: observer,
		logger:   logger,
	}
	r.runLogger.Store(logger)

	r.dispatcher = queue.NewDispatcher(queue.DispatcherConfig{
		Coord:    coord,
		Hardware: params.Hardware,
		Sink:     params.Sink,
		Packager: options.Packager,
		Observer: observer,
		Logger:   logger,
	})
	r.producer = queue.NewProducer(queue.ProducerConfig{
		Coord:           coord,
		Hardware:        params.Hardware,
		State:           machine.Value(),
		Observer:        observer,
		Logger:          logger,
		Notify:          r.dispatcher.Notify,
		MaxFlushRetries: params.MaxFlushRetries,
		BlockOnEmpty:    params.BlockOnEmpty,
	})

	logger.Info("readout created",
		"pool_size", params.PoolSize,
		"buffer_size", params.BufferSize,
		"block_on_empty", params.BlockOnEmpty)

	return r, nil
}

// Download prepares the hardware for a new configuration
func (r *Readout) Download() error {
	return r.transition(ctrl.Download, func(runstate.State) error {
		// A previous run may have ended with the drain incomplete
		r.dispatcher.Stop()
		if n := r.coord.Reclaim(); n > 0 {
			r.currentLogger().Warn("discarded stale events", "count", n)
		}

		if init, ok := r.params.Hardware.(Initializer); ok {
			if err := init.Init(); err != nil {
				return fmt.Errorf("hardware init: %w", err)
			}
		}
		return nil
	})
}

// Prestart prepares run number run. Stale state left by a previous run is
// cleared and a new run id is assigned.
func (r *Readout) Prestart(run int) error {
	return r.transition(ctrl.Prestart, func(runstate.State) error {
		r.dispatcher.Stop()
		r.coord.ResetRun()
		if n := r.coord.Reclaim(); n > 0 {
			r.logger.Warn("discarded stale events", "count", n)
		}

		id := uuid.NewString()
		logger := r.logger.WithRun(run, id)

		r.runMu.Lock()
		r.run = run
		r.runID = id
		r.runMu.Unlock()

		r.runLogger.Store(logger)
		r.dispatcher.SetRun(run, id, logger)
		r.producer.ResetRun(logger)

		logger.Info("run prestarted", "run_type", r.params.RunType)
		return nil
	})
}

// Go starts accepting triggers for the prestarted run
func (r *Readout) Go() error {
	return r.transition(ctrl.Go, func(runstate.State) error {
		r.metrics.Reset()
		r.coord.ResetRun()

		r.dispatcher.Resume()
		r.dispatcher.Start(r.ctx)

		r.runMu.Lock()
		r.startAt = time.Now()
		r.runMu.Unlock()

		if err := r.params.Hardware.Enable(); err != nil {
			return fmt.Errorf("hardware enable: %w", err)
		}
		return nil
	})
}

// Pause suspends dispatching. Triggers are still read out until the pool
// runs dry.
func (r *Readout) Pause() error {
	return r.transition(ctrl.Pause, func(runstate.State) error {
		r.dispatcher.Pause()
		return nil
	})
}

// Resume restarts dispatching after Pause
func (r *Readout) Resume() error {
	return r.transition(ctrl.Resume, func(runstate.State) error {
		r.dispatcher.Resume()
		return nil
	})
}

// End stops the run. Triggers are disabled, queued events are dispatched
// and residual hardware data is read out until the drain completes or
// DrainTimeout elapses. The run always reaches Ended; a timed out drain is
// reported in EndReport, not as an error.
func (r *Readout) End() (EndReport, error) {
	var report EndReport

	err := r.transition(ctrl.End, func(runstate.State) error {
		logger := r.currentLogger()
		var errs []error

		if err := r.params.Hardware.Disable(); err != nil {
			errs = append(errs, fmt.Errorf("hardware disable: %w", err))
		}

		before := r.metrics.Emitted.Load() + r.metrics.EmitErrors.Load()

		r.coord.BeginEnd()
		r.dispatcher.Resume()
		r.dispatcher.Notify()

		incomplete := r.coord.WaitForDrain(r.ctx, r.params.DrainTimeout,
			r.params.DrainPollInterval, r.params.Hardware.PendingData)
		r.observer.ObserveDrain(incomplete)
		r.coord.ForceWake()

		if incomplete {
			st := r.coord.Stats()
			logger.Warn("drain timed out",
				"ready", st.Ready,
				"in_flight", st.InFlight,
				"timeout", r.params.DrainTimeout.String())
		}

		if td, ok := r.params.Hardware.(TeardownHardware); ok {
			if err := td.Teardown(); err != nil {
				errs = append(errs, fmt.Errorf("hardware teardown: %w", err))
			}
		}
		if fs, ok := r.params.Sink.(FlushingSink); ok {
			if err := fs.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("sink flush: %w", err))
			}
		}

		r.metrics.Stop()

		r.runMu.RLock()
		startAt := r.startAt
		r.runMu.RUnlock()

		report = EndReport{
			DrainIncomplete: incomplete,
			Drained:         r.metrics.Emitted.Load() + r.metrics.EmitErrors.Load() - before,
			Lost:            r.metrics.Lost.Load(),
			Events:          r.metrics.Produced.Load(),
			Duration:        time.Since(startAt),
		}

		st := r.coord.Stats()
		logger.Infof("ended after %d events", report.Events)
		logger.Info("pool at end of run",
			"free", st.Free,
			"ready", st.Ready,
			"lost", report.Lost,
			"drain_incomplete", incomplete)

		return errors.Join(errs...)
	})

	return report, err
}

// Reset returns to Unloaded from any state. Queued events are discarded.
// Calling Reset repeatedly is safe.
func (r *Readout) Reset() error {
	return r.transition(ctrl.Reset, r.resetAction)
}

// Trigger reads out the event for trigger number count. It is called by the
// trigger source, one call at a time, and may block while the pool is empty
// and BlockOnEmpty is set.
func (r *Readout) Trigger(count uint32) error {
	err := r.producer.HandleTrigger(count)
	if err == nil {
		return nil
	}

	re := WrapError("trigger", err)
	re.Run = r.Run()
	re.State = r.machine.State()
	return re
}

// State returns the current run-control state
func (r *Readout) State() State {
	return r.machine.State()
}

// Run returns the current run number
func (r *Readout) Run() int {
	r.runMu.RLock()
	defer r.runMu.RUnlock()
	return r.run
}

// RunID returns the unique id assigned at Prestart
func (r *Readout) RunID() string {
	r.runMu.RLock()
	defer r.runMu.RUnlock()
	return r.runID
}

// Info returns occupancy and run information
func (r *Readout) Info() Info {
	if r == nil {
		return Info{}
	}

	st := r.coord.Stats()
	r.runMu.RLock()
	info := Info{
		State:       r.machine.State(),
		Run:         r.run,
		RunID:       r.runID,
		RunType:     r.params.RunType,
		FreeBuffers: st.Free,
		ReadyEvents: st.Ready,
		InFlight:    st.InFlight,
		PoolSize:    st.Capacity,
		BufferSize:  r.coord.BufferSize(),
		Dispatching: r.dispatcher.Running() && !r.dispatcher.Paused(),
	}
	r.runMu.RUnlock()

	if sh, ok := r.params.Hardware.(StatHardware); ok {
		info.Hardware = sh.Stats()
	}
	return info
}

// Metrics returns the live metrics for the current run
func (r *Readout) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the run metrics
func (r *Readout) MetricsSnapshot() MetricsSnapshot {
	if r == nil || r.metrics == nil {
		return MetricsSnapshot{}
	}
	return r.metrics.Snapshot()
}

// Close resets the readout and closes the sink if it implements io.Closer.
// Every later command returns ErrClosed.
func (r *Readout) Close() error {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := r.machine.Do(ctrl.Reset, r.resetAction); err != nil {
		errs = append(errs, err)
	}
	r.cancel()

	if c, ok := r.params.Sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink close: %w", err))
		}
	}

	r.logger.Info("readout closed")
	if err := errors.Join(errs...); err != nil {
		return WrapError("close", err)
	}
	return nil
}

func (r *Readout) resetAction(from runstate.State) error {
	var err error
	if from != runstate.Unloaded {
		if derr := r.params.Hardware.Disable(); derr != nil {
			err = fmt.Errorf("hardware disable: %w", derr)
		}
	}

	// The machine already publishes Unloaded, so only triggers that were
	// in progress can still enqueue
	if !r.producer.Quiesce(r.params.DrainTimeout, r.params.DrainPollInterval) {
		r.currentLogger().Warn("trigger still in progress after reset timeout")
	}
	r.dispatcher.Stop()
	r.dispatcher.Resume()

	if n := r.coord.Reclaim(); n > 0 {
		r.currentLogger().Info("discarded queued events", "count", n)
	}
	r.coord.ResetRun()
	return err
}

func (r *Readout) currentLogger() *logging.Logger {
	return r.runLogger.Load()
}

// transition runs one run-control command and maps its error to *Error
func (r *Readout) transition(t ctrl.Transition, action ctrl.Action) error {
	op := t.String()
	if r.closed.Load() {
		return NewRunError(op, r.Run(), r.machine.State(), ErrCodeClosed, "readout is closed")
	}

	err := r.machine.Do(t, action)
	if err == nil {
		return nil
	}

	re := WrapError(op, err)
	re.Run = r.Run()
	re.State = r.machine.State()
	return re
}
