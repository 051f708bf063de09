package hardware

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/internal/sched"
)

// PulserMode selects how a Pulser spaces triggers
type PulserMode int

const (
	// PulserExternal never fires on its own; triggers come from Fire
	PulserExternal PulserMode = iota
	// PulserFixed fires at a fixed rate
	PulserFixed
	// PulserRandom fires with exponentially distributed spacing around the rate
	PulserRandom
)

func (m PulserMode) String() string {
	switch m {
	case PulserExternal:
		return "external"
	case PulserFixed:
		return "fixed"
	case PulserRandom:
		return "random"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParsePulserMode parses "external", "fixed" or "random"
func ParsePulserMode(s string) (PulserMode, error) {
	switch strings.ToLower(s) {
	case "", "external":
		return PulserExternal, nil
	case "fixed":
		return PulserFixed, nil
	case "random":
		return PulserRandom, nil
	default:
		return PulserExternal, fmt.Errorf("unknown pulser mode %q", s)
	}
}

// TriggerFunc delivers trigger number count to the readout
type TriggerFunc func(count uint32) error

// PulserConfig configures a Pulser
type PulserConfig struct {
	Mode PulserMode

	// Rate is the mean trigger rate in Hz for the fixed and random modes
	Rate float64

	// Limit stops the pulser after this many triggers (0 runs until Stop)
	Limit uint32

	// Sched sets the trigger thread's CPU and priority
	Sched sched.Options

	Seed   int64
	Logger *logging.Logger
}

// Pulser is a trigger source. Its goroutine is pinned to one OS thread and
// delivers trigger counts in increasing order, one at a time.
type Pulser struct {
	cfg     PulserConfig
	trigger TriggerFunc
	logger  *logging.Logger

	count  atomic.Uint32
	errors atomic.Uint64

	fireMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPulser creates a pulser calling trigger for every pulse
func NewPulser(cfg PulserConfig, trigger TriggerFunc) (*Pulser, error) {
	if cfg.Mode != PulserExternal && cfg.Rate <= 0 {
		return nil, fmt.Errorf("pulser: %s mode needs a positive rate", cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Pulser{cfg: cfg, trigger: trigger, logger: logger}, nil
}

// Fire delivers the next trigger from the caller's goroutine
func (p *Pulser) Fire() error {
	p.fireMu.Lock()
	defer p.fireMu.Unlock()

	count := p.count.Add(1)
	if err := p.trigger(count); err != nil {
		if p.errors.Add(1) == 1 {
			p.logger.WithError(err).Warn("trigger rejected", "seq", count)
		}
		return err
	}
	return nil
}

// Count returns the number of triggers delivered
func (p *Pulser) Count() uint32 {
	return p.count.Load()
}

// Errors returns the number of triggers the readout rejected
func (p *Pulser) Errors() uint64 {
	return p.errors.Load()
}

// ResetCount restarts trigger numbering for a new run
func (p *Pulser) ResetCount() {
	p.fireMu.Lock()
	defer p.fireMu.Unlock()
	p.count.Store(0)
	p.errors.Store(0)
}

// Start launches the pulse loop. It is a no-op in external mode or when
// already running.
func (p *Pulser) Start(ctx context.Context) {
	if p.cfg.Mode == PulserExternal {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.loop(ctx, p.done)
}

// Stop halts the pulse loop and waits for it to exit
func (p *Pulser) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
}

// Running reports whether the pulse loop is active
func (p *Pulser) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed when the pulse loop exits on its own or is stopped
func (p *Pulser) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

func (p *Pulser) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	release, err := sched.Pin(p.cfg.Sched)
	defer release()
	if err != nil {
		p.logger.WithError(err).Warn("trigger thread attributes not applied",
			"cpu", p.cfg.Sched.CPU, "nice", p.cfg.Sched.Nice)
	}

	rng := rand.New(rand.NewSource(p.cfg.Seed + 1))
	mean := time.Duration(float64(time.Second) / p.cfg.Rate)

	p.logger.Debug("pulser starting", "mode", p.cfg.Mode.String(), "rate", p.cfg.Rate)

	timer := time.NewTimer(p.interval(rng, mean))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("pulser stopping", "count", p.count.Load())
			return
		case <-timer.C:
		}

		_ = p.Fire()

		if p.cfg.Limit > 0 && p.count.Load() >= p.cfg.Limit {
			p.logger.Debug("pulser reached limit", "count", p.count.Load())
			return
		}
		timer.Reset(p.interval(rng, mean))
	}
}

func (p *Pulser) interval(rng *rand.Rand, mean time.Duration) time.Duration {
	if p.cfg.Mode == PulserRandom {
		return time.Duration(rng.ExpFloat64() * float64(mean))
	}
	return mean
}
