// Package hardware provides simulated trigger readout hardware and trigger
// sources for running a readout without a crate.
package hardware

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

// ErrNotInitialized is returned by Enable before Init
var ErrNotInitialized = errors.New("hardware: not initialized")

// SimConfig configures a simulated trigger interface
type SimConfig struct {
	// EventSize is the base event size in bytes, rounded up to 32-bit words
	EventSize int

	// SizeJitter adds up to this many random words to each event
	SizeJitter int

	// SyncEvery marks every nth event as a sync-boundary event (0 disables)
	SyncEvery int

	// ResidualAfterSync is the number of residual data units left pending
	// after each sync event, which the readout must flush
	ResidualAfterSync int

	// Seed seeds the size jitter; 0 uses a fixed seed
	Seed int64
}

// Sim is an in-memory trigger interface. Each read produces one event whose
// first word is the event number and whose remaining words are a pattern
// derived from it.
type Sim struct {
	mu  sync.Mutex
	cfg SimConfig
	rng *rand.Rand

	initialized bool
	enabled     bool

	events  uint64
	bytes   uint64
	pending int
	flushes uint64
	syncs   uint64
}

// NewSim creates a simulated trigger interface
func NewSim(cfg SimConfig) *Sim {
	if cfg.EventSize < 4 {
		cfg.EventSize = 4
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Sim{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Init implements interfaces.Initializer
func (s *Sim) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.enabled = false
	s.pending = 0
	return nil
}

// Enable implements interfaces.Hardware
func (s *Sim) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.enabled = true
	return nil
}

// Disable implements interfaces.Hardware
func (s *Sim) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	return nil
}

// Enabled reports whether triggers are armed
func (s *Sim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// ReadInto implements interfaces.Hardware
func (s *Sim) ReadInto(p []byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events++
	num := uint32(s.events)

	words := PaddedWords(s.cfg.EventSize)
	if s.cfg.SizeJitter > 0 {
		words += s.rng.Intn(s.cfg.SizeJitter + 1)
	}
	n := words * 4

	for i := 0; i < words && (i+1)*4 <= len(p); i++ {
		word := num
		if i > 0 {
			word = num ^ uint32(i)<<16
		}
		binary.BigEndian.PutUint32(p[i*4:], word)
	}
	s.bytes += uint64(n)

	if s.pending > 0 {
		s.pending--
	}

	boundary := s.cfg.SyncEvery > 0 && s.events%uint64(s.cfg.SyncEvery) == 0
	if boundary {
		s.syncs++
		s.pending = s.cfg.ResidualAfterSync
	}
	return n, boundary, nil
}

// PendingData implements interfaces.Hardware
func (s *Sim) PendingData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// Flush implements interfaces.Flusher
func (s *Sim) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushes++
	if s.pending > 0 {
		s.pending--
	}
	return nil
}

// Teardown implements interfaces.TeardownHardware
func (s *Sim) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = false
	s.pending = 0
	return nil
}

// Stats implements interfaces.StatHardware
func (s *Sim) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"type":    "sim",
		"events":  s.events,
		"bytes":   s.bytes,
		"syncs":   s.syncs,
		"flushes": s.flushes,
		"pending": s.pending,
		"enabled": s.enabled,
	}
}

// PaddedWords returns the number of 32-bit words needed to hold n bytes
func PaddedWords(n int) int {
	return (n + 3) / 4
}

// Compile-time interface checks
var (
	_ interfaces.Hardware         = (*Sim)(nil)
	_ interfaces.Initializer      = (*Sim)(nil)
	_ interfaces.Flusher          = (*Sim)(nil)
	_ interfaces.TeardownHardware = (*Sim)(nil)
	_ interfaces.StatHardware     = (*Sim)(nil)
)
