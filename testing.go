package readout

import (
	"encoding/binary"
	"sync"
	"time"
)

// MockHardware is a scriptable Hardware for testing.
//
// Each read consumes the next queued payload, or generates one of
// EventSize bytes carrying the read number when the queue is empty.
// Residual data is modelled as a counter: PendingData reports it, and both
// ReadInto and Flush consume one unit.
type MockHardware struct {
	mu sync.Mutex

	EventSize int

	payloads  [][]byte
	syncEvery int
	pending   int

	readErr     error
	enableErr   error
	disableErr  error
	initErr     error
	flushErr    error
	teardownErr error

	enabled bool

	readCalls     int
	enableCalls   int
	disableCalls  int
	initCalls     int
	flushCalls    int
	teardownCalls int
}

// NewMockHardware creates a mock producing eventSize-byte events
func NewMockHardware(eventSize int) *MockHardware {
	if eventSize < 4 {
		eventSize = 4
	}
	return &MockHardware{EventSize: eventSize}
}

// ReadInto implements the Hardware interface
func (m *MockHardware) ReadInto(p []byte) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if m.readErr != nil {
		return 0, false, m.readErr
	}

	var n int
	if len(m.payloads) > 0 {
		payload := m.payloads[0]
		m.payloads = m.payloads[1:]
		n = len(payload)
		copy(p, payload)
	} else {
		n = m.EventSize
		if len(p) >= 4 {
			binary.BigEndian.PutUint32(p, uint32(m.readCalls))
		}
	}

	if m.pending > 0 {
		m.pending--
	}

	sync := m.syncEvery > 0 && m.readCalls%m.syncEvery == 0
	return n, sync, nil
}

// PendingData implements the Hardware interface
func (m *MockHardware) PendingData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

// Enable implements the Hardware interface
func (m *MockHardware) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enableCalls++
	if m.enableErr != nil {
		return m.enableErr
	}
	m.enabled = true
	return nil
}

// Disable implements the Hardware interface
func (m *MockHardware) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disableCalls++
	m.enabled = false
	return m.disableErr
}

// Init implements the Initializer interface
func (m *MockHardware) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initCalls++
	return m.initErr
}

// Flush implements the Flusher interface
func (m *MockHardware) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushCalls++
	if m.flushErr != nil {
		return m.flushErr
	}
	if m.pending > 0 {
		m.pending--
	}
	return nil
}

// Teardown implements the TeardownHardware interface
func (m *MockHardware) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownCalls++
	return m.teardownErr
}

// Stats implements the StatHardware interface
func (m *MockHardware) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"enabled":  m.enabled,
		"pending":  m.pending,
		"reads":    m.readCalls,
		"flushes":  m.flushCalls,
		"queued":   len(m.payloads),
		"teardown": m.teardownCalls,
	}
}

// Testing utility methods

// QueuePayloads appends payloads returned by subsequent reads
func (m *MockHardware) QueuePayloads(payloads ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payloads {
		m.payloads = append(m.payloads, append([]byte(nil), p...))
	}
}

// SetPending sets the number of residual data units the hardware holds
func (m *MockHardware) SetPending(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = n
}

// SetSyncEvery marks every nth read as a sync-boundary event (0 disables)
func (m *MockHardware) SetSyncEvery(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncEvery = n
}

// SetReadError makes every subsequent read fail with err (nil clears it)
func (m *MockHardware) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetErrors sets the errors returned by the control methods
func (m *MockHardware) SetErrors(enable, disable, init, teardown error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enableErr = enable
	m.disableErr = disable
	m.initErr = init
	m.teardownErr = teardown
}

// IsEnabled returns true between a successful Enable and the next Disable
func (m *MockHardware) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// CallCounts returns the number of times each method has been called
func (m *MockHardware) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int{
		"read":     m.readCalls,
		"enable":   m.enableCalls,
		"disable":  m.disableCalls,
		"init":     m.initCalls,
		"flush":    m.flushCalls,
		"teardown": m.teardownCalls,
	}
}

// MemorySink records every emitted event in memory
type MemorySink struct {
	mu      sync.Mutex
	events  []Event
	err     error
	flushes int
	closed  bool
	delay   time.Duration
}

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements the Sink interface. Payload and Packaged are copied.
func (s *MemorySink) Emit(ev *Event) error {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	cp := *ev
	cp.Payload = append([]byte(nil), ev.Payload...)
	cp.Packaged = append([]byte(nil), ev.Packaged...)
	s.events = append(s.events, cp)
	return nil
}

// Flush implements the FlushingSink interface
func (s *MemorySink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Close marks the sink closed
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetError makes every subsequent Emit fail with err (nil clears it)
func (s *MemorySink) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetDelay makes every subsequent Emit take at least d
func (s *MemorySink) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Events returns a copy of the recorded events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Len returns the number of recorded events
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Sequences returns the trigger sequence of every recorded event in order
func (s *MemorySink) Sequences() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs := make([]uint32, len(s.events))
	for i, ev := range s.events {
		seqs[i] = ev.Sequence
	}
	return seqs
}

// Flushes returns the number of Flush calls
func (s *MemorySink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// IsClosed returns true once Close has been called
func (s *MemorySink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Compile-time interface checks
var (
	_ Hardware         = (*MockHardware)(nil)
	_ Initializer      = (*MockHardware)(nil)
	_ Flusher          = (*MockHardware)(nil)
	_ TeardownHardware = (*MockHardware)(nil)
	_ StatHardware     = (*MockHardware)(nil)
	_ FlushingSink     = (*MemorySink)(nil)
)
