package sink

import (
	"bufio"
	"io"
	"sync"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

// Writer appends each packaged event to an io.Writer through a buffer
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	bytes  uint64
	events uint64
}

// NewWriter creates a Writer. If w is an io.Closer it is closed by Close.
func NewWriter(w io.Writer, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	s := &Writer{w: bufio.NewWriterSize(w, bufferSize)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Emit implements interfaces.Sink
func (s *Writer) Emit(ev *interfaces.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(ev.Packaged)
	s.bytes += uint64(n)
	if err != nil {
		return err
	}
	s.events++
	return nil
}

// Flush implements interfaces.FlushingSink
func (s *Writer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the underlying writer
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Written returns the number of events and bytes written
func (s *Writer) Written() (events, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, s.bytes
}

var _ interfaces.FlushingSink = (*Writer)(nil)
