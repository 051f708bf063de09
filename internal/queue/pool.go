package queue

import "sync"

// Scratch buffers for packaging events on the dispatch path.
// Size-bucketed pools with power-of-2 sizes (4KB, 16KB, 128KB, 1MB) keep
// the per-event allocation off the hot path; requests above 1MB are
// allocated directly and never pooled.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size128k = 128 * 1024
	size1m   = 1024 * 1024
)

var scratchPool = struct {
	pool4k   sync.Pool
	pool16k  sync.Pool
	pool128k sync.Pool
	pool1m   sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetBuffer returns a buffer of length size, pooled when size <= 1MB.
// Caller must call PutBuffer when done.
func GetBuffer(size int) []byte {
	switch {
	case size <= size4k:
		return (*scratchPool.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*scratchPool.pool16k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*scratchPool.pool128k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*scratchPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		scratchPool.pool4k.Put(&buf)
	case size16k:
		scratchPool.pool16k.Put(&buf)
	case size128k:
		scratchPool.pool128k.Put(&buf)
	case size1m:
		scratchPool.pool1m.Put(&buf)
		// Buffers with non-standard capacity are not returned to pool
	}
}
