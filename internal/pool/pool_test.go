package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidArgs(t *testing.T) {
	tests := []struct {
		name  string
		count int
		size  int
	}{
		{"zero count", 0, 64},
		{"negative count", -1, 64},
		{"zero size", 4, 0},
		{"negative size", 4, -8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.count, tt.size)
			if err == nil {
				t.Errorf("New(%d, %d) should fail", tt.count, tt.size)
			}
			if p != nil {
				t.Errorf("New(%d, %d) returned non-nil pool on error", tt.count, tt.size)
			}
		})
	}
}

func TestNew_AllFree(t *testing.T) {
	p, err := New(10, 1024)
	require.NoError(t, err)

	assert.Equal(t, 10, p.Capacity())
	assert.Equal(t, 10, p.FreeCount())
	assert.Equal(t, 0, p.ReadyCount())
	assert.Equal(t, 0, p.InFlight())
	assert.Equal(t, 1024, p.BufferSize())
	require.NoError(t, p.Check())
}

func TestBuffers_DoNotOverlap(t *testing.T) {
	p, err := New(4, 16)
	require.NoError(t, err)

	bufs := make([]*Buffer, 0, 4)
	for i := 0; i < 4; i++ {
		b, ok := p.Acquire(uint32(i))
		require.True(t, ok)
		require.Equal(t, 16, b.Cap())
		for j := range b.Data() {
			b.Data()[j] = byte(i)
		}
		bufs = append(bufs, b)
	}

	for i, b := range bufs {
		for _, v := range b.Data() {
			if v != byte(i) {
				t.Fatalf("buffer %d was overwritten by another buffer", i)
			}
		}
	}

	// Appending past capacity must not spill into the neighbour
	grown := append(bufs[0].Data(), 0xFF)
	grown[0] = 0xEE
	assert.Equal(t, byte(0), bufs[0].Data()[0])
	assert.Equal(t, byte(1), bufs[1].Data()[0])
}

func TestAcquire_Exhaustion(t *testing.T) {
	p, err := New(3, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b, ok := p.Acquire(uint32(i + 1))
		require.True(t, ok)
		assert.Equal(t, StateFilling, b.State())
		assert.Equal(t, uint32(i+1), b.Sequence)
	}

	b, ok := p.Acquire(4)
	assert.False(t, ok)
	assert.Nil(t, b)
	assert.Equal(t, 3, p.InFlight())
	require.NoError(t, p.Check())
}

func TestAcquire_ResetsFields(t *testing.T) {
	p, err := New(1, 8)
	require.NoError(t, err)

	b, _ := p.Acquire(1)
	b.Length = 5
	b.Sync = true
	p.Push(b)
	b, _ = p.Pop()
	p.Release(b)

	b, ok := p.Acquire(2)
	require.True(t, ok)
	assert.Equal(t, 0, b.Length)
	assert.False(t, b.Sync)
	assert.Equal(t, uint32(2), b.Sequence)
}

func TestReadyQueue_FIFO(t *testing.T) {
	p, err := New(8, 8)
	require.NoError(t, err)

	for seq := uint32(1); seq <= 8; seq++ {
		b, ok := p.Acquire(seq)
		require.True(t, ok)
		p.Push(b)
	}
	assert.Equal(t, 8, p.ReadyCount())

	for want := uint32(1); want <= 8; want++ {
		b, ok := p.Pop()
		require.True(t, ok)
		assert.Equal(t, want, b.Sequence)
		assert.Equal(t, StateDraining, b.State())
		p.Release(b)
	}

	_, ok := p.Pop()
	assert.False(t, ok)
	require.NoError(t, p.Check())
}

func TestReadyQueue_InterleavedFIFO(t *testing.T) {
	p, err := New(3, 8)
	require.NoError(t, err)

	var next uint32 = 1
	var expect uint32 = 1
	for round := 0; round < 50; round++ {
		for {
			b, ok := p.Acquire(next)
			if !ok {
				break
			}
			next++
			p.Push(b)
		}
		b, ok := p.Pop()
		require.True(t, ok)
		require.Equal(t, expect, b.Sequence, "round %d", round)
		expect++
		p.Release(b)
	}
}

func TestRelease_FromFilling(t *testing.T) {
	p, err := New(2, 8)
	require.NoError(t, err)

	b, _ := p.Acquire(1)
	b.Length = 4
	p.Release(b)

	assert.Equal(t, StateFree, b.State())
	assert.Equal(t, 0, b.Length)
	assert.Equal(t, 2, p.FreeCount())
	require.NoError(t, p.Check())
}

func TestReclaim(t *testing.T) {
	p, err := New(5, 8)
	require.NoError(t, err)

	for seq := uint32(1); seq <= 4; seq++ {
		b, _ := p.Acquire(seq)
		p.Push(b)
	}
	draining, _ := p.Pop()

	n := p.Reclaim()
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, p.ReadyCount())
	assert.Equal(t, 4, p.FreeCount())
	assert.Equal(t, 1, p.InFlight())
	assert.Equal(t, StateDraining, draining.State())
	require.NoError(t, p.Check())

	// Idempotent
	assert.Equal(t, 0, p.Reclaim())
	require.NoError(t, p.Check())
}

func TestCheck_DetectsCorruption(t *testing.T) {
	p, err := New(2, 8)
	require.NoError(t, err)

	p.buffers[0].state = StateReady
	assert.Error(t, p.Check())
}

func TestAccountingInvariant_RandomOps(t *testing.T) {
	p, err := New(10, 32)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	var filling, draining []*Buffer
	var seq uint32

	for i := 0; i < 5000; i++ {
		switch rng.Intn(5) {
		case 0:
			seq++
			if b, ok := p.Acquire(seq); ok {
				filling = append(filling, b)
			}
		case 1:
			if len(filling) > 0 {
				p.Push(filling[0])
				filling = filling[1:]
			}
		case 2:
			if b, ok := p.Pop(); ok {
				draining = append(draining, b)
			}
		case 3:
			if len(draining) > 0 {
				p.Release(draining[0])
				draining = draining[1:]
			}
		case 4:
			if len(filling) > 0 {
				p.Release(filling[len(filling)-1])
				filling = filling[:len(filling)-1]
			}
		}

		if err := p.Check(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		if got := len(filling) + len(draining); got != p.InFlight() {
			t.Fatalf("op %d: tracked %d in flight, pool says %d", i, got, p.InFlight())
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateFree, "free"},
		{StateFilling, "filling"},
		{StateReady, "ready"},
		{StateDraining, "draining"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func BenchmarkAcquirePushPopRelease(b *testing.B) {
	p, _ := New(16, 64)
	for i := 0; i < b.N; i++ {
		buf, _ := p.Acquire(uint32(i))
		p.Push(buf)
		buf, _ = p.Pop()
		p.Release(buf)
	}
}
