package ack

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, count int) *Coordinator {
	t.Helper()
	c, err := New(count, 64)
	require.NoError(t, err)
	return c
}

// fill acquires and enqueues n buffers without arming the availability wait
func fill(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		b, ok := c.Acquire(uint32(i + 1))
		require.True(t, ok)
		c.Enqueue(b, false)
	}
}

func TestEnqueue_ReportsEmpty(t *testing.T) {
	c := newTestCoordinator(t, 2)

	b, _ := c.Acquire(1)
	depth, empty := c.Enqueue(b, true)
	assert.Equal(t, 1, depth)
	assert.False(t, empty)
	assert.False(t, c.Stats().NeedAck)

	b, _ = c.Acquire(2)
	depth, empty = c.Enqueue(b, true)
	assert.Equal(t, 2, depth)
	assert.True(t, empty)
	assert.True(t, c.Stats().NeedAck)
}

func TestEnqueue_DisarmedDoesNotBlock(t *testing.T) {
	c := newTestCoordinator(t, 1)

	b, _ := c.Acquire(1)
	_, empty := c.Enqueue(b, false)
	assert.True(t, empty)
	assert.False(t, c.WaitForAvailability())
}

func TestAvailability_WokenByNextRelease(t *testing.T) {
	c := newTestCoordinator(t, 2)
	fill(t, c, 1)

	b, _ := c.Acquire(2)
	_, empty := c.Enqueue(b, true)
	require.True(t, empty)

	var woke atomic.Bool
	done := make(chan bool)
	go func() {
		waited := c.WaitForAvailability()
		woke.Store(true)
		done <- waited
	}()

	// Producer must stay asleep until a buffer comes back
	time.Sleep(20 * time.Millisecond)
	assert.False(t, woke.Load())

	got, ok := c.Dequeue()
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.Sequence)
	c.Release(got)

	select {
	case waited := <-done:
		assert.True(t, waited)
	case <-time.After(time.Second):
		t.Fatal("producer was not woken by release")
	}

	st := c.Stats()
	assert.False(t, st.NeedAck)
	assert.Equal(t, 1, st.Free)
	require.NoError(t, c.Check())
}

func TestAvailability_ReleaseBeforeWaitIsNotLost(t *testing.T) {
	c := newTestCoordinator(t, 1)

	b, _ := c.Acquire(1)
	_, empty := c.Enqueue(b, true)
	require.True(t, empty)

	// Consumer drains between the push and the wait
	got, _ := c.Dequeue()
	c.Release(got)

	done := make(chan struct{})
	go func() {
		c.WaitForAvailability()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait armed before the release never returned")
	}
}

func TestForceWake(t *testing.T) {
	c := newTestCoordinator(t, 1)

	b, _ := c.Acquire(1)
	_, empty := c.Enqueue(b, true)
	require.True(t, empty)

	done := make(chan struct{})
	go func() {
		c.WaitForAvailability()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.ForceWake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ForceWake did not release the waiting producer")
	}
	assert.Equal(t, 1, c.Stats().Ready)
}

func TestRelease_DrainedOnlyWhenEnding(t *testing.T) {
	c := newTestCoordinator(t, 4)
	fill(t, c, 2)

	b, _ := c.Dequeue()
	assert.False(t, c.Release(b), "not ending yet")

	c.BeginEnd()
	assert.True(t, c.Ending())

	b, _ = c.Dequeue()
	assert.True(t, c.Release(b))
}

func TestWaitForDrain_Success(t *testing.T) {
	c := newTestCoordinator(t, 10)
	fill(t, c, 3)
	c.BeginEnd()

	go func() {
		for {
			b, ok := c.Dequeue()
			if !ok {
				return
			}
			time.Sleep(5 * time.Millisecond)
			if c.Release(b) {
				c.SignalDrain()
			}
		}
	}()

	start := time.Now()
	incomplete := c.WaitForDrain(context.Background(), 2*time.Second, 10*time.Millisecond, func() bool { return false })
	assert.False(t, incomplete)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 10, c.Stats().Free)
}

func TestWaitForDrain_PendingClearsAfterLastRelease(t *testing.T) {
	c := newTestCoordinator(t, 2)
	c.BeginEnd()

	var pending atomic.Bool
	pending.Store(true)
	time.AfterFunc(30*time.Millisecond, func() { pending.Store(false) })

	incomplete := c.WaitForDrain(context.Background(), time.Second, 5*time.Millisecond, pending.Load)
	assert.False(t, incomplete)
}

func TestWaitForDrain_Timeout(t *testing.T) {
	c := newTestCoordinator(t, 4)
	fill(t, c, 2)
	c.BeginEnd()

	start := time.Now()
	incomplete := c.WaitForDrain(context.Background(), 50*time.Millisecond, 10*time.Millisecond, nil)
	elapsed := time.Since(start)

	assert.True(t, incomplete)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, 2, c.Stats().Ready)
}

func TestWaitForDrain_PendingNeverClears(t *testing.T) {
	c := newTestCoordinator(t, 4)
	c.BeginEnd()

	incomplete := c.WaitForDrain(context.Background(), 30*time.Millisecond, 5*time.Millisecond, func() bool { return true })
	assert.True(t, incomplete)
}

func TestWaitForDrain_ContextCancel(t *testing.T) {
	c := newTestCoordinator(t, 4)
	fill(t, c, 1)
	c.BeginEnd()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	assert.True(t, c.WaitForDrain(ctx, time.Minute, time.Millisecond, nil))
}

func TestSignalDrain_IgnoredWhileQueued(t *testing.T) {
	c := newTestCoordinator(t, 4)
	fill(t, c, 1)
	c.BeginEnd()

	c.SignalDrain()
	assert.False(t, c.drainClosed)

	b, _ := c.Dequeue()
	c.Release(b)
	c.SignalDrain()
	c.SignalDrain()
	assert.True(t, c.drainClosed)
}

func TestResetRun(t *testing.T) {
	c := newTestCoordinator(t, 1)
	b, _ := c.Acquire(1)
	c.Enqueue(b, true)
	c.BeginEnd()

	c.ResetRun()
	st := c.Stats()
	assert.False(t, st.NeedAck)
	assert.False(t, st.Ending)
	assert.Equal(t, 1, c.Reclaim())
	assert.Equal(t, 1, c.Stats().Free)
	require.NoError(t, c.Check())
}
