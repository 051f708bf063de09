package readout

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-readout/internal/logging"
)

func newTestReadout(t *testing.T, mutate func(*Params), options *Options) (*Readout, *MockHardware, *MemorySink) {
	t.Helper()

	hw := NewMockHardware(64)
	sink := NewMemorySink()
	params := DefaultParams(hw, sink)
	params.BufferSize = 256
	params.DrainTimeout = 2 * time.Second
	params.DrainPollInterval = time.Millisecond
	if mutate != nil {
		mutate(&params)
	}

	if options == nil {
		options = &Options{}
	}
	if options.Logger == nil {
		options.Logger = logging.Nop()
	}

	r, err := New(context.Background(), params, options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, hw, sink
}

// startRun drives a fresh readout to Active for run
func startRun(t *testing.T, r *Readout, run int) {
	t.Helper()
	require.NoError(t, r.Download())
	require.NoError(t, r.Prestart(run))
	require.NoError(t, r.Go())
	require.Equal(t, StateActive, r.State())
}

func seqRange(first, last uint32) []uint32 {
	var out []uint32
	for i := first; i <= last; i++ {
		out = append(out, i)
	}
	return out
}

func TestDefaultParams(t *testing.T) {
	hw := NewMockHardware(16)
	params := DefaultParams(hw, NewMemorySink())

	assert.Equal(t, DefaultPoolSize, params.PoolSize)
	assert.Equal(t, DefaultBufferSize, params.BufferSize)
	assert.Equal(t, DefaultDrainTimeout, params.DrainTimeout)
	assert.Equal(t, DefaultMaxFlushRetries, params.MaxFlushRetries)
	assert.True(t, params.BlockOnEmpty)
	assert.NoError(t, params.Validate())
}

func TestNew_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"no hardware", func(p *Params) { p.Hardware = nil }},
		{"no sink", func(p *Params) { p.Sink = nil }},
		{"zero pool", func(p *Params) { p.PoolSize = 0 }},
		{"huge pool", func(p *Params) { p.PoolSize = MaxPoolSize + 1 }},
		{"zero buffer", func(p *Params) { p.BufferSize = 0 }},
		{"huge buffer", func(p *Params) { p.BufferSize = MaxBufferSize + 1 }},
		{"no drain timeout", func(p *Params) { p.DrainTimeout = 0 }},
		{"negative retries", func(p *Params) { p.MaxFlushRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultParams(NewMockHardware(16), NewMemorySink())
			tt.mutate(&params)

			r, err := New(context.Background(), params, &Options{Logger: logging.Nop()})
			assert.Nil(t, r)
			assert.True(t, IsCode(err, ErrCodeInvalidParameters), "got %v", err)
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	r, _, _ := newTestReadout(t, nil, nil)

	err := r.Go()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeIllegalTransition))
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StateUnloaded, r.State())

	_, err = r.End()
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, r.Download())
	assert.ErrorIs(t, r.Pause(), ErrIllegalTransition)
	assert.ErrorIs(t, r.Resume(), ErrIllegalTransition)
	assert.Equal(t, StateDownloaded, r.State())

	require.NoError(t, r.Prestart(1))
	assert.ErrorIs(t, r.Prestart(2), ErrIllegalTransition)
	assert.Equal(t, 1, r.Run())
}

func TestFullRun(t *testing.T) {
	r, hw, sink := newTestReadout(t, func(p *Params) { p.RunType = "physics" }, nil)
	startRun(t, r, 42)
	assert.True(t, hw.IsEnabled())

	for i := uint32(1); i <= 50; i++ {
		require.NoError(t, r.Trigger(i))
	}

	report, err := r.End()
	require.NoError(t, err)
	assert.Equal(t, StateEnded, r.State())
	assert.False(t, report.DrainIncomplete)
	assert.Equal(t, uint64(50), report.Events)
	assert.Equal(t, uint64(0), report.Lost)

	assert.Equal(t, seqRange(1, 50), sink.Sequences())
	for _, ev := range sink.Events() {
		assert.Equal(t, 42, ev.Run)
		assert.Equal(t, r.RunID(), ev.RunID)
		assert.Equal(t, 64, ev.Length)
	}

	calls := hw.CallCounts()
	assert.Equal(t, 1, calls["init"])
	assert.Equal(t, 1, calls["enable"])
	assert.Equal(t, 1, calls["disable"])
	assert.Equal(t, 1, calls["teardown"])
	assert.Equal(t, 1, sink.Flushes())
	assert.False(t, hw.IsEnabled())

	info := r.Info()
	assert.Equal(t, DefaultPoolSize, info.FreeBuffers)
	assert.Equal(t, 0, info.ReadyEvents)
	assert.Equal(t, "physics", info.RunType)
	assert.Equal(t, 50, info.Hardware["reads"])

	snap := r.MetricsSnapshot()
	assert.Equal(t, uint64(50), snap.Triggers)
	assert.Equal(t, uint64(50), snap.Emitted)
	assert.Equal(t, uint64(1), snap.Drains)
}

// Ten buffers, dispatching paused, twelve triggers without backpressure:
// ten events queue, two triggers are exhausted and lost.
func TestExhaustionTenBuffersTwelveTriggers(t *testing.T) {
	r, _, sink := newTestReadout(t, func(p *Params) {
		p.PoolSize = 10
		p.BlockOnEmpty = false
	}, nil)
	startRun(t, r, 1)
	require.NoError(t, r.Pause())

	var exhausted []uint32
	for i := uint32(1); i <= 12; i++ {
		err := r.Trigger(i)
		if err != nil {
			require.True(t, IsCode(err, ErrCodeExhausted), "trigger %d: %v", i, err)
			exhausted = append(exhausted, i)
		}
	}

	assert.Equal(t, []uint32{11, 12}, exhausted)

	snap := r.MetricsSnapshot()
	assert.Equal(t, uint64(12), snap.Triggers)
	assert.Equal(t, uint64(10), snap.Produced)
	assert.Equal(t, uint64(2), snap.Exhausted)
	assert.Equal(t, uint64(2), snap.Lost)
	assert.Equal(t, uint64(1), snap.Empty)

	info := r.Info()
	assert.Equal(t, 0, info.FreeBuffers)
	assert.Equal(t, 10, info.ReadyEvents)

	require.NoError(t, r.Resume())
	require.Eventually(t, func() bool { return sink.Len() == 10 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, seqRange(1, 10), sink.Sequences())
}

// Three events queued while paused are all dispatched by End
func TestEndDrainsQueuedEvents(t *testing.T) {
	r, _, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 3)
	require.NoError(t, r.Pause())

	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, r.Trigger(i))
	}
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 3, r.Info().ReadyEvents)

	report, err := r.End()
	require.NoError(t, err)
	assert.False(t, report.DrainIncomplete)
	assert.Equal(t, uint64(3), report.Drained)
	assert.Equal(t, []uint32{1, 2, 3}, sink.Sequences())
	assert.Equal(t, StateEnded, r.State())

	// Triggers after the end are rejected and counted lost
	err = r.Trigger(4)
	assert.True(t, IsCode(err, ErrCodeNotRunning))
	assert.Equal(t, uint64(1), r.MetricsSnapshot().Lost)
}

func TestEndDrainTimeout(t *testing.T) {
	r, hw, _ := newTestReadout(t, func(p *Params) {
		p.DrainTimeout = 50 * time.Millisecond
	}, nil)
	startRun(t, r, 9)

	require.NoError(t, r.Trigger(1))
	hw.SetPending(1)

	start := time.Now()
	report, err := r.End()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	assert.True(t, report.DrainIncomplete)
	assert.Equal(t, StateEnded, r.State())
	assert.Equal(t, uint64(1), r.MetricsSnapshot().DrainTimeouts)
	assert.Equal(t, 1, hw.CallCounts()["teardown"], "teardown runs even when the drain times out")
}

// Three queued events with residual hardware data that clears later: End
// waits for both the queue and the hardware before reporting a full drain
func TestEndDrainsWhilePendingDataClears(t *testing.T) {
	r, hw, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 4)
	require.NoError(t, r.Pause())

	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, r.Trigger(i))
	}
	hw.SetPending(1)
	clearPending := time.AfterFunc(30*time.Millisecond, func() { hw.SetPending(0) })
	defer clearPending.Stop()

	start := time.Now()
	report, err := r.End()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	assert.False(t, report.DrainIncomplete)
	assert.Equal(t, uint64(3), report.Drained)
	assert.Equal(t, []uint32{1, 2, 3}, sink.Sequences())
	assert.Equal(t, StateEnded, r.State())
}

func TestEndDrainTimeoutSlowConsumer(t *testing.T) {
	r, hw, sink := newTestReadout(t, func(p *Params) {
		p.DrainTimeout = 20 * time.Millisecond
	}, nil)
	startRun(t, r, 5)
	require.NoError(t, r.Pause())

	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, r.Trigger(i))
	}
	sink.SetDelay(100 * time.Millisecond)

	report, err := r.End()
	require.NoError(t, err)
	assert.True(t, report.DrainIncomplete)
	assert.Equal(t, StateEnded, r.State())
	assert.Equal(t, uint64(1), r.MetricsSnapshot().DrainTimeouts)
	assert.Equal(t, 1, hw.CallCounts()["teardown"])
}

// Reset stops after the event being emitted and discards the rest
func TestResetDiscardsQueuedEvents(t *testing.T) {
	r, _, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 6)
	require.NoError(t, r.Pause())

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, r.Trigger(i))
	}
	sink.SetDelay(50 * time.Millisecond)
	require.NoError(t, r.Resume())

	start := time.Now()
	require.NoError(t, r.Reset())
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	assert.LessOrEqual(t, sink.Len(), 1)

	info := r.Info()
	assert.Equal(t, DefaultPoolSize, info.FreeBuffers)
	assert.Equal(t, 0, info.ReadyEvents)
}

// Events left by a timed out drain are discarded by the next Prestart, not
// emitted into the new run
func TestPrestartDiscardsEventsLeftByDrainTimeout(t *testing.T) {
	r, _, sink := newTestReadout(t, func(p *Params) {
		p.DrainTimeout = 20 * time.Millisecond
	}, nil)
	startRun(t, r, 1)
	require.NoError(t, r.Pause())

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, r.Trigger(i))
	}
	sink.SetDelay(100 * time.Millisecond)

	report, err := r.End()
	require.NoError(t, err)
	require.True(t, report.DrainIncomplete)

	start := time.Now()
	require.NoError(t, r.Prestart(2))
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	emitted := sink.Len()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, emitted, sink.Len(), "no run 1 events emitted after Prestart")
	assert.Less(t, emitted, 5)

	info := r.Info()
	assert.Equal(t, DefaultPoolSize, info.FreeBuffers)
	assert.Equal(t, 0, info.ReadyEvents)
}

func TestBackpressureBlocksUntilResume(t *testing.T) {
	r, _, sink := newTestReadout(t, func(p *Params) { p.PoolSize = 2 }, nil)
	startRun(t, r, 1)
	require.NoError(t, r.Pause())

	require.NoError(t, r.Trigger(1))

	done := make(chan error, 1)
	go func() { done <- r.Trigger(2) }()

	select {
	case <-done:
		t.Fatal("trigger returned while the pool was empty and dispatching paused")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, r.Resume())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger not released after resume")
	}

	require.Eventually(t, func() bool { return sink.Len() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []uint32{1, 2}, sink.Sequences())
}

func TestResetReleasesBlockedTrigger(t *testing.T) {
	r, _, _ := newTestReadout(t, func(p *Params) { p.PoolSize = 1 }, nil)
	startRun(t, r, 1)
	require.NoError(t, r.Pause())

	done := make(chan error, 1)
	go func() { done <- r.Trigger(1) }()

	require.Eventually(t, func() bool { return r.Info().ReadyEvents == 1 }, time.Second, time.Millisecond)
	require.NoError(t, r.Reset())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Reset did not wake the blocked trigger")
	}

	// Triggers after Reset never reach the pool
	assert.True(t, IsCode(r.Trigger(2), ErrCodeNotRunning))

	info := r.Info()
	assert.Equal(t, StateUnloaded, info.State)
	assert.Equal(t, 1, info.FreeBuffers)
	assert.Equal(t, 0, info.ReadyEvents)
	assert.False(t, info.Dispatching)
}

func TestResetIsIdempotent(t *testing.T) {
	r, hw, _ := newTestReadout(t, nil, nil)

	require.NoError(t, r.Reset())
	require.NoError(t, r.Reset())
	assert.Equal(t, StateUnloaded, r.State())
	assert.Equal(t, 0, hw.CallCounts()["disable"], "nothing to disable before Download")

	startRun(t, r, 1)
	require.NoError(t, r.Pause())
	for i := uint32(1); i <= 4; i++ {
		require.NoError(t, r.Trigger(i))
	}

	require.NoError(t, r.Reset())
	first := r.Info()
	require.NoError(t, r.Reset())
	second := r.Info()

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.FreeBuffers, second.FreeBuffers)
	assert.Equal(t, DefaultPoolSize, second.FreeBuffers)
	assert.Equal(t, 0, second.ReadyEvents)

	// The readout is usable again after Reset
	startRun(t, r, 2)
	require.NoError(t, r.Trigger(1))
	_, err := r.End()
	require.NoError(t, err)
}

func TestCountersResetOnGo(t *testing.T) {
	r, _, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 1)
	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, r.Trigger(i))
	}
	_, err := r.End()
	require.NoError(t, err)
	firstID := r.RunID()

	require.NoError(t, r.Prestart(2))
	assert.Equal(t, uint64(5), r.MetricsSnapshot().Triggers, "counters survive until Go")
	assert.NotEqual(t, firstID, r.RunID())

	require.NoError(t, r.Go())
	assert.Equal(t, uint64(0), r.MetricsSnapshot().Triggers)

	require.NoError(t, r.Trigger(1))
	_, err = r.End()
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 6)
	assert.Equal(t, 2, events[5].Run)
	assert.Equal(t, uint32(1), events[5].Sequence)
}

func TestPauseResumeKeepsCounters(t *testing.T) {
	r, _, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 1)

	require.NoError(t, r.Trigger(1))
	require.NoError(t, r.Pause())
	require.NoError(t, r.Trigger(2))
	require.NoError(t, r.Resume())
	require.NoError(t, r.Trigger(3))

	require.Eventually(t, func() bool { return sink.Len() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), r.MetricsSnapshot().Triggers)
}

func TestTriggerReadErrorReleasesBuffer(t *testing.T) {
	r, hw, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 1)

	busErr := errors.New("bus error")
	hw.SetReadError(busErr)
	err := r.Trigger(1)
	assert.True(t, IsCode(err, ErrCodeHardwareRead))
	assert.ErrorIs(t, err, busErr)

	hw.SetReadError(nil)
	require.NoError(t, r.Trigger(2))

	_, err = r.End()
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, sink.Sequences())

	snap := r.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.ReadErrors)
	assert.Equal(t, uint64(1), snap.Lost)
	assert.Equal(t, DefaultPoolSize, r.Info().FreeBuffers)
}

func TestOverflowTruncates(t *testing.T) {
	r, hw, sink := newTestReadout(t, func(p *Params) { p.BufferSize = 16 }, nil)
	startRun(t, r, 1)

	hw.QueuePayloads(make([]byte, 100))
	require.NoError(t, r.Trigger(1))
	_, err := r.End()
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 16, events[0].Length)
	assert.Equal(t, uint64(1), r.MetricsSnapshot().Overflows)
}

func TestSyncEventFlushesResidualData(t *testing.T) {
	r, hw, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 1)

	hw.SetSyncEvery(2)
	require.NoError(t, r.Trigger(1))
	hw.SetPending(4)
	require.NoError(t, r.Trigger(2))
	assert.False(t, hw.PendingData())

	_, err := r.End()
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.False(t, events[0].Sync)
	assert.True(t, events[1].Sync)

	snap := r.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.SyncEvents)
	assert.Equal(t, uint64(0), snap.SyncFlushFailures)
	// The read consumed one unit, the flushes the other three
	assert.Equal(t, 3, hw.CallCounts()["flush"])
}

func TestEmitErrorsAreCounted(t *testing.T) {
	r, _, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 1)
	sink.SetError(errors.New("broker down"))

	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, r.Trigger(i))
	}
	report, err := r.End()
	require.NoError(t, err)
	assert.False(t, report.DrainIncomplete)

	snap := r.MetricsSnapshot()
	assert.Equal(t, uint64(3), snap.EmitErrors)
	assert.Equal(t, uint64(0), snap.Emitted)
	assert.Equal(t, DefaultPoolSize, r.Info().FreeBuffers)
}

type lengthPackager struct{}

func (lengthPackager) Package(dst []byte, ev *Event) ([]byte, error) {
	dst = binary.BigEndian.AppendUint32(dst, uint32(ev.Length))
	return append(dst, ev.Payload...), nil
}

func TestPackagerAndObserverOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := NewPrometheusObserver(reg, "")

	r, _, sink := newTestReadout(t, nil, &Options{
		Observer: prom,
		Packager: lengthPackager{},
	})
	startRun(t, r, 1)
	require.NoError(t, r.Trigger(1))
	_, err := r.End()
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	require.Len(t, events[0].Packaged, 68)
	assert.Equal(t, uint32(64), binary.BigEndian.Uint32(events[0].Packaged))

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Triggers))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Emits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Drains.WithLabelValues("complete")))
	assert.Equal(t, uint64(1), r.MetricsSnapshot().Emitted)
}

func TestGoEnableFailureRestoresState(t *testing.T) {
	r, hw, _ := newTestReadout(t, nil, nil)
	require.NoError(t, r.Download())
	require.NoError(t, r.Prestart(1))

	hw.SetErrors(errors.New("no clock"), nil, nil, nil)
	err := r.Go()
	assert.True(t, IsCode(err, ErrCodeHardware))
	assert.Equal(t, StatePrestarted, r.State())

	hw.SetErrors(nil, nil, nil, nil)
	require.NoError(t, r.Go())
	assert.Equal(t, StateActive, r.State())
}

func TestEndTeardownFailureStillEnds(t *testing.T) {
	r, hw, _ := newTestReadout(t, nil, nil)
	startRun(t, r, 1)

	hw.SetErrors(nil, nil, nil, errors.New("bus release failed"))
	_, err := r.End()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeHardware))
	assert.Equal(t, StateEnded, r.State())
}

func TestDownloadInitFailure(t *testing.T) {
	r, hw, _ := newTestReadout(t, nil, nil)

	hw.SetErrors(nil, nil, errors.New("firmware missing"), nil)
	require.Error(t, r.Download())
	assert.Equal(t, StateUnloaded, r.State())
}

func TestNewRunAfterEnd(t *testing.T) {
	r, _, sink := newTestReadout(t, nil, nil)

	for run := 1; run <= 3; run++ {
		if run == 1 {
			require.NoError(t, r.Download())
		}
		require.NoError(t, r.Prestart(run))
		require.NoError(t, r.Go())
		for i := uint32(1); i <= 4; i++ {
			require.NoError(t, r.Trigger(i))
		}
		_, err := r.End()
		require.NoError(t, err)
	}

	assert.Equal(t, 12, sink.Len())
}

func TestClose(t *testing.T) {
	r, hw, sink := newTestReadout(t, nil, nil)
	startRun(t, r, 1)

	require.NoError(t, r.Close())
	assert.True(t, sink.IsClosed())
	assert.False(t, hw.IsEnabled())
	assert.Equal(t, StateUnloaded, r.State())

	err := r.Download()
	assert.True(t, IsCode(err, ErrCodeClosed))

	// Close is idempotent
	require.NoError(t, r.Close())
}
