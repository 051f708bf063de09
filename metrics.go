package readout

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the emit latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-run readout statistics
type Metrics struct {
	// Trigger path
	Triggers      atomic.Uint64 // Triggers delivered to the producer
	Produced      atomic.Uint64 // Buffers pushed to the ready queue
	ProducedBytes atomic.Uint64 // Payload bytes pushed
	SyncEvents    atomic.Uint64 // Sync-boundary events produced

	// Dispatch path
	Emitted      atomic.Uint64 // Events accepted by the sink
	EmittedBytes atomic.Uint64 // Packaged bytes accepted by the sink

	// Loss and pressure counters
	Exhausted atomic.Uint64 // Triggers that found no free buffer
	Lost      atomic.Uint64 // Triggers whose data was dropped
	Empty     atomic.Uint64 // Pushes that left the free pool empty
	Overflows atomic.Uint64 // Events truncated to buffer capacity

	// Error counters
	ReadErrors        atomic.Uint64 // Failed hardware reads
	EmitErrors        atomic.Uint64 // Failed packaging or emission
	SyncFlushFailures atomic.Uint64 // Residual data left after a sync event

	// End-of-run drain
	Drains        atomic.Uint64 // End transitions that waited for a drain
	DrainTimeouts atomic.Uint64 // Drains that hit the timeout

	// Queue statistics
	QueueDepthTotal atomic.Uint64 // Cumulative ready-queue depth samples
	QueueDepthCount atomic.Uint64 // Number of depth samples
	MaxQueueDepth   atomic.Uint32 // Maximum observed ready-queue depth

	// Emit latency
	TotalLatencyNs atomic.Uint64 // Cumulative emit latency in nanoseconds
	EmitCount      atomic.Uint64 // Emission attempts with a latency sample

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of emits with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Run lifecycle
	StartTime atomic.Int64 // Run start timestamp (UnixNano)
	StopTime  atomic.Int64 // Run stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordTrigger records a trigger delivered to the producer
func (m *Metrics) RecordTrigger() {
	m.Triggers.Add(1)
}

// RecordProduced records a buffer pushed to the ready queue
func (m *Metrics) RecordProduced(bytes uint64, sync bool) {
	m.Produced.Add(1)
	m.ProducedBytes.Add(bytes)
	if sync {
		m.SyncEvents.Add(1)
	}
}

// RecordEmit records an emission attempt
func (m *Metrics) RecordEmit(bytes uint64, latencyNs uint64, success bool) {
	if success {
		m.Emitted.Add(1)
		m.EmittedBytes.Add(bytes)
	} else {
		m.EmitErrors.Add(1)
	}
	if latencyNs > 0 {
		m.recordLatency(latencyNs)
	}
}

// RecordDrain records the outcome of an end-of-run drain
func (m *Metrics) RecordDrain(timedOut bool) {
	m.Drains.Add(1)
	if timedOut {
		m.DrainTimeouts.Add(1)
	}
}

// RecordQueueDepth records current ready-queue depth for statistics
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	// Update max queue depth atomically
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records emit latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.EmitCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the run as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	Triggers      uint64
	Produced      uint64
	ProducedBytes uint64
	SyncEvents    uint64

	Emitted      uint64
	EmittedBytes uint64

	Exhausted uint64
	Lost      uint64
	Empty     uint64
	Overflows uint64

	ReadErrors        uint64
	EmitErrors        uint64
	SyncFlushFailures uint64

	Drains        uint64
	DrainTimeouts uint64

	// Queue statistics
	AvgQueueDepth float64
	MaxQueueDepth uint32

	// Emit latency
	AvgLatencyNs  uint64
	LatencyP50Ns  uint64 // 50th percentile (median)
	LatencyP99Ns  uint64 // 99th percentile
	LatencyP999Ns uint64 // 99.9th percentile

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	UptimeNs    uint64
	EventRate   float64 // Emitted events per second
	Bandwidth   float64 // Emitted bytes per second
	LossRate    float64 // Percentage of triggers lost
	ErrorRate   float64 // Percentage of emission attempts that failed
	TotalErrors uint64
	Outstanding uint64 // Produced but not yet emitted or failed
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Triggers:          m.Triggers.Load(),
		Produced:          m.Produced.Load(),
		ProducedBytes:     m.ProducedBytes.Load(),
		SyncEvents:        m.SyncEvents.Load(),
		Emitted:           m.Emitted.Load(),
		EmittedBytes:      m.EmittedBytes.Load(),
		Exhausted:         m.Exhausted.Load(),
		Lost:              m.Lost.Load(),
		Empty:             m.Empty.Load(),
		Overflows:         m.Overflows.Load(),
		ReadErrors:        m.ReadErrors.Load(),
		EmitErrors:        m.EmitErrors.Load(),
		SyncFlushFailures: m.SyncFlushFailures.Load(),
		Drains:            m.Drains.Load(),
		DrainTimeouts:     m.DrainTimeouts.Load(),
		MaxQueueDepth:     m.MaxQueueDepth.Load(),
	}

	snap.TotalErrors = snap.ReadErrors + snap.EmitErrors + snap.SyncFlushFailures
	if done := snap.Emitted + snap.EmitErrors; snap.Produced > done {
		snap.Outstanding = snap.Produced - done
	}

	// Calculate average queue depth
	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	// Calculate average latency
	totalLatencyNs := m.TotalLatencyNs.Load()
	emitCount := m.EmitCount.Load()
	if emitCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / emitCount
	}

	// Calculate uptime
	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.EventRate = float64(snap.Emitted) / uptimeSeconds
		snap.Bandwidth = float64(snap.EmittedBytes) / uptimeSeconds
	}

	if snap.Triggers > 0 {
		snap.LossRate = float64(snap.Lost) / float64(snap.Triggers) * 100.0
	}
	if attempts := snap.Emitted + snap.EmitErrors; attempts > 0 {
		snap.ErrorRate = float64(snap.EmitErrors) / float64(attempts) * 100.0
	}

	// Copy histogram bucket counts
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	// Calculate percentiles from histogram
	if emitCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.EmitCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	// Find the bucket containing the target percentile
	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// Latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter and restarts the run clock
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.Triggers, &m.Produced, &m.ProducedBytes, &m.SyncEvents,
		&m.Emitted, &m.EmittedBytes,
		&m.Exhausted, &m.Lost, &m.Empty, &m.Overflows,
		&m.ReadErrors, &m.EmitErrors, &m.SyncFlushFailures,
		&m.Drains, &m.DrainTimeouts,
		&m.QueueDepthTotal, &m.QueueDepthCount,
		&m.TotalLatencyNs, &m.EmitCount,
	} {
		c.Store(0)
	}
	m.MaxQueueDepth.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveTrigger()                  {}
func (NoOpObserver) ObserveProduced(uint64, bool)     {}
func (NoOpObserver) ObserveExhausted()                {}
func (NoOpObserver) ObserveLost()                     {}
func (NoOpObserver) ObserveEmpty()                    {}
func (NoOpObserver) ObserveOverflow()                 {}
func (NoOpObserver) ObserveReadError()                {}
func (NoOpObserver) ObserveSyncFlushFailure()         {}
func (NoOpObserver) ObserveEmit(uint64, uint64, bool) {}
func (NoOpObserver) ObserveDrain(bool)                {}
func (NoOpObserver) ObserveQueueDepth(uint32)         {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveTrigger() { o.metrics.RecordTrigger() }

func (o *MetricsObserver) ObserveProduced(bytes uint64, sync bool) {
	o.metrics.RecordProduced(bytes, sync)
}

func (o *MetricsObserver) ObserveExhausted()        { o.metrics.Exhausted.Add(1) }
func (o *MetricsObserver) ObserveLost()             { o.metrics.Lost.Add(1) }
func (o *MetricsObserver) ObserveEmpty()            { o.metrics.Empty.Add(1) }
func (o *MetricsObserver) ObserveOverflow()         { o.metrics.Overflows.Add(1) }
func (o *MetricsObserver) ObserveReadError()        { o.metrics.ReadErrors.Add(1) }
func (o *MetricsObserver) ObserveSyncFlushFailure() { o.metrics.SyncFlushFailures.Add(1) }

func (o *MetricsObserver) ObserveEmit(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordEmit(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveDrain(timedOut bool) {
	o.metrics.RecordDrain(timedOut)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

// MultiObserver fans every observation out to several observers
type MultiObserver []Observer

func (mo MultiObserver) ObserveTrigger() {
	for _, o := range mo {
		o.ObserveTrigger()
	}
}

func (mo MultiObserver) ObserveProduced(bytes uint64, sync bool) {
	for _, o := range mo {
		o.ObserveProduced(bytes, sync)
	}
}

func (mo MultiObserver) ObserveExhausted() {
	for _, o := range mo {
		o.ObserveExhausted()
	}
}

func (mo MultiObserver) ObserveLost() {
	for _, o := range mo {
		o.ObserveLost()
	}
}

func (mo MultiObserver) ObserveEmpty() {
	for _, o := range mo {
		o.ObserveEmpty()
	}
}

func (mo MultiObserver) ObserveOverflow() {
	for _, o := range mo {
		o.ObserveOverflow()
	}
}

func (mo MultiObserver) ObserveReadError() {
	for _, o := range mo {
		o.ObserveReadError()
	}
}

func (mo MultiObserver) ObserveSyncFlushFailure() {
	for _, o := range mo {
		o.ObserveSyncFlushFailure()
	}
}

func (mo MultiObserver) ObserveEmit(bytes uint64, latencyNs uint64, success bool) {
	for _, o := range mo {
		o.ObserveEmit(bytes, latencyNs, success)
	}
}

func (mo MultiObserver) ObserveDrain(timedOut bool) {
	for _, o := range mo {
		o.ObserveDrain(timedOut)
	}
}

func (mo MultiObserver) ObserveQueueDepth(depth uint32) {
	for _, o := range mo {
		o.ObserveQueueDepth(depth)
	}
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
var _ Observer = MultiObserver(nil)
