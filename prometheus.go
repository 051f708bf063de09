package readout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver exports readout observations as Prometheus metrics
type PrometheusObserver struct {
	Triggers          prometheus.Counter
	Produced          *prometheus.CounterVec
	ProducedBytes     prometheus.Counter
	Emits             *prometheus.CounterVec
	EmittedBytes      prometheus.Counter
	EmitDuration      prometheus.Histogram
	Lost              *prometheus.CounterVec
	Empty             prometheus.Counter
	Overflows         prometheus.Counter
	ReadErrors        prometheus.Counter
	SyncFlushFailures prometheus.Counter
	Drains            *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
}

// NewPrometheusObserver creates and registers the readout metrics with reg.
// Metric names are prefixed with namespace when it is non-empty.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) *PrometheusObserver {
	factory := promauto.With(reg)

	return &PrometheusObserver{
		Triggers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_triggers_total",
			Help:      "Total number of triggers delivered to the producer",
		}),
		Produced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_events_produced_total",
			Help:      "Total number of events pushed to the ready queue",
		}, []string{"kind"}),
		ProducedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_produced_bytes_total",
			Help:      "Total payload bytes read from the hardware",
		}),
		Emits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_events_emitted_total",
			Help:      "Total number of emission attempts",
		}, []string{"status"}),
		EmittedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_emitted_bytes_total",
			Help:      "Total packaged bytes accepted by the sink",
		}),
		EmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readout_emit_duration_seconds",
			Help:      "Latency of sink emission",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0, 10.0},
		}),
		Lost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_triggers_lost_total",
			Help:      "Total number of triggers whose data was dropped",
		}, []string{"reason"}),
		Empty: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_pool_empty_total",
			Help:      "Total number of pushes that left the free pool empty",
		}),
		Overflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_overflows_total",
			Help:      "Total number of events truncated to buffer capacity",
		}),
		ReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_read_errors_total",
			Help:      "Total number of failed hardware reads",
		}),
		SyncFlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_sync_flush_failures_total",
			Help:      "Total number of sync events followed by unflushable residual data",
		}),
		Drains: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_drains_total",
			Help:      "Total number of end-of-run drains",
		}, []string{"outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readout_ready_queue_depth",
			Help:      "Ready queue depth after the most recent push",
		}),
	}
}

func (p *PrometheusObserver) ObserveTrigger() {
	p.Triggers.Inc()
}

func (p *PrometheusObserver) ObserveProduced(bytes uint64, sync bool) {
	kind := "physics"
	if sync {
		kind = "sync"
	}
	p.Produced.WithLabelValues(kind).Inc()
	p.ProducedBytes.Add(float64(bytes))
}

// ObserveExhausted is counted through ObserveLost with the exhausted reason
func (p *PrometheusObserver) ObserveExhausted() {
	p.Lost.WithLabelValues("exhausted").Inc()
}

// ObserveLost counts every dropped trigger under the total reason
func (p *PrometheusObserver) ObserveLost() {
	p.Lost.WithLabelValues("total").Inc()
}

func (p *PrometheusObserver) ObserveEmpty() {
	p.Empty.Inc()
}

func (p *PrometheusObserver) ObserveOverflow() {
	p.Overflows.Inc()
}

func (p *PrometheusObserver) ObserveReadError() {
	p.ReadErrors.Inc()
}

func (p *PrometheusObserver) ObserveSyncFlushFailure() {
	p.SyncFlushFailures.Inc()
}

func (p *PrometheusObserver) ObserveEmit(bytes uint64, latencyNs uint64, success bool) {
	if success {
		p.Emits.WithLabelValues("success").Inc()
		p.EmittedBytes.Add(float64(bytes))
	} else {
		p.Emits.WithLabelValues("error").Inc()
	}
	if latencyNs > 0 {
		p.EmitDuration.Observe(float64(latencyNs) / 1e9)
	}
}

func (p *PrometheusObserver) ObserveDrain(timedOut bool) {
	if timedOut {
		p.Drains.WithLabelValues("timeout").Inc()
	} else {
		p.Drains.WithLabelValues("complete").Inc()
	}
}

func (p *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	p.QueueDepth.Set(float64(depth))
}

var _ Observer = (*PrometheusObserver)(nil)
