package readout

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusObserver(reg, "")

	p.ObserveTrigger()
	p.ObserveTrigger()
	p.ObserveProduced(100, false)
	p.ObserveProduced(40, true)
	p.ObserveExhausted()
	p.ObserveLost()
	p.ObserveEmit(148, 2_000, true)
	p.ObserveEmit(0, 0, false)
	p.ObserveDrain(true)
	p.ObserveQueueDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.Triggers))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Produced.WithLabelValues("physics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Produced.WithLabelValues("sync")))
	assert.Equal(t, 140.0, testutil.ToFloat64(p.ProducedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Lost.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Lost.WithLabelValues("total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Emits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Emits.WithLabelValues("error")))
	assert.Equal(t, 148.0, testutil.ToFloat64(p.EmittedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Drains.WithLabelValues("timeout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.QueueDepth))

	// Only the emit with a latency sample lands in the histogram
	assert.Equal(t, 1, testutil.CollectAndCount(p.EmitDuration))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "readout_emit_duration_seconds" {
			assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}

func TestPrometheusObserverNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusObserver(reg, "daq")
	p.ObserveTrigger()

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "daq_readout_triggers_total")
}

func TestPrometheusObserverDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusObserver(reg, "")

	assert.Panics(t, func() { NewPrometheusObserver(reg, "") })
}
