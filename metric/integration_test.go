package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink mimics a northbound component: a staging gauge registered up
// front through the registrar, flow counters published through the dynamic
// API on every watchdog tick.
type fakeSink struct {
	name  string
	queue prometheus.Gauge

	sent    int64
	dropped int64
}

func newFakeSink(name string, registrar MetricsRegistrar) (*fakeSink, error) {
	s := &fakeSink{
		name: name,
		queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dsp",
			Subsystem:   "sink",
			Name:        "staged",
			ConstLabels: prometheus.Labels{"sink": name},
			Help:        "Messages staged for delivery",
		}),
	}
	if err := registrar.RegisterGauge(name, "staged", s.queue); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fakeSink) update(registry *MetricsRegistry) {
	s.queue.Set(float64(s.sent - s.dropped))
	_ = registry.Increment("dsp_northbound_messages_sent_total", float64(s.sent),
		Labels{"sink": s.name})
	_ = registry.Increment("dsp_northbound_dropped_total", float64(s.dropped),
		Labels{"sink": s.name, "drop_type": "load_shed"})
}

func gatherNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	return found
}

func TestMetricsIntegration_SinkRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	sink, err := newFakeSink("main-nb", registry)
	require.NoError(t, err)

	sink.sent = 10
	sink.dropped = 2
	sink.update(registry)

	found := gatherNames(t, registry)
	assert.True(t, found["dsp_sink_staged"], "registrar-owned gauge should be gathered")
	assert.True(t, found["dsp_northbound_messages_sent_total"])
	assert.True(t, found["dsp_northbound_dropped_total"])
}

func TestMetricsIntegration_DuplicateSinkName(t *testing.T) {
	registry := NewMetricsRegistry()

	_, err := newFakeSink("main-nb", registry)
	require.NoError(t, err)

	_, err = newFakeSink("main-nb", registry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestMetricsIntegration_WatchdogTicks(t *testing.T) {
	registry := NewMetricsRegistry()

	// interface gauges are overwritten on each tick, flow counters accumulate
	require.NoError(t, registry.Set("dsp_southbound_connections", 3,
		Labels{"interface": "tcp"}))
	require.NoError(t, registry.Set("dsp_southbound_connections", 1,
		Labels{"interface": "tcp"}))

	require.NoError(t, registry.Increment("dsp_southbound_bytes_received_total", 100,
		Labels{"interface": "tcp"}))
	require.NoError(t, registry.Increment("dsp_southbound_bytes_received_total", 50,
		Labels{"interface": "tcp"}))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetGauge() != nil {
				values[mf.GetName()] = m.GetGauge().GetValue()
			} else if m.GetCounter() != nil {
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["dsp_southbound_connections"], "gauge keeps the latest tick")
	assert.Equal(t, 150.0, values["dsp_southbound_bytes_received_total"])
}

func TestMetricsIntegration_CoreAndDynamicSeparate(t *testing.T) {
	registry := NewMetricsRegistry()

	registry.CoreMetrics().RecordServiceStatus("dsp", 2)
	registry.CoreMetrics().RecordError("dsp", "metrics_server")
	require.NoError(t, registry.Increment("dsp_process_messages_total", 1,
		Labels{"subject": "telemetry"}))

	found := gatherNames(t, registry)
	assert.True(t, found["dsp_service_status"])
	assert.True(t, found["dsp_errors_total"])
	assert.True(t, found["dsp_process_messages_total"])
}

func TestMetricsIntegration_SinkUnregistration(t *testing.T) {
	registry := NewMetricsRegistry()

	sink, err := newFakeSink("short-lived", registry)
	require.NoError(t, err)
	sink.update(registry)

	found := gatherNames(t, registry)
	require.True(t, found["dsp_sink_staged"])

	assert.True(t, registry.Unregister("short-lived", "staged"))

	found = gatherNames(t, registry)
	assert.False(t, found["dsp_sink_staged"], "gauge gone after the sink stops")
	assert.True(t, found["dsp_northbound_messages_sent_total"],
		"dynamic families outlive the sink")
}
