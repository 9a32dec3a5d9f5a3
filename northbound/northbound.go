// Package northbound contains the egress sinks of the runtime. A sink accepts
// messages from the processing side and forwards them to an external system.
// Send never blocks the caller; a sink that cannot keep up sheds load and
// reports it through its metrics.
package northbound

import (
	"sync/atomic"

	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
)

// Metric families published by the built-in sinks.
const (
	metricMessagesSent = "dsp_northbound_messages_sent_total"
	metricDropped      = "dsp_northbound_messages_dropped_total"
	metricQueueSize    = "dsp_northbound_queue_size"
)

// Interface is one egress sink. Send reports whether the message was
// accepted; a false return means the message was shed and will not be
// delivered. Update publishes the sink's counters to the registry and is
// called periodically by the service watchdog.
type Interface interface {
	Send(msg message.Message) bool
	Stop()
	Update(registry *metric.MetricsRegistry)
}

// flowCounters tracks accepted and shed messages and publishes them as
// monotonic counters. Publish increments by the delta since the previous
// call, so Update stays idempotent across watchdog ticks.
type flowCounters struct {
	sent    atomic.Int64
	dropped atomic.Int64

	publishedSent    int64
	publishedDropped int64
}

func (f *flowCounters) publish(registry *metric.MetricsRegistry, sink, dropType string) {
	sent := f.sent.Load()
	if delta := sent - f.publishedSent; delta > 0 {
		if err := registry.Increment(metricMessagesSent, float64(delta),
			metric.Labels{"sink": sink}); err == nil {
			f.publishedSent = sent
		}
	}

	dropped := f.dropped.Load()
	if delta := dropped - f.publishedDropped; delta > 0 {
		if err := registry.Increment(metricDropped, float64(delta),
			metric.Labels{"sink": sink, "drop_type": dropType}); err == nil {
			f.publishedDropped = dropped
		}
	}
}
