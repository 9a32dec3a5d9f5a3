// Package southbound contains the ingress interfaces of the runtime. An
// interface owns a data source, runs its receive loop on a dedicated
// goroutine, and hands messages to the application through handlers.
package southbound

import (
	"github.com/ystre/dsp/metric"
)

// Metric families published by the built-in interfaces.
const (
	metricConnections      = "dsp_southbound_connections"
	metricBufferedBytes    = "dsp_southbound_buffered_bytes"
	metricMessagesReceived = "dsp_southbound_messages_received_total"
	metricBytesReceived    = "dsp_southbound_bytes_received_total"
)

// Interface is one ingress interface. Listener returns the blocking receive
// loop; the service runs it on its own goroutine. Stop makes the loop return.
// Update publishes the interface's counters and is called periodically by the
// service watchdog.
type Interface interface {
	Listener() func()
	Stop()
	Update(registry *metric.MetricsRegistry)
}
