package main

import (
	"log/slog"
	"time"

	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/metric"
)

// Metric families published by the Kafka callbacks.
const (
	metricSentMessages = "dsp_sent_messages_total"
	metricThrottleTime = "dsp_kafka_throttle_time_ms"
)

// deliveryReporter turns per-message delivery reports into metrics. Failed
// deliveries count as drops so the ingress and egress totals reconcile.
type deliveryReporter struct {
	registry *metric.MetricsRegistry
	logger   *slog.Logger
}

var _ kafka.DeliveryHandler = (*deliveryReporter)(nil)

// OnDelivery implements kafka.DeliveryHandler.
func (r *deliveryReporter) OnDelivery(report kafka.DeliveryReport) {
	if report.Err != nil {
		r.logger.Error("Delivery failed",
			"topic", report.Topic,
			"error", report.Err)
		_ = r.registry.Increment(metricDropMessages, 1,
			metric.Labels{"drop_type": "kafka_delivery"})
		return
	}
	_ = r.registry.Increment(metricSentMessages, 1,
		metric.Labels{"topic": report.Topic})
}

// throttleReporter exposes broker throttling as a gauge.
type throttleReporter struct {
	registry *metric.MetricsRegistry
}

var _ kafka.ThrottleHandler = (*throttleReporter)(nil)

// OnThrottle implements kafka.ThrottleHandler.
func (r *throttleReporter) OnThrottle(broker string, duration time.Duration) {
	_ = r.registry.Set(metricThrottleTime, float64(duration.Milliseconds()),
		metric.Labels{"broker": broker})
}

// statisticsReporter logs periodic producer snapshots.
type statisticsReporter struct {
	logger *slog.Logger
}

var _ kafka.StatisticsHandler = (*statisticsReporter)(nil)

// OnStatistics implements kafka.StatisticsHandler.
func (r *statisticsReporter) OnStatistics(stats kafka.Statistics) {
	r.logger.Debug("Producer statistics",
		"queued", stats.QueuedMessages,
		"produced", stats.Produced,
		"failed", stats.Failed)
}
