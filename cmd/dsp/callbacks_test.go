package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/metric"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliveryReporter(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	reporter := &deliveryReporter{registry: registry}

	reporter.OnDelivery(kafka.DeliveryReport{Topic: "events", Partition: 0, Offset: 1})
	reporter.OnDelivery(kafka.DeliveryReport{Topic: "events", Partition: 0, Offset: 2})
	assert.Equal(t, 2.0, gatherValue(t, registry, metricSentMessages))
}

func TestDeliveryReporter_FailureCountsAsDrop(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	reporter := &deliveryReporter{registry: registry, logger: testLogger()}

	reporter.OnDelivery(kafka.DeliveryReport{Topic: "events", Err: errors.ErrDeliveryFailed})

	assert.Zero(t, gatherValue(t, registry, metricSentMessages))
	assert.Equal(t, 1.0, gatherValue(t, registry, metricDropMessages))
}

func TestThrottleReporter(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	reporter := &throttleReporter{registry: registry}

	reporter.OnThrottle("broker-1", 250*time.Millisecond)
	assert.Equal(t, 250.0, gatherValue(t, registry, metricThrottleTime))

	reporter.OnThrottle("broker-1", 0)
	assert.Equal(t, 0.0, gatherValue(t, registry, metricThrottleTime))
}
