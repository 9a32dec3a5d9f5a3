package main

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/ystre/dsp/cache"
	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/router"
	"github.com/ystre/dsp/tcp"
)

// Wire format: every frame starts with a big-endian uint16 holding the total
// frame length, prefix included. Telemetry frames carry a uint16 message type
// after the prefix; heartbeats pack three uint64 fields into the body.
const (
	lengthPrefixSize = 2
	telemetryMinimum = lengthPrefixSize + 2
	heartbeatSize    = 24

	typeHeartbeat  = 0
	typeDynMessage = 1
)

// Metric families published by the handlers.
const (
	metricReceiveMessages = "dsp_receive_messages_total"
	metricReceiveBytes    = "dsp_receive_bytes_total"
	metricProcessMessages = "dsp_process_messages_total"
	metricProcessBytes    = "dsp_process_bytes_total"
	metricDropMessages    = "dsp_drop_messages_total"
	metricDropBytes       = "dsp_drop_bytes_total"
)

// Drop reasons used as the drop_type label.
const (
	dropLoadShed  = "load_shed"
	dropNotNeeded = "not_needed"
)

// telemetryHandler parses telemetry frames and forwards the decoded messages
// through the router into the cache. One instance serves one connection.
type telemetryHandler struct {
	cache    *cache.Cache
	router   *router.Router
	registry *metric.MetricsRegistry
}

var _ tcp.FrameProcessor = (*telemetryHandler)(nil)

func newTelemetryHandler(c *cache.Cache, r *router.Router, registry *metric.MetricsRegistry) *telemetryHandler {
	return &telemetryHandler{cache: c, router: r, registry: registry}
}

// ProcessFrame implements tcp.FrameProcessor.
func (h *telemetryHandler) ProcessFrame(data []byte) (int, error) {
	if len(data) < telemetryMinimum {
		return 0, nil
	}

	length := int(binary.BigEndian.Uint16(data))
	if length < telemetryMinimum {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: frame length %d", errors.ErrMalformedMessage, length),
			"telemetryHandler", "ProcessFrame", "length validation")
	}
	if len(data) < length {
		return 0, nil
	}

	_ = h.registry.Increment(metricReceiveMessages, 1, nil)
	_ = h.registry.Increment(metricReceiveBytes, float64(length), nil)

	msgType := binary.BigEndian.Uint16(data[lengthPrefixSize:])
	body := data[telemetryMinimum:length]

	switch msgType {
	case typeHeartbeat:
		hb, err := parseHeartbeat(body)
		if err != nil {
			return 0, err
		}
		h.send(hb.message())
	case typeDynMessage:
		h.send(message.Message{Payload: append([]byte(nil), body...)})
	default:
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: telemetry type %d", errors.ErrMalformedMessage, msgType),
			"telemetryHandler", "ProcessFrame", "type validation")
	}

	return length, nil
}

// send routes one message and delivers each copy into the cache. Messages can
// be mirrored to multiple destinations; copies rejected by a sink are counted
// as load shed, messages matching no rule as not needed.
func (h *telemetryHandler) send(msg message.Message) {
	routed := h.router.Route(msg)
	for i := range routed {
		m := &routed[i].Message
		subject := metric.Labels{"subject": m.Subject}
		if h.cache.Send(*m) {
			_ = h.registry.Increment(metricProcessMessages, 1, subject)
			_ = h.registry.Increment(metricProcessBytes, float64(m.Size()), subject)
		} else {
			_ = h.registry.Increment(metricDropMessages, 1, metric.Labels{"drop_type": dropLoadShed})
			_ = h.registry.Increment(metricDropBytes, float64(m.Size()), metric.Labels{"drop_type": dropLoadShed})
		}
	}

	if len(routed) == 0 {
		_ = h.registry.Increment(metricDropMessages, 1, metric.Labels{"drop_type": dropNotNeeded})
		_ = h.registry.Increment(metricDropBytes, float64(msg.Size()), metric.Labels{"drop_type": dropNotNeeded})
	}
}

// heartbeat is the periodic liveness report of a telemetry client.
type heartbeat struct {
	ClientID  uint64
	Sequence  uint64
	Timestamp uint64
}

func parseHeartbeat(body []byte) (heartbeat, error) {
	if len(body) < heartbeatSize {
		return heartbeat{}, errors.WrapInvalid(
			fmt.Errorf("%w: heartbeat body %d bytes", errors.ErrMalformedMessage, len(body)),
			"telemetryHandler", "parseHeartbeat", "length validation")
	}
	return heartbeat{
		ClientID:  binary.BigEndian.Uint64(body),
		Sequence:  binary.BigEndian.Uint64(body[8:]),
		Timestamp: binary.BigEndian.Uint64(body[16:]),
	}, nil
}

func (hb heartbeat) message() message.Message {
	payload := fmt.Sprintf("Client ID: %d Sequence : %d Unix epoch: %d",
		hb.ClientID, hb.Sequence, hb.Timestamp)
	return message.Message{
		Key:        []byte(strconv.FormatUint(hb.ClientID, 10)),
		Properties: message.NewProperties(message.Property{Key: "type", Value: "heartbeat"}),
		Payload:    []byte(payload),
	}
}

// passthroughHandler strips the length prefix and forwards the payload as-is
// to the cache under the configured topic.
type passthroughHandler struct {
	cache    *cache.Cache
	registry *metric.MetricsRegistry
	topic    string
}

var _ tcp.FrameProcessor = (*passthroughHandler)(nil)

func newPassthroughHandler(c *cache.Cache, registry *metric.MetricsRegistry, topic string) *passthroughHandler {
	return &passthroughHandler{cache: c, registry: registry, topic: topic}
}

// ProcessFrame implements tcp.FrameProcessor.
func (h *passthroughHandler) ProcessFrame(data []byte) (int, error) {
	if len(data) < lengthPrefixSize {
		return 0, nil
	}

	length := int(binary.BigEndian.Uint16(data))
	if length < lengthPrefixSize {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: frame length %d", errors.ErrMalformedMessage, length),
			"passthroughHandler", "ProcessFrame", "length validation")
	}
	if len(data) < length {
		return 0, nil
	}

	_ = h.registry.Increment(metricReceiveMessages, 1, nil)
	_ = h.registry.Increment(metricReceiveBytes, float64(length), nil)

	msg := message.Message{
		Subject: h.topic,
		Payload: append([]byte(nil), data[lengthPrefixSize:length]...),
	}

	if !h.cache.Send(msg) {
		_ = h.registry.Increment(metricDropMessages, 1, metric.Labels{"drop_type": dropLoadShed})
		_ = h.registry.Increment(metricDropBytes, float64(msg.Size()), metric.Labels{"drop_type": dropLoadShed})
	}

	return length, nil
}

// kafkaIngressHandler forwards records consumed from a Kafka southbound into
// the cache under the configured topic.
type kafkaIngressHandler struct {
	cache    *cache.Cache
	registry *metric.MetricsRegistry
	topic    string
}

var _ kafka.RecordProcessor = (*kafkaIngressHandler)(nil)

func newKafkaIngressHandler(c *cache.Cache, registry *metric.MetricsRegistry, topic string) *kafkaIngressHandler {
	return &kafkaIngressHandler{cache: c, registry: registry, topic: topic}
}

// ProcessRecord implements kafka.RecordProcessor.
func (h *kafkaIngressHandler) ProcessRecord(rec *kafka.Record) error {
	msg := message.Message{
		Key:     append([]byte(nil), rec.Key()...),
		Subject: h.topic,
		Payload: append([]byte(nil), rec.Payload()...),
	}

	_ = h.registry.Increment(metricProcessMessages, 1, metric.Labels{"subject": h.topic})
	_ = h.registry.Increment(metricProcessBytes, float64(msg.Size()), metric.Labels{"subject": h.topic})

	if !h.cache.Send(msg) {
		_ = h.registry.Increment(metricDropMessages, 1, metric.Labels{"drop_type": dropLoadShed})
		_ = h.registry.Increment(metricDropBytes, float64(msg.Size()), metric.Labels{"drop_type": dropLoadShed})
	}
	return nil
}
