package main

import (
	"log/slog"

	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/northbound"
)

// logSink is an example custom northbound interface. It accepts every message
// and logs the payload at debug level.
type logSink struct {
	logger *slog.Logger
}

var _ northbound.Interface = (*logSink)(nil)

// Send implements northbound.Interface.
func (s *logSink) Send(msg message.Message) bool {
	s.logger.Debug("Message",
		"subject", msg.Subject,
		"payload", string(msg.Payload))
	return true
}

// Stop implements northbound.Interface.
func (s *logSink) Stop() {}

// Update implements northbound.Interface.
func (s *logSink) Update(*metric.MetricsRegistry) {}
