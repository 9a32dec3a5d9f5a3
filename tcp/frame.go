package tcp

import (
	"log/slog"

	"github.com/ystre/dsp/pkg/stat"
)

// FrameProcessor is the application-specific part of a Frame handler. It only
// has to understand the framing; connection bookkeeping is provided by Frame.
type FrameProcessor interface {
	// ProcessFrame consumes complete frames from data and returns the number
	// of bytes consumed, 0 if more data is needed.
	ProcessFrame(data []byte) (int, error)
}

// Frame is a Handler with default connection behaviour: it logs lifecycle
// events, tracks throughput, and emits a rate summary when the peer
// disconnects. Applications supply only the FrameProcessor.
type Frame struct {
	processor FrameProcessor
	logger    *slog.Logger
	stats     *stat.Statistics
}

var _ Handler = (*Frame)(nil)

// NewFrame wraps a FrameProcessor with default connection behaviour.
func NewFrame(processor FrameProcessor, logger *slog.Logger) *Frame {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frame{
		processor: processor,
		logger:    logger,
		stats:     stat.New(),
	}
}

// Stats returns the throughput statistics of this connection.
func (f *Frame) Stats() *stat.Statistics {
	return f.stats
}

// OnConnect implements Handler.
func (f *Frame) OnConnect(info ConnInfo) {
	f.stats.Reset()
	f.logger.Debug("Connection established",
		"connection", info.ID,
		"remote", info.RemoteAddr)
}

// Process implements Handler.
func (f *Frame) Process(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	consumed, err := f.processor.ProcessFrame(data)
	if consumed > 0 {
		f.stats.Observe(consumed)
	}
	return consumed, err
}

// OnDisconnect implements Handler.
func (f *Frame) OnDisconnect(info ConnInfo) {
	f.logger.Info("Connection closed by peer",
		"connection", info.ID,
		"remote", info.RemoteAddr,
		"summary", f.stats.Summary())
}

// OnError implements Handler.
func (f *Frame) OnError(info ConnInfo, err error) {
	f.logger.Error("Connection failed",
		"connection", info.ID,
		"remote", info.RemoteAddr,
		"error", err)
}
