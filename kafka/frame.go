package kafka

import (
	"log/slog"

	"github.com/ystre/dsp/pkg/stat"
)

// Handler consumes records delivered by a listener dispatch loop.
type Handler interface {
	HandleRecord(rec *Record)
}

// RecordProcessor is the application-specific part of a Frame handler. It
// sees only data records; errors and EOF markers are handled by Frame.
type RecordProcessor interface {
	ProcessRecord(rec *Record) error
}

// Frame is a Handler with default stream behaviour: it logs partition errors,
// reports a throughput summary at each partition EOF, and forwards data
// records to the processor.
type Frame struct {
	processor RecordProcessor
	logger    *slog.Logger
	stats     *stat.Statistics
}

var _ Handler = (*Frame)(nil)

// NewFrame wraps a RecordProcessor with default stream behaviour.
func NewFrame(processor RecordProcessor, logger *slog.Logger) *Frame {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frame{
		processor: processor,
		logger:    logger,
		stats:     stat.New(),
	}
}

// Stats returns the throughput statistics of this handler.
func (f *Frame) Stats() *stat.Statistics {
	return f.stats
}

// HandleRecord implements Handler.
func (f *Frame) HandleRecord(rec *Record) {
	switch {
	case rec.Err() != nil:
		f.logger.Error("Partition failed",
			"topic", rec.Topic(),
			"partition", rec.Partition(),
			"error", rec.Err())
	case rec.EOF():
		f.logger.Info("Partition caught up",
			"topic", rec.Topic(),
			"partition", rec.Partition(),
			"offset", rec.Offset(),
			"summary", f.stats.Summary())
	default:
		f.stats.Observe(len(rec.Payload()))
		if err := f.processor.ProcessRecord(rec); err != nil {
			f.logger.Error("Record processing failed",
				"topic", rec.Topic(),
				"partition", rec.Partition(),
				"offset", rec.Offset(),
				"error", err)
		}
	}
}
