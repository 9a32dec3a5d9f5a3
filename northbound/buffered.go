package northbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/pkg/buffer"
	"github.com/ystre/dsp/pkg/worker"
)

// FlushFunc delivers one message to the sink's destination.
type FlushFunc func(msg message.Message) error

// BufferedSinkConfig configures a BufferedSink.
type BufferedSinkConfig struct {
	Name string `yaml:"name"`

	// BufferCapacity bounds the staging buffer. New messages shed the
	// oldest buffered message when full.
	BufferCapacity int `yaml:"buffer-capacity"`

	// Workers drain the buffer concurrently.
	Workers int `yaml:"workers"`

	// DrainBatch is the number of messages moved from the buffer to the
	// workers per drain pass.
	DrainBatch int `yaml:"drain-batch"`
}

// Validate checks the configuration and applies defaults.
func (c *BufferedSinkConfig) Validate() error {
	if c.Name == "" {
		c.Name = "buffered"
	}
	if c.BufferCapacity < 0 || c.Workers < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"BufferedSinkConfig", "Validate", "capacity validation")
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 10000
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 256
	}
	return nil
}

// BufferedSink decouples producers from a slow destination. Send stages
// messages in a circular buffer; a drain goroutine feeds them to a worker
// pool which calls the flush function. Under sustained overload the oldest
// staged messages are shed.
type BufferedSink struct {
	config BufferedSinkConfig
	logger *slog.Logger

	buf   buffer.Buffer[message.Message]
	pool  *worker.Pool[message.Message]
	flush FlushFunc
	flow  flowCounters

	cancel   context.CancelFunc
	drained  chan struct{}
	stopping chan struct{}
}

// BufferedSinkDeps holds the dependencies for a BufferedSink.
type BufferedSinkDeps struct {
	Logger *slog.Logger

	// Registry enables buffer and pool metrics when set.
	Registry *metric.MetricsRegistry
}

var _ Interface = (*BufferedSink)(nil)

// NewBufferedSink creates and starts the sink. The flush function is called
// from multiple workers and must be safe for concurrent use.
func NewBufferedSink(config BufferedSinkConfig, flush FlushFunc, deps BufferedSinkDeps) (*BufferedSink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if flush == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"BufferedSink", "NewBufferedSink", "flush function validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "northbound", "sink", config.Name)

	s := &BufferedSink{
		config:   config,
		logger:   logger,
		flush:    flush,
		drained:  make(chan struct{}),
		stopping: make(chan struct{}),
	}

	bufOpts := []buffer.Option[message.Message]{
		buffer.WithOverflowPolicy[message.Message](buffer.DropOldest),
		buffer.WithDropCallback[message.Message](func(message.Message) {
			s.flow.dropped.Add(1)
		}),
	}
	if deps.Registry != nil {
		bufOpts = append(bufOpts,
			buffer.WithMetrics[message.Message](deps.Registry, config.Name))
	}
	buf, err := buffer.NewCircularBuffer[message.Message](config.BufferCapacity, bufOpts...)
	if err != nil {
		return nil, err
	}
	s.buf = buf

	poolOpts := []worker.Option[message.Message]{}
	if deps.Registry != nil {
		poolOpts = append(poolOpts,
			worker.WithMetricsRegistry[message.Message](deps.Registry, config.Name))
	}
	s.pool = worker.NewPool(config.Workers, config.BufferCapacity, s.process, poolOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.pool.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	go s.drain()

	return s, nil
}

// Send stages the message. Returns false only after Stop; overload is
// absorbed by shedding the oldest staged messages, not by rejecting new ones.
func (s *BufferedSink) Send(msg message.Message) bool {
	if err := s.buf.Write(msg); err != nil {
		s.flow.dropped.Add(1)
		return false
	}
	return true
}

// Stop drains staged messages for a short period, then stops the workers.
func (s *BufferedSink) Stop() {
	close(s.stopping)

	select {
	case <-s.drained:
	case <-time.After(5 * time.Second):
		s.logger.Warn("Stopping with staged messages", "remaining", s.buf.Size())
	}

	if err := s.pool.Stop(5 * time.Second); err != nil {
		s.logger.Warn("Worker pool stop failed", "error", err)
	}
	s.cancel()
	_ = s.buf.Close()
}

// Update publishes flow counters and the staging buffer size.
func (s *BufferedSink) Update(registry *metric.MetricsRegistry) {
	s.flow.publish(registry, s.config.Name, "load_shed")
	if err := registry.Set(metricQueueSize, float64(s.buf.Size()),
		metric.Labels{"sink": s.config.Name}); err != nil {
		s.logger.Debug("Metric update failed", "error", err)
	}
}

func (s *BufferedSink) process(_ context.Context, msg message.Message) error {
	if err := s.flush(msg); err != nil {
		s.flow.dropped.Add(1)
		s.logger.Debug("Flush failed", "error", err)
		return err
	}
	s.flow.sent.Add(1)
	return nil
}

// drain moves staged messages into the worker pool. On a full pool the batch
// is retried until the workers catch up.
func (s *BufferedSink) drain() {
	defer close(s.drained)

	for {
		batch := s.buf.ReadBatch(s.config.DrainBatch)
		for _, msg := range batch {
			for s.pool.Submit(msg) != nil {
				select {
				case <-s.stopping:
					return
				case <-time.After(time.Millisecond):
				}
			}
		}

		if len(batch) == 0 {
			select {
			case <-s.stopping:
				if s.buf.IsEmpty() {
					return
				}
			case <-time.After(time.Millisecond):
			}
		}
	}
}
