package southbound

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/metric"
)

// consumer is the part of kafka.Consumer the listener uses. Narrowed for
// testability.
type consumer interface {
	Subscribe(topics ...string) error
	Consume(ctx context.Context, batchSize int, timeout time.Duration) ([]kafka.Record, error)
	Close() error
}

// KafkaListenerConfig configures a KafkaListener.
type KafkaListenerConfig struct {
	Name string `yaml:"name"`

	// Topics to subscribe to.
	Topics []string `yaml:"topics"`

	// BatchSize bounds the records fetched per poll.
	BatchSize int `yaml:"batch-size"`

	// PollTimeout bounds the wait per poll. Shorter values make Stop more
	// responsive at the cost of more empty polls.
	PollTimeout time.Duration `yaml:"poll-timeout"`

	Kafka kafka.Config `yaml:"kafka"`
}

// Validate checks the configuration and applies defaults.
func (c *KafkaListenerConfig) Validate() error {
	if c.Name == "" {
		c.Name = "kafka"
	}
	if len(c.Topics) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"KafkaListenerConfig", "Validate", "topic validation")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	return c.Kafka.Validate()
}

// KafkaListenerDeps holds the dependencies for a KafkaListener.
type KafkaListenerDeps struct {
	Logger  *slog.Logger
	Handler kafka.Handler
}

// KafkaListener is an ingress interface backed by a Kafka consumer. The
// listener polls in batches and dispatches every record, including partition
// errors and end-of-partition markers, to the handler.
type KafkaListener struct {
	config   KafkaListenerConfig
	logger   *slog.Logger
	consumer consumer
	handler  kafka.Handler

	messages atomic.Int64
	bytes    atomic.Int64

	messagesPublished int64
	bytesPublished    int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Interface = (*KafkaListener)(nil)

// NewKafkaListener creates the interface and subscribes to its topics.
func NewKafkaListener(config KafkaListenerConfig, deps KafkaListenerDeps) (*KafkaListener, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"KafkaListener", "NewKafkaListener", "handler validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "southbound", "interface", config.Name)

	cons, err := kafka.NewConsumer(config.Kafka, kafka.ConsumerDeps{Logger: logger})
	if err != nil {
		return nil, err
	}

	l := newKafkaListener(config, logger, cons, deps.Handler)
	if err := l.consumer.Subscribe(config.Topics...); err != nil {
		_ = cons.Close()
		return nil, err
	}
	return l, nil
}

func newKafkaListener(config KafkaListenerConfig, logger *slog.Logger, cons consumer, handler kafka.Handler) *KafkaListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaListener{
		config:   config,
		logger:   logger,
		consumer: cons,
		handler:  handler,
		cancel:   cancel,
		done:     make(chan struct{}),
		ctx:      ctx,
	}
}

// Listener returns the blocking poll loop.
func (l *KafkaListener) Listener() func() {
	return l.run
}

func (l *KafkaListener) run() {
	defer close(l.done)
	l.logger.Info("Consuming", "topics", l.config.Topics)

	for l.ctx.Err() == nil {
		records, err := l.consumer.Consume(l.ctx, l.config.BatchSize, l.config.PollTimeout)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("Poll failed", "error", err)
			return
		}

		for i := range records {
			rec := &records[i]
			if rec.OK() {
				l.messages.Add(1)
				l.bytes.Add(int64(len(rec.Payload())))
			}
			l.handler.HandleRecord(rec)
		}
	}
}

// Stop makes the poll loop return and closes the consumer.
func (l *KafkaListener) Stop() {
	l.cancel()

	select {
	case <-l.done:
	case <-time.After(2 * l.config.PollTimeout):
		l.logger.Warn("Poll loop did not stop in time")
	}
	_ = l.consumer.Close()
}

// Update publishes message and byte counters.
func (l *KafkaListener) Update(registry *metric.MetricsRegistry) {
	labels := metric.Labels{"interface": l.config.Name}

	messages := l.messages.Load()
	if delta := messages - l.messagesPublished; delta > 0 {
		if err := registry.Increment(metricMessagesReceived, float64(delta), labels); err == nil {
			l.messagesPublished = messages
		}
	}

	bytes := l.bytes.Load()
	if delta := bytes - l.bytesPublished; delta > 0 {
		if err := registry.Increment(metricBytesReceived, float64(delta), labels); err == nil {
			l.bytesPublished = bytes
		}
	}
}
