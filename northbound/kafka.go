package northbound

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
)

// producer is the part of kafka.Producer the sink uses. Narrowed for
// testability.
type producer interface {
	TrySend(ctx context.Context, topic string, msg message.Message) error
	QueueSize() int64
	Close() error
}

// KafkaProducerConfig configures a KafkaProducer sink.
type KafkaProducerConfig struct {
	// Name identifies the sink in logs and metric labels.
	Name string `yaml:"name"`

	// Topic is the destination topic. When a message carries a Subject it
	// overrides Topic for that message.
	Topic string `yaml:"topic"`

	Kafka kafka.Config `yaml:"kafka"`
}

// Validate checks the configuration.
func (c *KafkaProducerConfig) Validate() error {
	if c.Name == "" {
		c.Name = "kafka"
	}
	if c.Topic == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"KafkaProducerConfig", "Validate", "topic validation")
	}
	return c.Kafka.Validate()
}

// KafkaProducer is a sink that forwards messages to Kafka. Send never waits
// for queue room; when the producer queue is full the message is shed.
type KafkaProducer struct {
	config   KafkaProducerConfig
	logger   *slog.Logger
	producer producer
	flow     flowCounters
}

// KafkaProducerDeps holds the dependencies for a KafkaProducer.
type KafkaProducerDeps struct {
	Logger *slog.Logger

	// Delivery receives per-message delivery reports, optional.
	Delivery kafka.DeliveryHandler

	// Throttle is notified of broker throttling, optional.
	Throttle kafka.ThrottleHandler

	// Statistics receives periodic producer snapshots, optional.
	Statistics kafka.StatisticsHandler
}

var _ Interface = (*KafkaProducer)(nil)

// NewKafkaProducer creates a Kafka sink and connects its producer.
func NewKafkaProducer(config KafkaProducerConfig, deps KafkaProducerDeps) (*KafkaProducer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "northbound", "sink", config.Name)

	prod, err := kafka.NewProducer(config.Kafka, kafka.ProducerDeps{
		Logger:     logger,
		Delivery:   deps.Delivery,
		Throttle:   deps.Throttle,
		Statistics: deps.Statistics,
	})
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{
		config:   config,
		logger:   logger,
		producer: prod,
	}, nil
}

// Send enqueues the message for delivery. Returns false when the producer
// queue is full or the message is rejected.
func (k *KafkaProducer) Send(msg message.Message) bool {
	topic := k.config.Topic
	if msg.Subject != "" {
		topic = msg.Subject
	}

	if err := k.producer.TrySend(context.Background(), topic, msg); err != nil {
		k.flow.dropped.Add(1)
		if !stderrors.Is(err, errors.ErrQueueFull) {
			k.logger.Warn("Message rejected", "topic", topic, "error", err)
		}
		return false
	}

	k.flow.sent.Add(1)
	return true
}

// Stop flushes and closes the producer.
func (k *KafkaProducer) Stop() {
	if err := k.producer.Close(); err != nil {
		k.logger.Warn("Producer close failed", "error", err)
	}
}

// Update publishes flow counters and the current queue size.
func (k *KafkaProducer) Update(registry *metric.MetricsRegistry) {
	k.flow.publish(registry, k.config.Name, "load_shed")
	if err := registry.Set(metricQueueSize, float64(k.producer.QueueSize()),
		metric.Labels{"sink": k.config.Name}); err != nil {
		k.logger.Debug("Metric update failed", "error", err)
	}
}
