package kafka

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ystre/dsp/errors"
)

// consumeClient is the part of kgo.Client the consumer uses. Narrowed for
// testability.
type consumeClient interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	AddConsumeTopics(topics ...string)
	BufferedFetchRecords() int64
	Close()
}

// ConsumerDeps holds the dependencies for a Consumer.
type ConsumerDeps struct {
	Logger *slog.Logger
}

// partitionState tracks consumption progress for end-of-partition detection.
type partitionState struct {
	nextOffset  int64 // offset the next record would have
	signaledEOF int64 // high watermark already reported as EOF, -1 if none
}

type topicPartition struct {
	topic     string
	partition int32
}

// Consumer wraps a group consumer. Consume returns batches of Record views;
// a batch smaller than requested, including an empty one, only means the
// timeout elapsed first.
type Consumer struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	client     consumeClient
	subscribed bool
	partitions map[topicPartition]*partitionState

	// newClient creates the kgo client on Subscribe; replaced in tests.
	newClient func(topics []string) (consumeClient, error)
}

// NewConsumer creates a Consumer. The underlying client connects on
// Subscribe.
func NewConsumer(config Config, deps ConsumerDeps) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		config:     config,
		logger:     logger.With("component", "kafka-consumer"),
		partitions: make(map[topicPartition]*partitionState),
	}
	c.newClient = c.dial
	return c, nil
}

func (c *Consumer) dial(topics []string) (consumeClient, error) {
	opts, err := c.config.clientOpts()
	if err != nil {
		return nil, err
	}

	reset := kgo.NewOffset().AtEnd()
	if c.config.OffsetReset == OffsetEarliest {
		reset = kgo.NewOffset().AtStart()
	}
	opts = append(opts,
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(reset),
	)
	if c.config.GroupID != "" {
		opts = append(opts, kgo.ConsumerGroup(c.config.GroupID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Consumer", "dial", "create client")
	}
	return client, nil
}

// Subscribe starts consuming the given topics. Topics from later calls are
// added to the subscription.
func (c *Consumer) Subscribe(topics ...string) error {
	if len(topics) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Consumer", "Subscribe", "topic list validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		client, err := c.newClient(topics)
		if err != nil {
			return err
		}
		c.client = client
	} else {
		c.client.AddConsumeTopics(topics...)
	}

	c.subscribed = true
	c.logger.Info("Subscribed", "topics", topics)
	return nil
}

// QueueSize returns the number of records fetched but not yet returned by
// Consume.
func (c *Consumer) QueueSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return 0
	}
	return c.client.BufferedFetchRecords()
}

// Consume polls for up to batchSize records, waiting at most timeout. The
// returned slice mixes data records, partition errors, and, when enabled,
// per-partition EOF markers. An empty batch is not an error.
//
// EOF markers are derived from fetch progress, so a partition that never
// yields a record (empty from the start, or already drained before the
// subscription) emits none. One-shot consumers of possibly empty topics
// should bound their run with a timeout or record count instead.
func (c *Consumer) Consume(ctx context.Context, batchSize int, timeout time.Duration) ([]Record, error) {
	c.mu.Lock()
	client := c.client
	subscribed := c.subscribed
	c.mu.Unlock()

	if !subscribed {
		return nil, errors.WrapInvalid(errors.ErrNotSubscribed,
			"Consumer", "Consume", "poll")
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := client.PollRecords(pollCtx, batchSize)
	if fetches.IsClientClosed() {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStopped,
			"Consumer", "Consume", "poll")
	}

	records := make([]Record, 0, batchSize)
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		records = append(records, c.partitionRecords(p)...)
	})
	return records, nil
}

// partitionRecords converts one fetched partition into Record views and
// appends an EOF marker when the partition is fully consumed.
func (c *Consumer) partitionRecords(p kgo.FetchTopicPartition) []Record {
	if p.Err != nil {
		// Poll deadline expiry is the normal end of a batch, not a
		// partition failure.
		if stderrors.Is(p.Err, context.DeadlineExceeded) || stderrors.Is(p.Err, context.Canceled) {
			return nil
		}
		return []Record{ErrorRecord(p.Topic, p.Partition, p.Err)}
	}

	records := make([]Record, 0, len(p.Records)+1)
	for _, rec := range p.Records {
		records = append(records, DataRecord(rec))
	}

	if !c.config.EnablePartitionEOF {
		return records
	}

	tp := topicPartition{topic: p.Topic, partition: p.Partition}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.partitions[tp]
	if !ok {
		state = &partitionState{nextOffset: -1, signaledEOF: -1}
		c.partitions[tp] = state
	}
	if len(p.Records) > 0 {
		state.nextOffset = p.Records[len(p.Records)-1].Offset + 1
	}

	// Caught up when the next expected offset reaches the high watermark.
	// Signal once per watermark; new data moves the watermark and re-arms.
	if state.nextOffset >= 0 &&
		p.HighWatermark > 0 &&
		state.nextOffset >= p.HighWatermark &&
		state.signaledEOF != p.HighWatermark {
		state.signaledEOF = p.HighWatermark
		records = append(records, EOFRecord(p.Topic, p.Partition, p.HighWatermark))
	}

	return records
}

// Unsubscribe drops the subscription and discards partition progress. A later
// Subscribe starts over from the configured offset reset policy.
func (c *Consumer) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.subscribed {
		return errors.WrapInvalid(errors.ErrNotSubscribed,
			"Consumer", "Unsubscribe", "drop subscription")
	}

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.subscribed = false
	c.partitions = make(map[topicPartition]*partitionState)
	c.logger.Info("Unsubscribed")
	return nil
}

// Close releases the client. Consume calls after Close fail.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.subscribed = false
	return nil
}
