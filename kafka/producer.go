package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/message"
)

const (
	// pollInterval drives the background housekeeping loop.
	pollInterval = time.Second

	// sendPollInterval is how long Send waits between attempts while the
	// delivery queue is full.
	sendPollInterval = 100 * time.Millisecond

	// closeFlushTimeout bounds the final flush during Close.
	closeFlushTimeout = 5 * time.Second
)

// produceClient is the part of kgo.Client the producer uses. Narrowed for
// testability.
type produceClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// ProducerDeps holds the dependencies for a Producer.
type ProducerDeps struct {
	Logger     *slog.Logger
	Delivery   DeliveryHandler
	Throttle   ThrottleHandler
	Statistics StatisticsHandler
}

type report struct {
	rec *kgo.Record
	err error
}

// Producer is an asynchronous Kafka producer with a bounded delivery queue.
//
// Messages are enqueued and delivered in the background; per-message outcomes
// arrive through the DeliveryHandler on a dedicated polling goroutine that
// runs for the producer's whole lifetime. TrySend fails fast when the queue
// is full, Send waits for room.
type Producer struct {
	config Config
	logger *slog.Logger

	client     produceClient
	delivery   DeliveryHandler
	statistics StatisticsHandler

	queueSize atomic.Int64
	produced  atomic.Int64
	failed    atomic.Int64

	reports      chan report
	pollStop     chan struct{}
	pollStopped  chan struct{}
	running      atomic.Bool
	closeTimeout time.Duration
}

// NewProducer creates a Producer and starts its polling goroutine.
func NewProducer(config Config, deps ProducerDeps) (*Producer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts, err := config.clientOpts()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		kgo.MaxBufferedRecords(config.QueueCapacity),
		kgo.ProducerBatchMaxBytes(int32(config.MaxMessageBytes)),
	)
	if config.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(config.Linger))
	}
	if deps.Throttle != nil {
		opts = append(opts, kgo.WithHooks(&throttleHook{handler: deps.Throttle}))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Producer", "NewProducer", "create client")
	}

	return newProducer(config, deps, client), nil
}

// newProducer wires a Producer around an existing client. Used directly by
// tests with a mock client.
func newProducer(config Config, deps ProducerDeps, client produceClient) *Producer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Producer{
		config:     config,
		logger:     logger.With("component", "kafka-producer"),
		client:     client,
		delivery:   deps.Delivery,
		statistics: deps.Statistics,
		// Sized so promise callbacks never block franz-go internals: the
		// queue capacity gate bounds outstanding reports.
		reports:      make(chan report, config.QueueCapacity+64),
		pollStop:     make(chan struct{}),
		pollStopped:  make(chan struct{}),
		closeTimeout: closeFlushTimeout,
	}
	p.running.Store(true)

	go p.pollLoop()
	return p
}

// QueueSize returns the number of messages awaiting delivery reports.
func (p *Producer) QueueSize() int64 {
	return p.queueSize.Load()
}

// TrySend enqueues the message for delivery to topic without blocking. It
// returns errors.ErrQueueFull when the delivery queue is at capacity and
// errors.ErrMessageTooLarge for oversized payloads.
func (p *Producer) TrySend(ctx context.Context, topic string, msg message.Message) error {
	if !p.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped,
			"Producer", "TrySend", "enqueue message")
	}
	if msg.Size() > p.config.MaxMessageBytes {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d bytes exceeds limit %d",
				errors.ErrMessageTooLarge, msg.Size(), p.config.MaxMessageBytes),
			"Producer", "TrySend", "size check")
	}
	if p.queueSize.Load() >= int64(p.config.QueueCapacity) {
		return errors.WrapTransient(errors.ErrQueueFull,
			"Producer", "TrySend", "enqueue message")
	}

	p.queueSize.Add(1)
	p.client.Produce(ctx, buildRecord(topic, msg), p.promise)
	return nil
}

// Send enqueues the message, waiting for queue room if necessary. It returns
// only when the message is enqueued, the context is done, or the message is
// rejected for a non-capacity reason.
func (p *Producer) Send(ctx context.Context, topic string, msg message.Message) error {
	for {
		err := p.TrySend(ctx, topic, msg)
		if err == nil || !stderrors.Is(err, errors.ErrQueueFull) {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Producer", "Send", "wait for queue room")
		case <-time.After(sendPollInterval):
		}
	}
}

// Flush waits until all enqueued messages have delivery reports, at most
// timeout. Returns errors.ErrFlushTimeout if messages remain.
func (p *Producer) Flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %d messages in queue", errors.ErrFlushTimeout, p.QueueSize()),
			"Producer", "Flush", "flush delivery queue")
	}

	// Reports trail the flush slightly; wait for the queue counter to drain.
	for p.queueSize.Load() > 0 {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(
				fmt.Errorf("%w: %d messages in queue", errors.ErrFlushTimeout, p.QueueSize()),
				"Producer", "Flush", "drain delivery reports")
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// Close flushes pending messages for up to 5 seconds, stops the polling
// goroutine, then releases the client. Messages still undelivered after the
// flush window are dropped with a warning.
func (p *Producer) Close() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	if err := p.Flush(p.closeTimeout); err != nil {
		p.logger.Warn("Closing with undelivered messages",
			"queued", p.QueueSize(),
			"error", err)
	}

	close(p.pollStop)
	<-p.pollStopped

	p.client.Close()
	p.logger.Info("Producer closed",
		"produced", p.produced.Load(),
		"failed", p.failed.Load())
	return nil
}

// promise runs on franz-go's goroutines; it only forwards to the report
// channel so delivery callbacks stay on the polling goroutine.
func (p *Producer) promise(rec *kgo.Record, err error) {
	p.reports <- report{rec: rec, err: err}
}

func (p *Producer) pollLoop() {
	defer close(p.pollStopped)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var statC <-chan time.Time
	if p.statistics != nil && p.config.StatisticsInterval > 0 {
		statTicker := time.NewTicker(p.config.StatisticsInterval)
		defer statTicker.Stop()
		statC = statTicker.C
	}

	for {
		select {
		case r := <-p.reports:
			p.handleReport(r)
		case <-ticker.C:
			// Keeps the loop responsive even when no reports arrive.
		case <-statC:
			p.statistics.OnStatistics(p.snapshot())
		case <-p.pollStop:
			for {
				select {
				case r := <-p.reports:
					p.handleReport(r)
				default:
					return
				}
			}
		}
	}
}

func (p *Producer) handleReport(r report) {
	p.queueSize.Add(-1)

	rep := DeliveryReport{
		Topic:     r.rec.Topic,
		Partition: r.rec.Partition,
		Offset:    r.rec.Offset,
		Err:       mapProduceError(r.err),
	}

	if rep.Err != nil {
		p.failed.Add(1)
		p.logger.Debug("Delivery failed",
			"topic", rep.Topic,
			"error", rep.Err)
	} else {
		p.produced.Add(1)
	}

	if p.delivery != nil {
		p.delivery.OnDelivery(rep)
	}
}

func (p *Producer) snapshot() Statistics {
	return Statistics{
		QueuedMessages: p.queueSize.Load(),
		Produced:       p.produced.Load(),
		Failed:         p.failed.Load(),
	}
}

func buildRecord(topic string, msg message.Message) *kgo.Record {
	rec := &kgo.Record{
		Topic: topic,
		Key:   msg.Key,
		Value: msg.Payload,
	}
	for _, prop := range msg.Properties.Items() {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{
			Key:   prop.Key,
			Value: []byte(prop.Value),
		})
	}
	return rec
}

// mapProduceError normalizes broker and client errors to the runtime's
// sentinel errors where a sentinel exists.
func mapProduceError(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, kerr.UnknownTopicOrPartition):
		return fmt.Errorf("%w: %w", errors.ErrUnknownTopic, err)
	case stderrors.Is(err, kerr.MessageTooLarge):
		return fmt.Errorf("%w: %w", errors.ErrMessageTooLarge, err)
	case stderrors.Is(err, kgo.ErrMaxBuffered):
		return fmt.Errorf("%w: %w", errors.ErrQueueFull, err)
	default:
		return fmt.Errorf("%w: %w", errors.ErrDeliveryFailed, err)
	}
}
