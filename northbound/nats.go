package northbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/pkg/retry"
)

// natsConn is the part of nats.Conn the sink uses. Narrowed for testability.
type natsConn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
	Close()
}

// NATSPublisherConfig configures a NATSPublisher sink.
type NATSPublisherConfig struct {
	Name string `yaml:"name"`

	// URL of the NATS server, for example nats://localhost:4222.
	URL string `yaml:"url"`

	// Subject is the destination subject. A message Subject overrides it.
	Subject string `yaml:"subject"`

	MaxReconnects int           `yaml:"max-reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect-wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Validate checks the configuration and applies defaults.
func (c *NATSPublisherConfig) Validate() error {
	if c.Name == "" {
		c.Name = "nats"
	}
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"NATSPublisherConfig", "Validate", "URL validation")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"NATSPublisherConfig", "Validate", "subject validation")
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	return nil
}

// NATSPublisher is a sink that publishes messages to a NATS subject. Messages
// offered while the connection is down are shed.
type NATSPublisher struct {
	config NATSPublisherConfig
	logger *slog.Logger
	conn   natsConn
	flow   flowCounters
}

// NATSPublisherDeps holds the dependencies for a NATSPublisher.
type NATSPublisherDeps struct {
	Logger *slog.Logger
}

var _ Interface = (*NATSPublisher)(nil)

// NewNATSPublisher creates the sink and connects, retrying transient
// connection failures with backoff.
func NewNATSPublisher(ctx context.Context, config NATSPublisherConfig, deps NATSPublisherDeps) (*NATSPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "northbound", "sink", config.Name)

	p := &NATSPublisher{
		config: config,
		logger: logger,
	}

	connectRetry := retry.Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
	err := retry.Do(ctx, connectRetry, func() error {
		conn, err := nats.Connect(config.URL,
			nats.Name(config.Name),
			nats.MaxReconnects(config.MaxReconnects),
			nats.ReconnectWait(config.ReconnectWait),
			nats.Timeout(config.Timeout),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("NATS reconnected")
			}),
		)
		if err != nil {
			return errors.WrapTransient(err, "NATSPublisher", "connect", "establish connection")
		}
		p.conn = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Connected", "url", config.URL, "subject", config.Subject)
	return p, nil
}

// Send publishes the message payload. Returns false while disconnected or
// when the client's reconnect buffer rejects the message.
func (p *NATSPublisher) Send(msg message.Message) bool {
	if !p.conn.IsConnected() {
		p.flow.dropped.Add(1)
		return false
	}

	subject := p.config.Subject
	if msg.Subject != "" {
		subject = msg.Subject
	}

	if err := p.conn.Publish(subject, msg.Payload); err != nil {
		p.flow.dropped.Add(1)
		p.logger.Debug("Publish failed", "subject", subject, "error", err)
		return false
	}

	p.flow.sent.Add(1)
	return true
}

// Stop drains buffered messages and closes the connection.
func (p *NATSPublisher) Stop() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("Drain failed, closing", "error", err)
		p.conn.Close()
	}
}

// Update publishes flow counters.
func (p *NATSPublisher) Update(registry *metric.MetricsRegistry) {
	p.flow.publish(registry, p.config.Name, "load_shed")
}
