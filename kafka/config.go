// Package kafka wraps franz-go with the producer and consumer semantics of
// the runtime: bounded asynchronous production with delivery-report routing,
// and batch consumption with per-partition end-of-stream signaling.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ystre/dsp/errors"
)

// Offset reset policies for group consumers without a committed offset.
const (
	OffsetEarliest = "earliest"
	OffsetLatest   = "latest"
)

const (
	defaultQueueCapacity   = 100000
	defaultMaxMessageBytes = 1 << 20
)

// TLSConfig holds file-based TLS material. CertFile and KeyFile enable mutual
// TLS and must be set together.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca-file"`
	CertFile           string `yaml:"cert-file"`
	KeyFile            string `yaml:"key-file"`
	InsecureSkipVerify bool   `yaml:"insecure-skip-verify"`
}

// Config holds the settings shared by producers and consumers.
type Config struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client-id"`

	// Producer settings.
	QueueCapacity   int           `yaml:"queue-capacity"`
	MaxMessageBytes int           `yaml:"max-message-bytes"`
	Linger          time.Duration `yaml:"linger"`

	// Consumer settings.
	GroupID            string `yaml:"group-id"`
	OffsetReset        string `yaml:"offset-reset"`
	EnablePartitionEOF bool   `yaml:"enable-partition-eof"`

	// StatisticsInterval enables periodic statistics callbacks when positive.
	StatisticsInterval time.Duration `yaml:"statistics-interval"`

	TLS TLSConfig `yaml:"tls"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "broker list validation")
	}
	if c.QueueCapacity < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("queue capacity %d is negative", c.QueueCapacity),
			"Config", "Validate", "queue capacity validation")
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}
	if c.OffsetReset == "" {
		c.OffsetReset = OffsetLatest
	}
	if c.OffsetReset != OffsetEarliest && c.OffsetReset != OffsetLatest {
		return errors.WrapInvalid(
			fmt.Errorf("unknown offset reset policy %q", c.OffsetReset),
			"Config", "Validate", "offset reset validation")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.WrapInvalid(
			fmt.Errorf("cert-file and key-file must be set together"),
			"Config", "Validate", "TLS validation")
	}
	return nil
}

// clientOpts builds the kgo options common to producers and consumers.
func (c *Config) clientOpts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
	}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	if c.TLS.Enabled {
		tlsCfg, err := c.TLS.load()
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	return opts, nil
}

func (t *TLSConfig) load() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "TLSConfig", "load", "read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("no certificates found in %s", t.CAFile),
				"TLSConfig", "load", "parse CA file")
		}
		cfg.RootCAs = pool
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "TLSConfig", "load", "load client key pair")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
