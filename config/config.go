// Package config holds the resolved service configuration and its YAML
// loader. Component packages own their config types; this package composes
// them into one document and validates the whole before anything starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/northbound"
	"github.com/ystre/dsp/router"
	"github.com/ystre/dsp/southbound"
)

// Interface type names accepted in the configuration.
const (
	TypeTCP   = "tcp"
	TypeKafka = "kafka"
	TypeNATS  = "nats"
)

// ServiceConfig holds service-wide settings.
type ServiceConfig struct {
	Name string `yaml:"name"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log-level"`

	// WatchdogInterval is the daemon tick driving metric updates.
	WatchdogInterval time.Duration `yaml:"watchdog-interval"`
}

// Validate checks the configuration and applies defaults.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ServiceConfig", "Validate", "name validation")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", c.LogLevel),
			"ServiceConfig", "Validate", "log level validation")
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = time.Second
	}
	return nil
}

// MetricsConfig configures the Prometheus exposer.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Validate checks the configuration and applies defaults.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("port %d out of range", c.Port),
			"MetricsConfig", "Validate", "port validation")
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
	return nil
}

// Handler names accepted in the app section.
const (
	HandlerTelemetry   = "telemetry"
	HandlerPassthrough = "passthrough"
)

// AppConfig holds application-level settings consumed by the entry point
// rather than the runtime itself.
type AppConfig struct {
	// Handler selects the ingress protocol, telemetry or passthrough.
	Handler string `yaml:"handler"`

	// Topic is the subject stamped on messages by handlers that do not
	// derive one from the payload.
	Topic string `yaml:"topic"`
}

// Validate checks the configuration and applies defaults.
func (c *AppConfig) Validate() error {
	if c.Handler == "" {
		c.Handler = HandlerTelemetry
	}
	switch c.Handler {
	case HandlerTelemetry:
	case HandlerPassthrough:
		if c.Topic == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"AppConfig", "Validate", "topic validation")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: handler %q", errors.ErrUnknownVariant, c.Handler),
			"AppConfig", "Validate", "handler validation")
	}
	return nil
}

// SouthboundConfig selects and configures the single ingress interface.
type SouthboundConfig struct {
	Type  string                          `yaml:"type"`
	TCP   *southbound.TCPListenerConfig   `yaml:"tcp,omitempty"`
	Kafka *southbound.KafkaListenerConfig `yaml:"kafka,omitempty"`
}

// Validate checks that exactly the selected variant is configured.
func (c *SouthboundConfig) Validate() error {
	switch c.Type {
	case TypeTCP:
		if c.TCP == nil {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"SouthboundConfig", "Validate", "tcp section validation")
		}
		return c.TCP.Validate()
	case TypeKafka:
		if c.Kafka == nil {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"SouthboundConfig", "Validate", "kafka section validation")
		}
		return c.Kafka.Validate()
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: southbound type %q", errors.ErrUnknownVariant, c.Type),
			"SouthboundConfig", "Validate", "type validation")
	}
}

// SinkConfig selects and configures one egress sink.
type SinkConfig struct {
	Type  string                          `yaml:"type"`
	Kafka *northbound.KafkaProducerConfig `yaml:"kafka,omitempty"`
	NATS  *northbound.NATSPublisherConfig `yaml:"nats,omitempty"`
}

// Name returns the sink's registration name.
func (c *SinkConfig) Name() string {
	switch c.Type {
	case TypeKafka:
		if c.Kafka != nil {
			return c.Kafka.Name
		}
	case TypeNATS:
		if c.NATS != nil {
			return c.NATS.Name
		}
	}
	return ""
}

// Validate checks that exactly the selected variant is configured.
func (c *SinkConfig) Validate() error {
	switch c.Type {
	case TypeKafka:
		if c.Kafka == nil {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"SinkConfig", "Validate", "kafka section validation")
		}
		return c.Kafka.Validate()
	case TypeNATS:
		if c.NATS == nil {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"SinkConfig", "Validate", "nats section validation")
		}
		return c.NATS.Validate()
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: sink type %q", errors.ErrUnknownVariant, c.Type),
			"SinkConfig", "Validate", "type validation")
	}
}

// RuleConfig is the YAML form of one routing rule.
type RuleConfig struct {
	Name        string `yaml:"name"`
	Priority    int    `yaml:"priority"`
	Key         string `yaml:"key"`
	Value       string `yaml:"value"`
	Action      string `yaml:"action"`
	Destination string `yaml:"destination"`
	Subject     string `yaml:"subject"`
}

// Rule converts the YAML form to a router rule.
func (c *RuleConfig) Rule() (router.Rule, error) {
	action, err := router.ParseAction(c.Action)
	if err != nil {
		return router.Rule{}, err
	}
	return router.Rule{
		Name:        c.Name,
		Priority:    c.Priority,
		Key:         c.Key,
		Value:       c.Value,
		Action:      action,
		Destination: c.Destination,
		Subject:     c.Subject,
	}, nil
}

// Config is the complete service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	App        AppConfig        `yaml:"app"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Southbound SouthboundConfig `yaml:"southbound"`
	Northbound []SinkConfig     `yaml:"northbound"`
	Router     []RuleConfig     `yaml:"router"`
}

// Validate checks the whole document and applies defaults.
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return err
	}
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.Southbound.Validate(); err != nil {
		return err
	}

	names := make(map[string]struct{}, len(c.Northbound))
	for i := range c.Northbound {
		if err := c.Northbound[i].Validate(); err != nil {
			return err
		}
		name := c.Northbound[i].Name()
		if _, ok := names[name]; ok {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrDuplicateSink, name),
				"Config", "Validate", "sink name validation")
		}
		names[name] = struct{}{}
	}

	for i := range c.Router {
		if _, err := c.Router[i].Rule(); err != nil {
			return err
		}
	}
	return nil
}

// Rules converts the router section. Validate must have passed.
func (c *Config) Rules() []router.Rule {
	rules := make([]router.Rule, 0, len(c.Router))
	for i := range c.Router {
		rule, err := c.Router[i].Rule()
		if err != nil {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// Load reads and validates a YAML configuration file. Unknown fields are
// rejected to catch typos early.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "open file")
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
