// Package service assembles a runnable data stream processing service from
// configuration: one southbound interface feeding the application's handlers,
// a cache fanning out to northbound sinks, the metrics exposer, and a daemon
// that supervises the whole.
package service

import (
	"context"
	"log/slog"

	"github.com/ystre/dsp/cache"
	"github.com/ystre/dsp/config"
	"github.com/ystre/dsp/daemon"
	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/northbound"
	"github.com/ystre/dsp/router"
	"github.com/ystre/dsp/southbound"
	"github.com/ystre/dsp/tcp"
)

// Deps holds what the application provides to a Service. Factory is required
// for a TCP southbound, KafkaHandler for a Kafka southbound. Cache and Router
// are optional; the service builds them from configuration when nil, and
// attaches the configured sinks either way.
type Deps struct {
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry

	Factory      tcp.HandlerFactory
	KafkaHandler kafka.Handler

	// Kafka callbacks installed on every Kafka sink built from configuration.
	Delivery   kafka.DeliveryHandler
	Throttle   kafka.ThrottleHandler
	Statistics kafka.StatisticsHandler

	Cache  *cache.Cache
	Router *router.Router

	Signals *daemon.SignalState
}

// Service is one assembled runtime instance.
type Service struct {
	config   *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	cache  *cache.Cache
	router *router.Router
	south  southbound.Interface
	daemon *daemon.Daemon

	metricsServer *metric.Server
}

// New wires a service from configuration.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Service", "New", "configuration validation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", cfg.Service.Name)

	registry := deps.Registry
	if registry == nil {
		registry = metric.NewMetricsRegistry()
	}

	s := &Service{
		config:   cfg,
		logger:   logger,
		registry: registry,
		cache:    deps.Cache,
		router:   deps.Router,
	}

	if s.cache == nil {
		s.cache = cache.New(logger)
	}
	if s.router == nil {
		r, err := router.New(logger, cfg.Rules()...)
		if err != nil {
			return nil, err
		}
		s.router = r
	}

	if err := s.attachSinks(deps); err != nil {
		return nil, err
	}
	if err := s.buildSouthbound(deps); err != nil {
		s.cache.Stop()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		s.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	}

	s.daemon = daemon.New(logger, deps.Signals)
	s.daemon.Attach(s.watchdog)

	return s, nil
}

func (s *Service) attachSinks(deps Deps) error {
	for i := range s.config.Northbound {
		sinkCfg := &s.config.Northbound[i]

		var sink northbound.Interface
		var err error
		switch sinkCfg.Type {
		case config.TypeKafka:
			sink, err = northbound.NewKafkaProducer(*sinkCfg.Kafka,
				northbound.KafkaProducerDeps{
					Logger:     s.logger,
					Delivery:   deps.Delivery,
					Throttle:   deps.Throttle,
					Statistics: deps.Statistics,
				})
		case config.TypeNATS:
			sink, err = northbound.NewNATSPublisher(context.Background(), *sinkCfg.NATS,
				northbound.NATSPublisherDeps{Logger: s.logger})
		}
		if err != nil {
			s.cache.Stop()
			return err
		}

		if err := s.cache.Attach(sinkCfg.Name(), sink); err != nil {
			sink.Stop()
			s.cache.Stop()
			return err
		}
	}
	return nil
}

func (s *Service) buildSouthbound(deps Deps) error {
	switch s.config.Southbound.Type {
	case config.TypeTCP:
		listener, err := southbound.NewTCPListener(*s.config.Southbound.TCP,
			southbound.TCPListenerDeps{
				Logger:  s.logger,
				Factory: deps.Factory,
			})
		if err != nil {
			return err
		}
		s.south = listener
	case config.TypeKafka:
		listener, err := southbound.NewKafkaListener(*s.config.Southbound.Kafka,
			southbound.KafkaListenerDeps{
				Logger:  s.logger,
				Handler: deps.KafkaHandler,
			})
		if err != nil {
			return err
		}
		s.south = listener
	}
	return nil
}

// Cache returns the broadcast cache.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Router returns the routing table.
func (s *Service) Router() *router.Router {
	return s.router
}

// Registry returns the metrics registry.
func (s *Service) Registry() *metric.MetricsRegistry {
	return s.registry
}

// Southbound returns the ingress interface.
func (s *Service) Southbound() southbound.Interface {
	return s.south
}

// watchdog runs on every daemon tick and publishes interface metrics.
func (s *Service) watchdog() (bool, error) {
	s.south.Update(s.registry)
	s.cache.Update(s.registry)
	return true, nil
}

// Start runs the service until a signal or Stop. It blocks the calling
// goroutine and tears everything down before returning.
func (s *Service) Start() error {
	s.logger.Info("Starting service")
	s.registry.CoreMetrics().RecordServiceStatus(s.config.Service.Name, 1)

	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.Start(); err != nil {
				s.logger.Error("Metrics server failed", "error", err)
				s.registry.CoreMetrics().RecordError(s.config.Service.Name, "metrics_server")
			}
		}()
	}

	go s.south.Listener()()

	s.registry.CoreMetrics().RecordServiceStatus(s.config.Service.Name, 2)
	s.daemon.Start(s.config.Service.WatchdogInterval)

	s.logger.Info("Shutting down")
	s.registry.CoreMetrics().RecordServiceStatus(s.config.Service.Name, 3)
	s.south.Stop()
	s.cache.Stop()
	if s.metricsServer != nil {
		s.metricsServer.Stop()
	}
	s.registry.CoreMetrics().RecordServiceStatus(s.config.Service.Name, 0)
	s.logger.Info("Service stopped")
	return nil
}

// Stop makes Start return. Safe to call from any goroutine.
func (s *Service) Stop() {
	s.daemon.Stop()
}
