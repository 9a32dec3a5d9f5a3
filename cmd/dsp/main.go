// Package main implements the entry point for the DSP service. DSP is a data
// stream processing runtime that moves telemetry from stream-oriented ingress
// interfaces through routing rules to Kafka and NATS egress interfaces.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/ystre/dsp/cache"
	"github.com/ystre/dsp/config"
	"github.com/ystre/dsp/daemon"
	"github.com/ystre/dsp/kafka"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/router"
	"github.com/ystre/dsp/service"
	"github.com/ystre/dsp/tcp"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dsp"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if cliCfg.Validate {
		fmt.Println("Configuration is valid")
		return nil
	}

	// CLI log level wins over the configured one
	level := cfg.Service.LogLevel
	if cliCfg.LogLevel != "" {
		level = cliCfg.LogLevel
	}
	logger := setupLogger(level, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting DSP (data stream processing)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	signals := daemon.NewSignalState(logger)
	signals.Install()
	defer signals.Uninstall()

	registry := metric.NewMetricsRegistry()

	msgCache := cache.New(logger)
	msgRouter, err := router.New(logger, cfg.Rules()...)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	if err := msgCache.Attach("custom-nb", &logSink{logger: logger.With("component", "custom-nb")}); err != nil {
		return fmt.Errorf("attaching custom sink: %w", err)
	}

	svc, err := service.New(cfg, service.Deps{
		Logger:       logger,
		Registry:     registry,
		Factory:      handlerFactory(cfg, msgCache, msgRouter, registry, logger),
		KafkaHandler: kafka.NewFrame(newKafkaIngressHandler(msgCache, registry, cfg.App.Topic), logger),
		Delivery:     &deliveryReporter{registry: registry, logger: logger.With("component", "kafka")},
		Throttle:     &throttleReporter{registry: registry},
		Statistics:   &statisticsReporter{logger: logger.With("component", "kafka")},
		Cache:        msgCache,
		Router:       msgRouter,
		Signals:      signals,
	})
	if err != nil {
		return fmt.Errorf("assembling service: %w", err)
	}

	if err := svc.Start(); err != nil {
		return err
	}

	logger.Info("Service stopped")
	return nil
}

// handlerFactory builds one ingress handler per accepted connection according
// to the configured handler type.
func handlerFactory(
	cfg *config.Config,
	msgCache *cache.Cache,
	msgRouter *router.Router,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) tcp.HandlerFactory {
	handlerLogger := logger.With("component", "handler")

	switch cfg.App.Handler {
	case config.HandlerPassthrough:
		return tcp.HandlerFactoryFunc(func() tcp.Handler {
			return tcp.NewFrame(newPassthroughHandler(msgCache, registry, cfg.App.Topic), handlerLogger)
		})
	default:
		return tcp.HandlerFactoryFunc(func() tcp.Handler {
			return tcp.NewFrame(newTelemetryHandler(msgCache, msgRouter, registry), handlerLogger)
		})
	}
}
