package southbound

import (
	"log/slog"
	"time"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/tcp"
)

// TCPListenerConfig configures a TCPListener.
type TCPListenerConfig struct {
	// Name identifies the interface in logs and metric labels.
	Name string `yaml:"name"`

	TCP tcp.ServerConfig `yaml:"tcp"`

	// StopTimeout bounds the connection drain on Stop.
	StopTimeout time.Duration `yaml:"stop-timeout"`
}

// Validate checks the configuration and applies defaults.
func (c *TCPListenerConfig) Validate() error {
	if c.Name == "" {
		c.Name = "tcp"
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c.TCP.Validate()
}

// TCPListenerDeps holds the dependencies for a TCPListener.
type TCPListenerDeps struct {
	Logger  *slog.Logger
	Factory tcp.HandlerFactory
}

// TCPListener is an ingress interface backed by a TCP server. The port is
// bound during construction so a bad address fails startup, not the listener
// goroutine.
type TCPListener struct {
	config TCPListenerConfig
	logger *slog.Logger
	server *tcp.Server

	bytesPublished int64
}

var _ Interface = (*TCPListener)(nil)

// NewTCPListener creates the interface and binds its port.
func NewTCPListener(config TCPListenerConfig, deps TCPListenerDeps) (*TCPListener, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Factory == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"TCPListener", "NewTCPListener", "handler factory validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "southbound", "interface", config.Name)

	server, err := tcp.NewServer(config.TCP, tcp.ServerDeps{
		Logger:  logger,
		Factory: deps.Factory,
	})
	if err != nil {
		return nil, err
	}
	if err := server.Bind(); err != nil {
		return nil, err
	}

	logger.Info("Listening", "address", server.Addr())
	return &TCPListener{
		config: config,
		logger: logger,
		server: server,
	}, nil
}

// Port returns the bound port, useful with port 0 in the configuration.
func (l *TCPListener) Port() int {
	return l.server.Port()
}

// Listener returns the blocking accept loop.
func (l *TCPListener) Listener() func() {
	return func() {
		if err := l.server.Serve(); err != nil {
			l.logger.Error("Accept loop failed", "error", err)
		}
	}
}

// Stop drains connections and closes the listener.
func (l *TCPListener) Stop() {
	if err := l.server.Stop(l.config.StopTimeout); err != nil {
		l.logger.Warn("Stop forced open connections closed", "error", err)
	}
}

// Update publishes connection and byte counters.
func (l *TCPListener) Update(registry *metric.MetricsRegistry) {
	m := l.server.Metrics()
	labels := metric.Labels{"interface": l.config.Name}

	_ = registry.Set(metricConnections, float64(m.Connections.Load()), labels)
	_ = registry.Set(metricBufferedBytes, float64(m.BufferedBytes.Load()), labels)

	bytes := m.BytesRead.Load()
	if delta := bytes - l.bytesPublished; delta > 0 {
		if err := registry.Increment(metricBytesReceived, float64(delta), labels); err == nil {
			l.bytesPublished = bytes
		}
	}
}
