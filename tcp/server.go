package tcp

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ystre/dsp/errors"
)

const (
	// DefaultBufferCapacity is the per-connection read buffer size. A frame
	// larger than this cannot ever complete and fails the connection.
	DefaultBufferCapacity = 1 << 20

	// readPollInterval bounds how long a blocked read can delay shutdown.
	readPollInterval = 100 * time.Millisecond
)

// ServerConfig holds TCP server configuration.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	BufferCapacity int    `yaml:"buffer-capacity"`
}

// Validate checks the configuration and applies defaults.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("port %d out of range", c.Port),
			"ServerConfig", "Validate", "port validation")
	}
	if c.BufferCapacity < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("buffer capacity %d is negative", c.BufferCapacity),
			"ServerConfig", "Validate", "buffer validation")
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	return nil
}

// ServerMetrics exposes server counters as atomics. Connections is maintained
// with a deferred decrement so it stays exact even when a handler panics.
type ServerMetrics struct {
	Connections   atomic.Int64 // currently open connections
	Accepted      atomic.Int64 // total accepted connections
	BytesRead     atomic.Int64 // total bytes read from all connections
	BufferedBytes atomic.Int64 // bytes held in connection buffers awaiting a complete frame
}

// ServerDeps holds the dependencies for a Server.
type ServerDeps struct {
	Logger  *slog.Logger
	Factory HandlerFactory
}

// Server accepts TCP connections and feeds each one to a per-connection
// Handler created by the configured factory.
type Server struct {
	config  ServerConfig
	logger  *slog.Logger
	factory HandlerFactory

	listener net.Listener
	metrics  ServerMetrics

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]net.Conn
}

// NewServer creates a Server. The factory may be nil and set later with
// SetFactory, but must be set before Serve.
func NewServer(config ServerConfig, deps ServerDeps) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:   config,
		logger:   logger.With("component", "tcp-server"),
		factory:  deps.Factory,
		shutdown: make(chan struct{}),
		conns:    make(map[string]net.Conn),
	}, nil
}

// SetFactory sets the handler factory. Must be called before Serve.
func (s *Server) SetFactory(factory HandlerFactory) {
	s.factory = factory
}

// Metrics returns the server counters.
func (s *Server) Metrics() *ServerMetrics {
	return &s.metrics
}

// Addr returns the bound listener address, or empty before Bind.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, useful when configured with port 0.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Bind creates the listening socket without accepting connections yet.
func (s *Server) Bind() error {
	if s.listener != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Server", "Bind", "bind listener")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapTransient(err, "Server", "Bind",
			fmt.Sprintf("listen on %s", addr))
	}

	s.listener = listener
	s.logger.Info("Listening", "address", listener.Addr().String())
	return nil
}

// Serve runs the accept loop until Stop is called. It binds first if Bind was
// not called. Serve returns nil on orderly shutdown.
func (s *Server) Serve() error {
	if s.factory == nil {
		return errors.WrapInvalid(
			fmt.Errorf("no handler factory"),
			"Server", "Serve", "factory validation")
	}
	if s.listener == nil {
		if err := s.Bind(); err != nil {
			return err
		}
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Server", "Serve", "start accept loop")
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		s.metrics.Accepted.Add(1)
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and waits up to timeout for connection goroutines
// to drain. Connections still open after the timeout are force-closed.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Server stopped")
		return nil
	case <-time.After(timeout):
		s.mu.Lock()
		for _, conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Warn("Server stopped after forcing connections closed")
		return nil
	}
}

func (s *Server) track(id string, conn net.Conn) {
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// handleConnection owns one connection for its lifetime.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	info := ConnInfo{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		LocalAddr:  conn.LocalAddr().String(),
	}

	s.track(info.ID, conn)
	s.metrics.Connections.Add(1)
	defer func() {
		// Decrement exactly once, also on panic paths.
		s.metrics.Connections.Add(-1)
		s.untrack(info.ID)
		_ = conn.Close()
	}()

	handler := s.factory.Create()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked",
				"connection", info.ID,
				"panic", r)
			s.notifyError(handler, info, errors.WrapFatal(
				fmt.Errorf("%w: %v", errors.ErrHandlerPanic, r),
				"Server", "handleConnection", "process data"))
		}
	}()

	handler.OnConnect(info)
	s.readLoop(conn, info, handler)
}

// readLoop reads into the connection buffer and offers buffered bytes to the
// handler until the peer disconnects, an error occurs, or the server stops.
func (s *Server) readLoop(conn net.Conn, info ConnInfo, handler Handler) {
	buf := make([]byte, s.config.BufferCapacity)
	fill := 0

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			s.notifyError(handler, info, errors.WrapTransient(err,
				"Server", "readLoop", "set read deadline"))
			return
		}

		n, err := conn.Read(buf[fill:])
		if n > 0 {
			fill += n
			s.metrics.BytesRead.Add(int64(n))
			s.metrics.BufferedBytes.Add(int64(n))

			consumed, perr := s.drain(handler, buf[:fill])
			if consumed > 0 {
				copy(buf, buf[consumed:fill])
				fill -= consumed
				s.metrics.BufferedBytes.Add(int64(-consumed))
			}
			if perr != nil {
				s.metrics.BufferedBytes.Add(int64(-fill))
				s.notifyError(handler, info, perr)
				return
			}
			if fill == len(buf) {
				// A full buffer that still holds no complete frame can
				// never make progress.
				s.metrics.BufferedBytes.Add(int64(-fill))
				s.notifyError(handler, info, errors.WrapInvalid(
					errors.ErrBufferOverflow,
					"Server", "readLoop", "frame assembly"))
				return
			}
		}

		if err != nil {
			var netErr net.Error
			switch {
			case stderrors.As(err, &netErr) && netErr.Timeout():
				continue
			case stderrors.Is(err, io.EOF):
				s.metrics.BufferedBytes.Add(int64(-fill))
				handler.OnDisconnect(info)
				return
			default:
				s.metrics.BufferedBytes.Add(int64(-fill))
				s.notifyError(handler, info, errors.WrapTransient(err,
					"Server", "readLoop", "read"))
				return
			}
		}
	}
}

// drain repeatedly offers the buffered window to the handler until it reports
// it needs more data. Returns total bytes consumed.
func (s *Server) drain(handler Handler, window []byte) (int, error) {
	total := 0
	for total < len(window) {
		consumed, err := handler.Process(window[total:])
		if err != nil {
			return total, errors.Wrap(err, "Server", "drain", "process frame")
		}
		if consumed == 0 {
			break
		}
		if consumed > len(window)-total {
			return total, errors.WrapInvalid(
				fmt.Errorf("handler consumed %d of %d available bytes",
					consumed, len(window)-total),
				"Server", "drain", "consumption accounting")
		}
		total += consumed
	}
	return total, nil
}

// notifyError reports an error to the handler, shielding the server from a
// panicking error callback.
func (s *Server) notifyError(handler Handler, info ConnInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler error callback panicked",
				"connection", info.ID,
				"panic", r)
		}
	}()
	handler.OnError(info, err)
}
