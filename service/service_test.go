package service

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystre/dsp/cache"
	"github.com/ystre/dsp/config"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/southbound"
	"github.com/ystre/dsp/tcp"
)

// captureSink collects everything broadcast through the cache.
type captureSink struct {
	mu       sync.Mutex
	received []message.Message
	updated  int
	stopped  bool
}

func (s *captureSink) Send(msg message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	return true
}

func (s *captureSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *captureSink) Update(*metric.MetricsRegistry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated++
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// forwardHandler pushes every received chunk into the cache as one message.
type forwardHandler struct {
	cache *cache.Cache
}

func (h *forwardHandler) OnConnect(tcp.ConnInfo)      {}
func (h *forwardHandler) OnDisconnect(tcp.ConnInfo)   {}
func (h *forwardHandler) OnError(tcp.ConnInfo, error) {}

func (h *forwardHandler) Process(data []byte) (int, error) {
	payload := make([]byte, len(data))
	copy(payload, data)
	h.cache.Send(message.Message{Payload: payload})
	return len(data), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Name:             "svc-test",
			WatchdogInterval: 20 * time.Millisecond,
		},
		Southbound: config.SouthboundConfig{
			Type: config.TypeTCP,
			TCP: &southbound.TCPListenerConfig{
				Name: "ingress",
				TCP:  tcp.ServerConfig{Host: "127.0.0.1", Port: 0},
			},
		},
	}
}

func startService(t *testing.T, svc *Service) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		_ = svc.Start()
		close(done)
	}()

	t.Cleanup(func() {
		svc.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("service did not stop")
		}
	})
}

func TestService_EndToEnd(t *testing.T) {
	c := cache.New(nil)
	sink := &captureSink{}
	require.NoError(t, c.Attach("capture", sink))

	svc, err := New(testConfig(), Deps{
		Cache: c,
		Factory: tcp.HandlerFactoryFunc(func() tcp.Handler {
			return &forwardHandler{cache: c}
		}),
	})
	require.NoError(t, err)
	startService(t, svc)

	listener, ok := svc.Southbound().(*southbound.TCPListener)
	require.True(t, ok)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", listener.Port()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("telemetry"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	payload := sink.received[0].Payload
	sink.mu.Unlock()
	assert.Equal(t, []byte("telemetry"), payload)
}

func TestService_WatchdogUpdatesSinks(t *testing.T) {
	c := cache.New(nil)
	sink := &captureSink{}
	require.NoError(t, c.Attach("capture", sink))

	svc, err := New(testConfig(), Deps{
		Cache: c,
		Factory: tcp.HandlerFactoryFunc(func() tcp.Handler {
			return &forwardHandler{cache: c}
		}),
	})
	require.NoError(t, err)
	startService(t, svc)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.updated >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_StopStopsSinks(t *testing.T) {
	c := cache.New(nil)
	sink := &captureSink{}
	require.NoError(t, c.Attach("capture", sink))

	svc, err := New(testConfig(), Deps{
		Cache: c,
		Factory: tcp.HandlerFactoryFunc(func() tcp.Handler {
			return &forwardHandler{cache: c}
		}),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = svc.Start()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	svc.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.stopped)
}

func TestService_RequiresConfig(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.Error(t, err)
}

func TestService_MissingFactory(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err, "TCP southbound needs a handler factory")
}
