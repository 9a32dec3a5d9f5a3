// Package worker provides a generic bounded worker pool. Sinks use it to
// drain staged messages concurrently without unbounded goroutine growth.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ystre/dsp/metric"
)

var (
	// ErrNilProcessor is raised when a pool is built without a processor.
	ErrNilProcessor = errors.New("worker: nil processor")

	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("worker: pool not started")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker: pool stopped")

	// ErrQueueFull is returned by Submit when the work queue is full.
	ErrQueueFull = errors.New("worker: queue full")

	// ErrStopTimeout is returned by Stop when workers do not finish in time.
	ErrStopTimeout = errors.New("worker: stop timed out")
)

// Pool runs a fixed number of workers over a bounded work queue. Submit never
// blocks; a full queue sheds the item.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	work chan T
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers queue and throughput metrics for the pool
// under the given prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		if registry != nil && prefix != "" {
			p.metrics = newPoolMetrics(registry, prefix)
		}
	}
}

// NewPool creates a pool of workers draining a queue of queueSize items into
// processor. Zero or negative sizes fall back to defaults.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		work:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. The context cancels in-flight processing.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("worker: pool already started")
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Submit offers one item to the queue without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.work <- item:
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.work)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.work)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers    int
	QueueDepth int
	Processed  int64
	Failed     int64
	Dropped    int64
}

// Stats returns a snapshot of pool activity.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.work),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.work {
		err := p.processor(ctx, item)
		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
		}

		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.work)))
			if err != nil {
				p.metrics.failed.Inc()
			} else {
				p.metrics.processed.Inc()
			}
		}
	}
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dsp",
			Subsystem:   "worker",
			Name:        "queue_depth",
			ConstLabels: prometheus.Labels{"pool": prefix},
			Help:        "Current number of queued work items",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dsp",
			Subsystem:   "worker",
			Name:        "processed_total",
			ConstLabels: prometheus.Labels{"pool": prefix},
			Help:        "Total successfully processed work items",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dsp",
			Subsystem:   "worker",
			Name:        "failed_total",
			ConstLabels: prometheus.Labels{"pool": prefix},
			Help:        "Total work items whose processing failed",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dsp",
			Subsystem:   "worker",
			Name:        "dropped_total",
			ConstLabels: prometheus.Labels{"pool": prefix},
			Help:        "Total work items shed because the queue was full",
		}),
	}

	_ = registry.RegisterGauge(prefix, "worker_queue_depth", m.queueDepth)
	_ = registry.RegisterCounter(prefix, "worker_processed", m.processed)
	_ = registry.RegisterCounter(prefix, "worker_failed", m.failed)
	_ = registry.RegisterCounter(prefix, "worker_dropped", m.dropped)

	return m
}
