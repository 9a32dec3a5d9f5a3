// Package buffer provides a generic fixed-capacity ring buffer with
// configurable overflow behaviour. Sinks use it to stage messages between a
// fast producer and a slower drain.
package buffer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ystre/dsp/metric"
)

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("buffer: closed")

	// ErrFull is returned by Write under the DropNewest policy when the
	// buffer is at capacity.
	ErrFull = errors.New("buffer: full")

	// ErrInvalidCapacity is returned for non-positive capacities.
	ErrInvalidCapacity = errors.New("buffer: capacity must be positive")
)

// OverflowPolicy defines what Write does when the buffer is at capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest staged item to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest rejects the incoming item.
	DropNewest
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback receives every item lost to the overflow policy.
type DropCallback[T any] func(item T)

// Buffer is a bounded FIFO staging area.
type Buffer[T any] interface {
	// Write stages one item. Under DropOldest a full buffer evicts its
	// oldest item; under DropNewest the incoming item is rejected with
	// ErrFull. Writing to a closed buffer returns ErrClosed.
	Write(item T) error

	// Read removes and returns the oldest item, false when empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items, oldest first.
	ReadBatch(max int) []T

	// Size returns the number of staged items.
	Size() int

	// Capacity returns the maximum number of staged items.
	Capacity() int

	// IsEmpty reports whether no items are staged.
	IsEmpty() bool

	// IsFull reports whether the buffer is at capacity.
	IsFull() bool

	// Clear discards all staged items.
	Clear()

	// Close rejects further writes. Staged items remain readable.
	Close() error
}

// Option configures a buffer.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]

	registry *metric.MetricsRegistry
	prefix   string
}

// WithOverflowPolicy sets the overflow behaviour, DropOldest by default.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback sets a callback invoked with every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = callback
	}
}

// WithMetrics exposes buffer size and drop counts as Prometheus metrics
// labelled with prefix.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && prefix != "" {
			o.registry = registry
			o.prefix = prefix
		}
	}
}

type bufferMetrics struct {
	size   prometheus.Gauge
	writes prometheus.Counter
	drops  prometheus.Counter
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dsp",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of staged items",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dsp",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total staged items",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dsp",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total items lost to the overflow policy",
		}),
	}

	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		return nil, err
	}
	return m, nil
}
