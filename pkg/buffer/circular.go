package buffer

import (
	"sync"
)

// circularBuffer is a mutex-guarded ring over a fixed slice.
type circularBuffer[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	count  int
	closed bool

	opts    *options[T]
	metrics *bufferMetrics
}

var _ Buffer[int] = (*circularBuffer[int])(nil)

// NewCircularBuffer creates a ring buffer holding up to capacity items.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	b := &circularBuffer[T]{
		items: make([]T, capacity),
		opts:  o,
	}

	if o.registry != nil {
		m, err := newBufferMetrics(o.registry, o.prefix)
		if err != nil {
			return nil, err
		}
		b.metrics = m
	}

	return b, nil
}

func (b *circularBuffer[T]) Write(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if b.count == len(b.items) {
		if b.opts.policy == DropNewest {
			b.drop(item)
			return ErrFull
		}
		oldest := b.items[b.head]
		b.head = (b.head + 1) % len(b.items)
		b.count--
		b.drop(oldest)
	}

	b.items[(b.head+b.count)%len(b.items)] = item
	b.count++

	if b.metrics != nil {
		b.metrics.writes.Inc()
		b.metrics.size.Set(float64(b.count))
	}
	return nil
}

func (b *circularBuffer[T]) Read() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}
	return b.take(), true
}

func (b *circularBuffer[T]) ReadBatch(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 || b.count == 0 {
		return nil
	}

	n := max
	if n > b.count {
		n = b.count
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.take())
	}
	return out
}

// take removes the oldest item. Caller holds the lock and has checked count.
func (b *circularBuffer[T]) take() T {
	var zero T
	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.count--

	if b.metrics != nil {
		b.metrics.size.Set(float64(b.count))
	}
	return item
}

func (b *circularBuffer[T]) drop(item T) {
	if b.metrics != nil {
		b.metrics.drops.Inc()
	}
	if b.opts.dropCallback != nil {
		b.opts.dropCallback(item)
	}
}

func (b *circularBuffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *circularBuffer[T]) Capacity() int {
	return len(b.items)
}

func (b *circularBuffer[T]) IsEmpty() bool {
	return b.Size() == 0
}

func (b *circularBuffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == len(b.items)
}

func (b *circularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.count = 0

	if b.metrics != nil {
		b.metrics.size.Set(0)
	}
}

func (b *circularBuffer[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
