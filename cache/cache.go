// Package cache is the broadcast proxy between the processing side and the
// northbound sinks. Messages sent to the cache fan out to every attached
// sink. Sinks are attached during service startup; once traffic flows the
// set is fixed, so lookups and broadcasts take no locks.
package cache

import (
	"log/slog"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/northbound"
)

type entry struct {
	name string
	sink northbound.Interface
}

// Cache broadcasts messages to attached northbound sinks. Attach is only
// valid before the first Send; the service wires all sinks during startup
// and nothing mutates the set afterwards.
type Cache struct {
	logger  *slog.Logger
	entries []entry
	byName  map[string]northbound.Interface
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger: logger.With("component", "cache"),
		byName: make(map[string]northbound.Interface),
	}
}

// Attach registers a sink under a unique name. Must not be called
// concurrently with Send.
func (c *Cache) Attach(name string, sink northbound.Interface) error {
	if name == "" || sink == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Cache", "Attach", "sink registration")
	}
	if _, ok := c.byName[name]; ok {
		return errors.WrapInvalid(errors.ErrDuplicateSink,
			"Cache", "Attach", "sink registration")
	}

	c.entries = append(c.entries, entry{name: name, sink: sink})
	c.byName[name] = sink
	c.logger.Info("Sink attached", "name", name)
	return nil
}

// Send broadcasts the message to every sink in attach order. Returns true
// only if every sink accepted the message; a false return still delivers to
// the remaining sinks.
func (c *Cache) Send(msg message.Message) bool {
	ok := true
	for _, e := range c.entries {
		if !e.sink.Send(msg) {
			ok = false
		}
	}
	return ok
}

// Len returns the number of attached sinks.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Range calls fn for each sink in attach order until fn returns false.
func (c *Cache) Range(fn func(name string, sink northbound.Interface) bool) {
	for _, e := range c.entries {
		if !fn(e.name, e.sink) {
			return
		}
	}
}

// Update publishes the metrics of every attached sink.
func (c *Cache) Update(registry *metric.MetricsRegistry) {
	for _, e := range c.entries {
		e.sink.Update(registry)
	}
}

// Stop stops every sink in reverse attach order.
func (c *Cache) Stop() {
	for i := len(c.entries) - 1; i >= 0; i-- {
		c.entries[i].sink.Stop()
	}
}

// Get returns the sink registered under name as its concrete type. It fails
// with ErrUnknownSink for an unknown name and ErrTypeMismatch when the sink
// exists but has a different type.
func Get[T northbound.Interface](c *Cache, name string) (T, error) {
	var zero T

	sink, ok := c.byName[name]
	if !ok {
		return zero, errors.WrapInvalid(errors.ErrUnknownSink,
			"Cache", "Get", "sink lookup")
	}

	typed, ok := sink.(T)
	if !ok {
		return zero, errors.WrapInvalid(errors.ErrTypeMismatch,
			"Cache", "Get", "sink lookup")
	}
	return typed, nil
}
