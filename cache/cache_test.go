package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/message"
	"github.com/ystre/dsp/metric"
	"github.com/ystre/dsp/northbound"
)

type stubSink struct {
	name     string
	accept   bool
	received []message.Message
	stopped  bool
	updated  int
}

func (s *stubSink) Send(msg message.Message) bool {
	s.received = append(s.received, msg)
	return s.accept
}

func (s *stubSink) Stop() { s.stopped = true }

func (s *stubSink) Update(*metric.MetricsRegistry) { s.updated++ }

// otherSink is a second concrete type for lookup tests.
type otherSink struct{ stubSink }

func TestCache_SendBroadcasts(t *testing.T) {
	c := New(nil)
	first := &stubSink{accept: true}
	second := &stubSink{accept: true}
	require.NoError(t, c.Attach("first", first))
	require.NoError(t, c.Attach("second", second))

	msg := message.Message{Payload: []byte("hello")}
	assert.True(t, c.Send(msg))
	require.Len(t, first.received, 1)
	require.Len(t, second.received, 1)
}

func TestCache_SendReportsRejection(t *testing.T) {
	c := New(nil)
	rejecting := &stubSink{accept: false}
	accepting := &stubSink{accept: true}
	require.NoError(t, c.Attach("rejecting", rejecting))
	require.NoError(t, c.Attach("accepting", accepting))

	assert.False(t, c.Send(message.Message{Payload: []byte("x")}))
	assert.Len(t, accepting.received, 1, "rejection must not stop the broadcast")
}

func TestCache_AttachDuplicate(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Attach("sink", &stubSink{}))

	err := c.Attach("sink", &stubSink{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateSink)
	assert.Equal(t, 1, c.Len())
}

func TestCache_AttachInvalid(t *testing.T) {
	c := New(nil)
	assert.Error(t, c.Attach("", &stubSink{}))
	assert.Error(t, c.Attach("sink", nil))
}

func TestCache_Get(t *testing.T) {
	c := New(nil)
	sink := &stubSink{name: "a"}
	require.NoError(t, c.Attach("a", sink))
	require.NoError(t, c.Attach("b", &otherSink{}))

	got, err := Get[*stubSink](c, "a")
	require.NoError(t, err)
	assert.Same(t, sink, got)

	_, err = Get[*stubSink](c, "missing")
	assert.ErrorIs(t, err, errors.ErrUnknownSink)

	_, err = Get[*stubSink](c, "b")
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestCache_Range(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Attach("a", &stubSink{}))
	require.NoError(t, c.Attach("b", &stubSink{}))
	require.NoError(t, c.Attach("c", &stubSink{}))

	var visited []string
	c.Range(func(name string, _ northbound.Interface) bool {
		visited = append(visited, name)
		return name != "b"
	})
	assert.Equal(t, []string{"a", "b"}, visited, "attach order, stopping early")
}

func TestCache_StopAndUpdate(t *testing.T) {
	c := New(nil)
	first := &stubSink{}
	second := &stubSink{}
	require.NoError(t, c.Attach("first", first))
	require.NoError(t, c.Attach("second", second))

	c.Update(metric.NewMetricsRegistry())
	assert.Equal(t, 1, first.updated)
	assert.Equal(t, 1, second.updated)

	c.Stop()
	assert.True(t, first.stopped)
	assert.True(t, second.stopped)
}
