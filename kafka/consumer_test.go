package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ystre/dsp/errors"
)

// fakeConsumeClient returns pre-queued fetches in order. Once drained, polls
// return a fetch carrying only a deadline error, like an idle broker would.
type fakeConsumeClient struct {
	mu       sync.Mutex
	fetches  []kgo.Fetches
	added    []string
	buffered int64
	closed   bool
}

func (f *fakeConsumeClient) PollRecords(_ context.Context, _ int) kgo.Fetches {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.fetches) == 0 {
		return timeoutFetches("idle", 0)
	}
	next := f.fetches[0]
	f.fetches = f.fetches[1:]
	return next
}

func (f *fakeConsumeClient) AddConsumeTopics(topics ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, topics...)
}

func (f *fakeConsumeClient) BufferedFetchRecords() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeConsumeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func dataFetches(topic string, partition int32, highWatermark int64, offsets ...int64) kgo.Fetches {
	recs := make([]*kgo.Record, 0, len(offsets))
	for _, off := range offsets {
		recs = append(recs, &kgo.Record{
			Topic:     topic,
			Partition: partition,
			Offset:    off,
			Key:       []byte("k"),
			Value:     []byte("v"),
		})
	}
	return partitionFetches(topic, kgo.FetchPartition{
		Partition:     partition,
		HighWatermark: highWatermark,
		Records:       recs,
	})
}

func errFetches(topic string, partition int32, err error) kgo.Fetches {
	return partitionFetches(topic, kgo.FetchPartition{
		Partition: partition,
		Err:       err,
	})
}

func timeoutFetches(topic string, partition int32) kgo.Fetches {
	return errFetches(topic, partition, context.DeadlineExceeded)
}

func partitionFetches(topic string, partitions ...kgo.FetchPartition) kgo.Fetches {
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic:      topic,
			Partitions: partitions,
		}},
	}}
}

func newTestConsumer(t *testing.T, client *fakeConsumeClient, enableEOF bool) *Consumer {
	t.Helper()

	cfg := Config{
		Brokers:            []string{"localhost:9092"},
		GroupID:            "test-group",
		EnablePartitionEOF: enableEOF,
	}
	consumer, err := NewConsumer(cfg, ConsumerDeps{})
	require.NoError(t, err)
	consumer.newClient = func(_ []string) (consumeClient, error) {
		return client, nil
	}
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

func TestConsumer_ConsumeWithoutSubscribe(t *testing.T) {
	consumer := newTestConsumer(t, &fakeConsumeClient{}, false)

	_, err := consumer.Consume(context.Background(), 10, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotSubscribed)
}

func TestConsumer_SubscribeEmptyTopics(t *testing.T) {
	consumer := newTestConsumer(t, &fakeConsumeClient{}, false)
	assert.Error(t, consumer.Subscribe())
}

func TestConsumer_SubscribeAddsTopicsToExistingClient(t *testing.T) {
	client := &fakeConsumeClient{}
	consumer := newTestConsumer(t, client, false)

	require.NoError(t, consumer.Subscribe("first"))
	require.NoError(t, consumer.Subscribe("second", "third"))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"second", "third"}, client.added)
}

func TestConsumer_Consume_DataRecords(t *testing.T) {
	client := &fakeConsumeClient{
		fetches: []kgo.Fetches{dataFetches("events", 0, 100, 10, 11, 12)},
	}
	consumer := newTestConsumer(t, client, false)
	require.NoError(t, consumer.Subscribe("events"))

	records, err := consumer.Consume(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, rec := range records {
		assert.True(t, rec.OK())
		assert.False(t, rec.EOF())
		assert.Equal(t, "events", rec.Topic())
		assert.Equal(t, int64(10+i), rec.Offset())
		assert.Equal(t, []byte("v"), rec.Payload())
	}
}

func TestConsumer_Consume_TimeoutIsEmptyBatch(t *testing.T) {
	consumer := newTestConsumer(t, &fakeConsumeClient{}, false)
	require.NoError(t, consumer.Subscribe("events"))

	records, err := consumer.Consume(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestConsumer_Consume_PartitionError(t *testing.T) {
	client := &fakeConsumeClient{
		fetches: []kgo.Fetches{errFetches("missing", 2, kerr.UnknownTopicOrPartition)},
	}
	consumer := newTestConsumer(t, client, false)
	require.NoError(t, consumer.Subscribe("missing"))

	records, err := consumer.Consume(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.False(t, rec.OK())
	assert.False(t, rec.EOF())
	assert.ErrorIs(t, rec.Err(), kerr.UnknownTopicOrPartition)
	assert.Equal(t, "missing", rec.Topic())
	assert.Equal(t, int32(2), rec.Partition())
}

func TestConsumer_Consume_PartitionEOF(t *testing.T) {
	client := &fakeConsumeClient{
		fetches: []kgo.Fetches{
			// Catches up to watermark 3: data plus one EOF marker.
			dataFetches("events", 0, 3, 0, 1, 2),
			// Still at watermark 3 with no new data: EOF not repeated.
			dataFetches("events", 0, 3),
			// Watermark advanced but records lag behind it: no EOF yet.
			dataFetches("events", 0, 6, 3, 4),
			// Catches up to the new watermark: EOF again.
			dataFetches("events", 0, 6, 5),
		},
	}
	consumer := newTestConsumer(t, client, true)
	require.NoError(t, consumer.Subscribe("events"))

	batch := func() []Record {
		records, err := consumer.Consume(context.Background(), 10, 50*time.Millisecond)
		require.NoError(t, err)
		return records
	}

	first := batch()
	require.Len(t, first, 4)
	assert.True(t, first[2].OK())
	assert.True(t, first[3].EOF())
	assert.Equal(t, int64(3), first[3].Offset())

	second := batch()
	assert.Empty(t, second)

	third := batch()
	require.Len(t, third, 2)
	for _, rec := range third {
		assert.False(t, rec.EOF())
	}

	fourth := batch()
	require.Len(t, fourth, 2)
	assert.True(t, fourth[0].OK())
	assert.True(t, fourth[1].EOF())
	assert.Equal(t, int64(6), fourth[1].Offset())
}

func TestConsumer_Consume_NoEOFOnEmptyPartition(t *testing.T) {
	client := &fakeConsumeClient{
		fetches: []kgo.Fetches{
			// Nothing ever fetched: no progress, so no EOF marker.
			dataFetches("events", 0, 0),
			dataFetches("events", 0, 0),
		},
	}
	consumer := newTestConsumer(t, client, true)
	require.NoError(t, consumer.Subscribe("events"))

	for i := 0; i < 2; i++ {
		records, err := consumer.Consume(context.Background(), 10, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

func TestConsumer_Consume_NoEOFWhenDisabled(t *testing.T) {
	client := &fakeConsumeClient{
		fetches: []kgo.Fetches{dataFetches("events", 0, 3, 0, 1, 2)},
	}
	consumer := newTestConsumer(t, client, false)
	require.NoError(t, consumer.Subscribe("events"))

	records, err := consumer.Consume(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.False(t, rec.EOF())
	}
}

func TestConsumer_QueueSize(t *testing.T) {
	client := &fakeConsumeClient{buffered: 42}
	consumer := newTestConsumer(t, client, false)

	assert.Equal(t, int64(0), consumer.QueueSize(), "no client before Subscribe")
	require.NoError(t, consumer.Subscribe("events"))
	assert.Equal(t, int64(42), consumer.QueueSize())
}

func TestConsumer_Unsubscribe(t *testing.T) {
	client := &fakeConsumeClient{}
	consumer := newTestConsumer(t, client, false)

	assert.ErrorIs(t, consumer.Unsubscribe(), errors.ErrNotSubscribed)

	require.NoError(t, consumer.Subscribe("events"))
	require.NoError(t, consumer.Unsubscribe())
	assert.True(t, client.closed)

	_, err := consumer.Consume(context.Background(), 10, 10*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrNotSubscribed)
}

func TestConsumer_Close(t *testing.T) {
	client := &fakeConsumeClient{}
	consumer := newTestConsumer(t, client, false)
	require.NoError(t, consumer.Subscribe("events"))

	require.NoError(t, consumer.Close())
	assert.True(t, client.closed)

	_, err := consumer.Consume(context.Background(), 10, 10*time.Millisecond)
	assert.Error(t, err)
}

func TestRecord_Headers(t *testing.T) {
	rec := DataRecord(&kgo.Record{
		Topic:     "events",
		Partition: 1,
		Offset:    7,
		Key:       []byte("key"),
		Value:     []byte("value"),
		Headers: []kgo.RecordHeader{
			{Key: "a", Value: []byte("1")},
			{Key: "b", Value: []byte("2")},
			{Key: "a", Value: []byte("3")},
		},
	})

	v, ok := rec.Header("a")
	assert.True(t, ok)
	assert.Equal(t, "3", v, "later duplicate wins")

	v, ok = rec.Header("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = rec.Header("missing")
	assert.False(t, ok)
	assert.Len(t, rec.Headers(), 2)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(_ *Config) {},
		},
		{
			name:    "no brokers",
			mutate:  func(cfg *Config) { cfg.Brokers = nil },
			wantErr: true,
		},
		{
			name:    "negative queue capacity",
			mutate:  func(cfg *Config) { cfg.QueueCapacity = -1 },
			wantErr: true,
		},
		{
			name:    "bad offset reset",
			mutate:  func(cfg *Config) { cfg.OffsetReset = "somewhere" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Brokers: []string{"localhost:9092"}}
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultQueueCapacity, cfg.QueueCapacity)
			assert.Equal(t, OffsetLatest, cfg.OffsetReset)
		})
	}
}
