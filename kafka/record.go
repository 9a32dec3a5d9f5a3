package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is a view of one consumed message, a partition error, or a
// partition end-of-stream marker. Exactly one of OK, EOF, or Err()!=nil
// holds for any record.
type Record struct {
	rec *kgo.Record

	topic     string
	partition int32
	offset    int64

	err error
	eof bool

	// headers is decoded from the wire format on first access.
	headers map[string]string
}

// DataRecord wraps a fetched record. Exported for adapters and tests that
// synthesize records.
func DataRecord(rec *kgo.Record) Record {
	return Record{
		rec:       rec,
		topic:     rec.Topic,
		partition: rec.Partition,
		offset:    rec.Offset,
	}
}

// ErrorRecord builds a record carrying a partition error.
func ErrorRecord(topic string, partition int32, err error) Record {
	return Record{topic: topic, partition: partition, offset: -1, err: err}
}

// EOFRecord builds an end-of-partition marker at the given high watermark.
func EOFRecord(topic string, partition int32, offset int64) Record {
	return Record{topic: topic, partition: partition, offset: offset, eof: true}
}

// OK reports whether the record carries message data.
func (r *Record) OK() bool {
	return r.err == nil && !r.eof
}

// EOF reports whether the record marks the end of a partition: the consumer
// has caught up with the high watermark. Not an error; new data may arrive
// later.
func (r *Record) EOF() bool {
	return r.eof
}

// Err returns the partition error carried by this record, or nil.
func (r *Record) Err() error {
	return r.err
}

// Topic returns the source topic.
func (r *Record) Topic() string {
	return r.topic
}

// Partition returns the source partition.
func (r *Record) Partition() int32 {
	return r.partition
}

// Offset returns the record offset, or -1 for error records. For EOF records
// it is the next offset to be produced.
func (r *Record) Offset() int64 {
	return r.offset
}

// Key returns the message key, nil for non-data records.
func (r *Record) Key() []byte {
	if r.rec == nil {
		return nil
	}
	return r.rec.Key
}

// Payload returns the message body, nil for non-data records.
func (r *Record) Payload() []byte {
	if r.rec == nil {
		return nil
	}
	return r.rec.Value
}

// Timestamp returns the broker timestamp of a data record.
func (r *Record) Timestamp() time.Time {
	if r.rec == nil {
		return time.Time{}
	}
	return r.rec.Timestamp
}

// Header returns the value of a single header. The header map is built
// lazily on first access and cached.
func (r *Record) Header(key string) (string, bool) {
	v, ok := r.Headers()[key]
	return v, ok
}

// Headers returns all headers of a data record. Later duplicates of a key
// win. The returned map is shared; callers must not modify it.
func (r *Record) Headers() map[string]string {
	if r.headers == nil {
		r.headers = make(map[string]string, len(r.recHeaders()))
		for _, h := range r.recHeaders() {
			r.headers[h.Key] = string(h.Value)
		}
	}
	return r.headers
}

func (r *Record) recHeaders() []kgo.RecordHeader {
	if r.rec == nil {
		return nil
	}
	return r.rec.Headers
}
