// Package message defines the unit of data flowing through the runtime.
//
// A Message carries an optional partitioning key, a subject used for routing,
// an ordered set of string properties, and an opaque payload. Southbound
// interfaces produce messages, handlers transform them, and northbound
// interfaces deliver them.
package message

// Message is the unit of data exchanged between interfaces and handlers.
type Message struct {
	// Key selects the partition on partitioned sinks. Empty means unkeyed.
	Key []byte

	// Subject drives routing decisions and maps to the destination topic on
	// Kafka sinks.
	Subject string

	// Properties are delivered as message headers on sinks that support them.
	Properties Properties

	// Payload is the opaque message body.
	Payload []byte
}

// Size returns the payload size in bytes.
func (m *Message) Size() int {
	return len(m.Payload)
}

// Clone returns a deep copy of the message. Routing hands independent copies
// to each destination so sinks may mutate them freely.
func (m *Message) Clone() Message {
	out := Message{
		Subject:    m.Subject,
		Properties: m.Properties.Clone(),
	}
	if m.Key != nil {
		out.Key = append([]byte(nil), m.Key...)
	}
	if m.Payload != nil {
		out.Payload = append([]byte(nil), m.Payload...)
	}
	return out
}
