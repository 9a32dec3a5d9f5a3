package message

// Property is a single named string value attached to a message.
type Property struct {
	Key   string
	Value string
}

// Properties holds message properties in insertion order. Lookup is linear;
// property sets are expected to stay small.
type Properties struct {
	items []Property
}

// NewProperties builds a property set from key/value pairs in order.
func NewProperties(pairs ...Property) Properties {
	return Properties{items: append([]Property(nil), pairs...)}
}

// Set adds a property or replaces the value of an existing key in place.
func (p *Properties) Set(key, value string) {
	for i := range p.items {
		if p.items[i].Key == key {
			p.items[i].Value = value
			return
		}
	}
	p.items = append(p.items, Property{Key: key, Value: value})
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (string, bool) {
	for i := range p.items {
		if p.items[i].Key == key {
			return p.items[i].Value, true
		}
	}
	return "", false
}

// Delete removes key, preserving the order of the remaining properties.
func (p *Properties) Delete(key string) {
	for i := range p.items {
		if p.items[i].Key == key {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return
		}
	}
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	return len(p.items)
}

// Items returns the properties in insertion order. The returned slice is the
// internal storage; callers must not modify it.
func (p *Properties) Items() []Property {
	return p.items
}

// Clone returns an independent copy.
func (p *Properties) Clone() Properties {
	if len(p.items) == 0 {
		return Properties{}
	}
	return Properties{items: append([]Property(nil), p.items...)}
}
