// Package render turns an insertion-ordered configuration tree into the
// block-style YAML dialect read by the Traefik file provider.
//
// The renderer is self-contained: it understands exactly the value types the
// generators produce (strings, booleans, integers, floats, *Map and slices)
// and never consults a YAML library, so output for a given tree is fixed.
package render

// Map is a mapping that remembers key insertion order.
// Setting an existing key replaces its value in place.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Set stores value under key and returns the map for chaining.
func (m *Map) Set(key string, value any) *Map {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Child returns the map stored under key, creating it when absent.
// It panics if key holds a non-map value.
func (m *Map) Child(key string) *Map {
	if v, ok := m.values[key]; ok {
		child, ok := v.(*Map)
		if !ok {
			panic("render: key " + key + " does not hold a map")
		}
		return child
	}
	child := NewMap()
	m.Set(key, child)
	return child
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}
