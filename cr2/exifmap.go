package cr2

// ExifMap is an ordered tag-to-value mapping. It is built once while
// opening a file and is read-only afterwards; insertion order is the
// order entries appear in the container.
type ExifMap struct {
	keys []Key
	vals map[Key]interface{}
}

func newExifMap() *ExifMap {
	return &ExifMap{vals: make(map[Key]interface{})}
}

func (m *ExifMap) set(k Key, v interface{}) {
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

// Lookup returns the value for k and whether it is present.
func (m *ExifMap) Lookup(k Key) (interface{}, bool) {
	v, ok := m.vals[k]
	return v, ok
}

// Get returns the value for k, or nil.
func (m *ExifMap) Get(k Key) interface{} {
	return m.vals[k]
}

// String returns the value for k as a string when it is one.
func (m *ExifMap) String(k Key) (string, bool) {
	s, ok := m.vals[k].(string)
	return s, ok
}

// Keys returns the keys in insertion order. The caller must not modify
// the returned slice.
func (m *ExifMap) Keys() []Key {
	return m.keys
}

// Len returns the number of entries.
func (m *ExifMap) Len() int {
	return len(m.keys)
}
