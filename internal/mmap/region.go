package mmap

// Region returns the bytes [offset, offset+size) of the mapping.
// The slice is valid only until the mapping is closed.
func (m *Mapping) Region(offset, size int) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 || size < 0 || offset+size > m.size {
		return nil, ErrOutOfBounds
	}
	return m.data[offset : offset+size : offset+size], nil
}
