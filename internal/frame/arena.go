package frame

import "sync"

// Arena owns reusable scratch buffers keyed by (width, height, format).
//
// A slot is reallocated only when the requested size differs from what it
// currently holds; otherwise the same backing array is returned and callers
// overwrite it in place. An Arena is owned by a single pipeline stage and is
// not meant to be shared between streams.
type Arena struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
	masks   map[string]*Mask

	allocations int64
}

// NewArena 创建新的 scratch arena
func NewArena() *Arena {
	return &Arena{
		buffers: make(map[string]*Buffer),
		masks:   make(map[string]*Mask),
	}
}

// Buffer returns the scratch pixel buffer registered under slot, resized to
// width x height x format.
func (a *Arena) Buffer(slot string, width, height int, format PixelFormat) *Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.buffers[slot]
	if ok && buf.Width == width && buf.Height == height && buf.Format == format {
		return buf
	}

	buf = NewBuffer(width, height, format)
	a.buffers[slot] = buf
	a.allocations++
	return buf
}

// Mask returns the scratch mask registered under slot, resized to width x height.
// The contents are left as they were; callers clear it when they need to.
func (a *Arena) Mask(slot string, width, height int) *Mask {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.masks[slot]
	if ok && m.Width == width && m.Height == height {
		return m
	}

	m = NewMask(width, height)
	a.masks[slot] = m
	a.allocations++
	return m
}

// Allocations returns how many times the arena had to allocate.
func (a *Arena) Allocations() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocations
}

// Release drops every scratch buffer.
func (a *Arena) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffers = make(map[string]*Buffer)
	a.masks = make(map[string]*Mask)
}
