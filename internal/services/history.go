package services

import "sync"

// historyBuffer is a fixed-capacity byte ring that keeps the most recent
// output of a session for replay to late subscribers. Once full, the
// oldest bytes are evicted first. The drain loop is the only writer;
// readers take a contiguous copy under the lock.
type historyBuffer struct {
	mu   sync.RWMutex
	buf  []byte
	head int // next write position
	size int // bytes currently stored, up to cap(buf)
}

func newHistoryBuffer(capacity int) *historyBuffer {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &historyBuffer{buf: make([]byte, capacity)}
}

// Write appends p, evicting the oldest bytes once capacity is exceeded.
// If p alone is larger than the capacity only its tail is kept.
func (h *historyBuffer) Write(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.buf)
	if len(p) >= capacity {
		copy(h.buf, p[len(p)-capacity:])
		h.head = 0
		h.size = capacity
		return
	}

	n := copy(h.buf[h.head:], p)
	if n < len(p) {
		copy(h.buf, p[n:])
	}
	h.head = (h.head + len(p)) % capacity
	if h.size < capacity {
		h.size += len(p)
		if h.size > capacity {
			h.size = capacity
		}
	}
}

// Bytes returns the buffered output as one contiguous slice in emission
// order. The returned slice is a copy and safe to use without locking.
func (h *historyBuffer) Bytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]byte, h.size)
	if h.size == 0 {
		return out
	}
	if h.size < len(h.buf) {
		copy(out, h.buf[:h.size])
		return out
	}
	// Full buffer: oldest byte lives at head.
	n := copy(out, h.buf[h.head:])
	copy(out[n:], h.buf[:h.head])
	return out
}

// Len returns the number of bytes currently buffered.
func (h *historyBuffer) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
