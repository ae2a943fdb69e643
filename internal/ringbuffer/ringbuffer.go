// Package ringbuffer implements a fixed-capacity FIFO of byte chunks used by
// a terminal to hold scrollback for late-joining subscribers.
package ringbuffer

import "sync"

// OnEvict is invoked with an item evicted from the front of the buffer
// because a push exceeded capacity. May be nil.
type OnEvict func(evicted []byte)

// Buffer is a bounded, thread-safe FIFO of byte chunks. The zero value is
// not usable; construct with New.
type Buffer struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	onEvict  OnEvict
}

// DefaultCapacity is the capacity a terminal's replay buffer is created
// with (spec: 100 chunks).
const DefaultCapacity = 100

// New creates a Buffer with the given capacity. A capacity <= 0 is treated
// as DefaultCapacity.
func New(capacity int, onEvict OnEvict) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		items:    make([][]byte, 0, capacity),
		capacity: capacity,
		onEvict:  onEvict,
	}
}

// Push appends item, evicting the oldest entry (and invoking onEvict with
// it, if set) when the buffer would otherwise exceed capacity.
func (b *Buffer) Push(item []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	if len(b.items) > b.capacity {
		evicted := b.items[0]
		b.items = b.items[1:]
		if b.onEvict != nil {
			b.onEvict(evicted)
		}
	}
}

// Snapshot returns a copy of the current contents, oldest first, without
// disturbing the buffer.
func (b *Buffer) Snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, len(b.items))
	copy(out, b.items)
	return out
}

// Concat returns the snapshot concatenated into a single byte slice, the
// form delivered to a newly joining terminal subscriber.
func (b *Buffer) Concat() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, it := range b.items {
		total += len(it)
	}
	out := make([]byte, 0, total)
	for _, it := range b.items {
		out = append(out, it...)
	}
	return out
}

// Len returns the current number of chunks held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear empties the buffer without invoking onEvict.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = b.items[:0]
}
