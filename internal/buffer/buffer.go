// Package buffer provides the bounded frame queue between the decoder and the
// enhancement workers.
//
// A FrameBuffer holds at most Cap() frames. When it is full, Enqueue either
// waits for a worker to free a slot (BlockProducer) or evicts the oldest
// queued frame (DropOldest). Every eviction is counted and reported to the
// optional evict hook, so downstream ordering can skip the lost sequence.
//
// All methods are safe for concurrent use.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/genricoloni/asciivid/internal/domain"
)

// Option configures a FrameBuffer
type Option func(*FrameBuffer)

// WithEvictHook registers a callback invoked for every frame the buffer drops.
// The hook runs outside the buffer lock and may call back into the buffer.
func WithEvictHook(fn func(domain.Frame)) Option {
	return func(b *FrameBuffer) {
		b.onEvict = fn
	}
}

// FrameBuffer is a bounded FIFO of frames
type FrameBuffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	ring   []domain.Frame
	head   int
	count  int
	closed bool
	policy domain.DropPolicy

	onEvict func(domain.Frame)

	dropped atomic.Uint64
}

// New creates a FrameBuffer holding up to capacity frames (minimum 1)
func New(capacity int, policy domain.DropPolicy, opts ...Option) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &FrameBuffer{
		ring:   make([]domain.Frame, capacity),
		policy: policy,
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue adds a frame. Under DropOldest it never blocks; under BlockProducer
// it waits for space. It returns domain.ErrBufferClosed once the buffer is closed.
func (b *FrameBuffer) Enqueue(frame domain.Frame) error {
	b.mu.Lock()

	for b.count == len(b.ring) && !b.closed && b.policy == domain.BlockProducer {
		b.notFull.Wait()
	}
	if b.closed {
		b.mu.Unlock()
		return domain.ErrBufferClosed
	}

	var evicted *domain.Frame
	if b.count == len(b.ring) {
		old := b.pop()
		evicted = &old
		b.dropped.Add(1)
	}

	b.ring[(b.head+b.count)%len(b.ring)] = frame
	b.count++
	b.notEmpty.Signal()
	b.mu.Unlock()

	if evicted != nil && b.onEvict != nil {
		b.onEvict(*evicted)
	}
	return nil
}

// Dequeue removes the oldest frame, waiting while the buffer is empty. After
// Close it keeps returning queued frames until none are left, then reports false.
func (b *FrameBuffer) Dequeue() (domain.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.notEmpty.Wait()
	}
	if b.count == 0 {
		return domain.Frame{}, false
	}

	frame := b.pop()
	b.notFull.Signal()
	return frame, true
}

// Close wakes every waiter. It is idempotent and cannot be undone.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Closed reports whether Close has been called
func (b *FrameBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Flush drops every queued frame, counting each one as dropped.
// It returns the number of frames removed.
func (b *FrameBuffer) Flush() int {
	frames := b.take()
	b.dropped.Add(uint64(len(frames)))
	if b.onEvict != nil {
		for _, f := range frames {
			b.onEvict(f)
		}
	}
	return len(frames)
}

// Drain discards every queued frame without counting or reporting it.
// It is used when the queued frames belong to a playback run that was abandoned.
func (b *FrameBuffer) Drain() int {
	return len(b.take())
}

// Len returns the number of queued frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the configured capacity
func (b *FrameBuffer) Cap() int {
	return len(b.ring)
}

// Policy returns the overflow policy
func (b *FrameBuffer) Policy() domain.DropPolicy {
	return b.policy
}

// Dropped returns how many frames were evicted or flushed
func (b *FrameBuffer) Dropped() uint64 {
	return b.dropped.Load()
}

// take empties the ring and returns its frames in FIFO order
func (b *FrameBuffer) take() []domain.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := make([]domain.Frame, 0, b.count)
	for b.count > 0 {
		frames = append(frames, b.pop())
	}
	b.notFull.Broadcast()
	return frames
}

// pop removes the head; the caller holds the lock and has checked count > 0
func (b *FrameBuffer) pop() domain.Frame {
	frame := b.ring[b.head]
	b.ring[b.head] = domain.Frame{}
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	return frame
}
