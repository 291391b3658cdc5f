// Package pipeline holds the worker pool that turns frames into grids and the
// reorder stage that hands those grids to the renderer in sequence order.
package pipeline

import (
	"sync"

	"github.com/genricoloni/asciivid/internal/domain"
)

// Status is the outcome of Reorder.Next
type Status int

const (
	// StatusReady means a grid was returned
	StatusReady Status = iota
	// StatusEnded means every sequence of the current epoch was delivered or skipped
	StatusEnded
	// StatusClosed means the stage was closed
	StatusClosed
)

// DefaultWindow is the number of sequences that may be held ahead of the next one
const DefaultWindow = 8

// Reorder releases grids in strictly increasing sequence order. Workers
// submit out of order; a grid too far ahead of the next expected sequence
// waits in Submit until the gap closes. Sequences that will never arrive
// must be reported with Skip.
type Reorder struct {
	mu   sync.Mutex
	cond *sync.Cond

	window  uint64
	epoch   uint64
	next    uint64
	pending map[uint64]domain.AsciiGrid
	skipped map[uint64]struct{}

	finished bool
	total    uint64
	closed   bool

	delivered    uint64
	skippedCount uint64
}

// NewReorder creates a reorder stage holding at most window grids
func NewReorder(window int) *Reorder {
	if window < 1 {
		window = DefaultWindow
	}
	r := &Reorder{
		window:  uint64(window),
		pending: make(map[uint64]domain.AsciiGrid),
		skipped: make(map[uint64]struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Submit hands over a finished grid. It blocks while the grid is a full
// window ahead of the next expected sequence. Grids from an old epoch or
// below the next sequence are discarded. It returns false once closed.
func (r *Reorder) Submit(grid domain.AsciiGrid) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.closed {
			return false
		}
		if grid.Epoch != r.epoch || grid.Seq < r.next {
			return true
		}
		if grid.Seq < r.next+r.window {
			r.pending[grid.Seq] = grid
			r.cond.Broadcast()
			return true
		}
		r.cond.Wait()
	}
}

// Skip records that seq of epoch will never be submitted. It never blocks.
func (r *Reorder) Skip(epoch, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch || seq < r.next {
		return
	}
	r.skipped[seq] = struct{}{}
	r.skipAhead()
	r.cond.Broadcast()
}

// Finish marks the end of the stream: epoch produced sequences [0, total)
func (r *Reorder) Finish(epoch, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch {
		return
	}
	r.finished = true
	r.total = total
	r.cond.Broadcast()
}

// Reset starts a new epoch at sequence 0, discarding everything held
func (r *Reorder) Reset(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch = epoch
	r.next = 0
	r.finished = false
	r.total = 0
	clear(r.pending)
	clear(r.skipped)
	r.cond.Broadcast()
}

// Next blocks until the grid with the next sequence is available, the
// stream has ended, or the stage is closed. On StatusEnded only the grid's
// Epoch is set, naming the run that ended.
func (r *Reorder) Next() (domain.AsciiGrid, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.closed {
			return domain.AsciiGrid{}, StatusClosed
		}
		r.skipAhead()
		if grid, ok := r.pending[r.next]; ok {
			delete(r.pending, r.next)
			r.next++
			r.delivered++
			r.cond.Broadcast()
			return grid, StatusReady
		}
		if r.finished && r.next >= r.total {
			return domain.AsciiGrid{Epoch: r.epoch}, StatusEnded
		}
		r.cond.Wait()
	}
}

// Close wakes every waiter; Submit and Next fail from now on
func (r *Reorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Expected returns the next sequence to be released
func (r *Reorder) Expected() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Pending returns the number of grids held for later release
func (r *Reorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Delivered returns how many grids Next has released
func (r *Reorder) Delivered() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}

// Skipped returns how many sequences were passed over
func (r *Reorder) Skipped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skippedCount
}

// skipAhead advances next over skipped sequences; caller holds the lock
func (r *Reorder) skipAhead() {
	for {
		if _, ok := r.skipped[r.next]; !ok {
			return
		}
		delete(r.skipped, r.next)
		r.next++
		r.skippedCount++
	}
}
