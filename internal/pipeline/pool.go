package pipeline

import (
	"context"
	"sync"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

// FrameQueue is the subset of the frame buffer the workers read from
type FrameQueue interface {
	Dequeue() (domain.Frame, bool)
}

// Gate decides whether worker i may take another frame. Admit blocks while
// the worker is parked and returns false once the pool must stop.
type Gate interface {
	Admit(worker int) bool
}

// ProcessFunc turns one frame into a grid
type ProcessFunc func(ctx context.Context, frame domain.Frame) (domain.AsciiGrid, error)

// Pool is a fixed set of workers moving frames from a queue, through a
// ProcessFunc, into a Reorder stage. The number of workers allowed to run is
// decided per frame by the Gate, so it can shrink and grow at runtime.
type Pool struct {
	logger  *zap.Logger
	size    int
	queue   FrameQueue
	reorder *Reorder
	gate    Gate
	process ProcessFunc
	onError func(frame domain.Frame, err error)

	wg sync.WaitGroup
}

// NewPool creates a pool of size workers
func NewPool(logger *zap.Logger, size int, queue FrameQueue, reorder *Reorder, gate Gate, process ProcessFunc) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		logger:  logger,
		size:    size,
		queue:   queue,
		reorder: reorder,
		gate:    gate,
		process: process,
	}
}

// OnError registers a callback for frames whose processing failed. The
// frame's sequence is skipped in the reorder stage before the callback runs.
func (p *Pool) OnError(fn func(frame domain.Frame, err error)) {
	p.onError = fn
}

// Size returns the number of worker goroutines
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers and returns immediately
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Worker pool starting", zap.Int("workers", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

// Wait blocks until every worker has exited
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))

	for {
		if !p.gate.Admit(id) {
			log.Debug("Worker stopped by gate")
			return
		}

		frame, ok := p.queue.Dequeue()
		if !ok {
			log.Debug("Frame queue closed")
			return
		}

		grid, err := p.process(ctx, frame)
		if err != nil {
			p.reorder.Skip(frame.Epoch, frame.Seq)
			log.Debug("Frame skipped", zap.Uint64("seq", frame.Seq), zap.Error(err))
			if p.onError != nil {
				p.onError(frame, err)
			}
			continue
		}

		if !p.reorder.Submit(grid) {
			log.Debug("Reorder stage closed")
			return
		}
	}
}
