// Package engine is the playback controller. It runs the producer, the
// worker pool, the render loop and the adaptive quality loop, and applies
// transport commands from the input sources.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genricoloni/asciivid/internal/ascii"
	"github.com/genricoloni/asciivid/internal/buffer"
	"github.com/genricoloni/asciivid/internal/config"
	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/genricoloni/asciivid/internal/pipeline"
	"github.com/genricoloni/asciivid/internal/processor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// MinCols and MinRows are the smallest grid playback starts with
	MinCols = 20
	MinRows = 5

	// defaultFPS paces media that reports no frame rate
	defaultFPS = 30.0
)

// Params are the engine's dependencies
type Params struct {
	Logger   *zap.Logger
	Config   *config.AppConfig
	Source   domain.FrameSource
	Renderer domain.Renderer
	Enhancer domain.Enhancer
	Monitor  domain.SampleSource
	Inputs   []domain.InputSource
}

// faultCounter is implemented by enhancers that count numeric faults
type faultCounter interface {
	NumericFaults() uint64
}

// Engine orchestrates playback: FrameSource -> producer -> FrameBuffer ->
// workers -> Reorder -> render loop -> Renderer.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.AppConfig
	source   domain.FrameSource
	renderer domain.Renderer
	enhancer domain.Enhancer
	monitor  domain.SampleSource
	inputs   []domain.InputSource

	info      domain.MediaInfo
	targetFPS float64
	mapper    *ascii.Mapper

	state    *ControlState
	buffer   *buffer.FrameBuffer
	reorder  *pipeline.Reorder
	pool     *pipeline.Pool
	adaptive *AdaptiveController

	decodeSkipped atomic.Uint64
	failedFrames  atomic.Uint64
	autoPaused    atomic.Bool

	restartMu sync.Mutex

	lastMu  sync.Mutex
	last    domain.AsciiGrid
	hasLast bool

	errMu sync.Mutex
	err   error

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	active  []domain.InputSource
	wg      sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// NewEngine wires the pipeline around the given source and renderer
func NewEngine(p Params) (*Engine, error) {
	if p.Logger == nil || p.Config == nil || p.Source == nil || p.Renderer == nil || p.Enhancer == nil || p.Monitor == nil {
		return nil, errors.New("engine: missing dependency")
	}
	cfg := p.Config

	e := &Engine{
		logger:   p.Logger,
		cfg:      cfg,
		source:   p.Source,
		renderer: p.Renderer,
		enhancer: p.Enhancer,
		monitor:  p.Monitor,
		inputs:   p.Inputs,
		info:     p.Source.Info(),
		mapper:   ascii.NewMapper(),
	}

	e.targetFPS = cfg.TargetFPS
	if e.targetFPS <= 0 {
		e.targetFPS = e.info.FPS
	}
	if e.targetFPS <= 0 {
		e.targetFPS = defaultFPS
	}

	e.state = NewControlState(cfg.Quality, cfg.Workers, cfg.Speed)
	e.state.SetDisplay(cfg.ShowUI(), !cfg.NoPerformance)

	e.reorder = pipeline.NewReorder(cfg.ReorderWindow)
	e.buffer = buffer.New(cfg.BufferSize, cfg.DropPolicy, buffer.WithEvictHook(func(f domain.Frame) {
		e.reorder.Skip(f.Epoch, f.Seq)
	}))
	e.pool = pipeline.NewPool(p.Logger, cfg.Workers, e.buffer, e.reorder, e.state, e.process)
	e.pool.OnError(e.onFrameError)

	e.adaptive = NewAdaptiveController(p.Logger, AdaptiveOptions{
		TargetFPS:          e.targetFPS,
		CPUThreshold:       cfg.CPUThreshold,
		MemoryThreshold:    cfg.MemoryThreshold,
		FrameDropThreshold: cfg.FrameDropThreshold,
		DebounceTicks:      cfg.DebounceTicks,
		UpgradeTicks:       cfg.UpgradeTicks,
	}, e.state, e.buffer)

	return e, nil
}

// Start checks the terminal, enters Playing and launches every loop.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.started {
		return nil
	}
	e.logger.Info("Engine starting...",
		zap.String("media", e.info.Path),
		zap.Bool("image", e.info.IsImage),
		zap.Float64("targetFps", e.targetFPS))

	// 1. The grid must fit before any frame is processed
	cols, rows, err := e.gridSize()
	if err != nil {
		return err
	}
	if cols < MinCols || rows < MinRows {
		return fmt.Errorf("grid %dx%d, need at least %dx%d: %w", cols, rows, MinCols, MinRows, domain.ErrTerminalTooSmall)
	}
	e.state.SetGridSize(cols, rows)

	// ctx only bounds startup; the loops live until Quit
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.started = true

	// 2. Side inputs are optional
	if err := e.monitor.Start(runCtx); err != nil {
		e.logger.Warn("Performance monitor unavailable", zap.Error(err))
	}
	for _, in := range e.inputs {
		if err := in.Start(runCtx); err != nil {
			e.logger.Warn("Input source unavailable", zap.String("input", fmt.Sprintf("%T", in)), zap.Error(err))
			continue
		}
		e.active = append(e.active, in)
		e.wg.Add(1)
		go e.inputLoop(in)
	}

	// 3. Pipeline
	e.state.Transition(domain.StatePlaying, domain.StateStopped)
	e.pool.Start(runCtx)
	e.wg.Add(3)
	go e.produce(runCtx)
	go e.renderLoop()
	go e.adaptLoop(runCtx)

	e.logger.Info("Playback started",
		zap.Int("cols", cols),
		zap.Int("rows", rows),
		zap.Int("workers", e.cfg.Workers),
		zap.Stringer("quality", e.cfg.Quality))
	return nil
}

// Done is closed when playback terminates
func (e *Engine) Done() <-chan struct{} {
	return e.state.Done()
}

// Wait blocks until playback terminates and every loop has exited. It
// returns the fatal error that ended playback, if any.
func (e *Engine) Wait() error {
	<-e.state.Done()
	e.wg.Wait()
	e.pool.Wait()
	return e.Err()
}

// Err returns the fatal error that ended playback, if any
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Stop terminates playback, waits for the loops and releases the source,
// the inputs, the monitor and the terminal.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.logger.Info("Engine stopping...")
		e.Quit()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			e.pool.Wait()
			close(done)
		}()

		var err error
		select {
		case <-done:
			for _, in := range e.active {
				err = multierr.Append(err, in.Stop())
			}
			err = multierr.Append(err, e.monitor.Stop())
			err = multierr.Append(err, e.source.Close())
		case <-ctx.Done():
			err = fmt.Errorf("pipeline did not stop: %w", ctx.Err())
		}

		// The terminal is restored even when the pipeline is stuck
		err = multierr.Append(err, e.renderer.Close())
		e.stopErr = err
		e.logger.Info("Engine shutdown complete", zap.Error(err))
	})
	return e.stopErr
}

// State returns the playback state
func (e *Engine) State() domain.PlaybackState {
	return e.state.State()
}

// Control exposes the shared control state
func (e *Engine) Control() *ControlState {
	return e.state
}

// Info returns the media being played
func (e *Engine) Info() domain.MediaInfo {
	return e.info
}

// HandleEvent applies one control event
func (e *Engine) HandleEvent(ev domain.ControlEvent) {
	e.logger.Debug("Control event", zap.Stringer("event", ev))

	switch ev {
	case domain.EventTogglePause:
		e.autoPaused.Store(false)
		e.TogglePause()
	case domain.EventPause:
		if e.cfg.PauseOnLock && e.Pause() {
			e.autoPaused.Store(true)
		}
	case domain.EventResume:
		if e.autoPaused.CompareAndSwap(true, false) {
			e.Resume()
		}
	case domain.EventQuit:
		e.Quit()
	case domain.EventSpeedUp:
		e.ChangeSpeed(SpeedStep)
	case domain.EventSpeedDown:
		e.ChangeSpeed(-SpeedStep)
	case domain.EventRestart:
		e.Restart()
	case domain.EventToggleUI:
		e.state.ToggleUI()
		e.checkResize()
		e.redraw()
	case domain.EventTogglePerformance:
		e.state.TogglePerformance()
		e.redraw()
	}
}

// TogglePause switches between Playing and Paused
func (e *Engine) TogglePause() {
	if !e.Pause() {
		e.Resume()
	}
}

// Pause halts delivery; reports whether the state changed
func (e *Engine) Pause() bool {
	if !e.state.Transition(domain.StatePaused, domain.StatePlaying) {
		return false
	}
	e.monitor.Suspend()
	e.logger.Info("Playback paused")
	e.redraw()
	return true
}

// Resume continues delivery; reports whether the state changed
func (e *Engine) Resume() bool {
	if !e.state.Transition(domain.StatePlaying, domain.StatePaused) {
		return false
	}
	e.monitor.Suspend()
	e.logger.Info("Playback resumed")
	return true
}

// ChangeSpeed adds delta to the playback speed and returns the new speed
func (e *Engine) ChangeSpeed(delta float64) float64 {
	speed := e.state.AddSpeed(delta)
	e.logger.Info("Speed changed", zap.Float64("speed", speed))
	e.redraw()
	return speed
}

// Restart rewinds to the first frame from Playing, Paused or Stopped
func (e *Engine) Restart() {
	e.restartMu.Lock()
	defer e.restartMu.Unlock()

	epoch, ok := e.state.BeginRestart()
	if !ok {
		return
	}

	// 1. Forget everything of the previous run
	e.reorder.Reset(epoch)
	drained := e.buffer.Drain()
	e.autoPaused.Store(false)
	e.monitor.Suspend()

	// 2. The producer sees the new epoch and rewinds the source itself
	e.state.Transition(domain.StatePlaying, domain.StateRestarting)
	e.logger.Info("Playback restarted", zap.Uint64("epoch", epoch), zap.Int("drained", drained))
}

// Quit terminates playback
func (e *Engine) Quit() {
	e.terminate(nil)
}

// Sample returns the latest performance reading with the pipeline counters
func (e *Engine) Sample() domain.PerformanceSample {
	s := e.monitor.Sample()
	s.DroppedFrames = e.buffer.Dropped()
	s.SkippedFrames = e.decodeSkipped.Load() + e.failedFrames.Load()
	if fc, ok := e.enhancer.(faultCounter); ok {
		s.NumericFaults = fc.NumericFaults()
	}
	return s
}

func (e *Engine) fail(err error) {
	e.logger.Error("Playback failed", zap.Error(err))
	e.terminate(err)
}

func (e *Engine) terminate(err error) {
	if err != nil {
		e.errMu.Lock()
		if e.err == nil {
			e.err = err
		}
		e.errMu.Unlock()
	}

	if !e.state.Terminate() {
		return
	}
	e.buffer.Close()
	e.reorder.Close()

	e.runMu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.runMu.Unlock()

	e.logger.Info("Playback terminated",
		zap.Uint64("delivered", e.reorder.Delivered()),
		zap.Uint64("dropped", e.buffer.Dropped()),
		zap.Uint64("skipped", e.decodeSkipped.Load()+e.failedFrames.Load()))
}

// produce reads the source into the frame buffer. It owns the source: a
// restart is noticed as an epoch change and rewinds it here.
func (e *Engine) produce(ctx context.Context) {
	defer e.wg.Done()

	epoch := e.state.Epoch()
	var seq uint64

	for {
		current, ok := e.state.WaitPlaying()
		if !ok {
			return
		}
		if current != epoch {
			if err := e.source.Reset(); err != nil {
				e.fail(fmt.Errorf("failed to rewind source: %w", err))
				return
			}
			epoch, seq = current, 0
		}

		frame, err := e.source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			e.reorder.Finish(epoch, seq)
			e.logger.Info("End of stream", zap.Uint64("frames", seq), zap.Uint64("epoch", epoch))
			if !e.state.WaitEpoch(epoch) {
				return
			}
			continue
		case errors.Is(err, domain.ErrDecode):
			n := e.decodeSkipped.Add(1)
			e.logger.Debug("Corrupt frame skipped", zap.Uint64("skipped", n), zap.Error(err))
			continue
		case ctx.Err() != nil:
			return
		default:
			e.fail(fmt.Errorf("frame source: %w", err))
			return
		}

		frame.Seq, frame.Epoch = seq, epoch
		seq++
		if err := e.buffer.Enqueue(frame); err != nil {
			return
		}
	}
}

// process turns one frame into a grid at the current quality and grid size
func (e *Engine) process(ctx context.Context, frame domain.Frame) (domain.AsciiGrid, error) {
	if err := ctx.Err(); err != nil {
		return domain.AsciiGrid{}, err
	}

	cols, rows := e.state.GridSize()
	canvas, err := processor.Prepare(frame, cols, rows)
	if err != nil {
		return domain.AsciiGrid{}, err
	}

	for {
		quality := e.state.Quality()
		enhanced, err := e.enhancer.Enhance(canvas, quality)
		if err == nil {
			return e.mapper.Map(enhanced, e.cfg.Style, cols, rows), nil
		}
		if !errors.Is(err, domain.ErrResourceExhausted) {
			return domain.AsciiGrid{}, err
		}
		if !e.adaptive.ForceStepDown(quality) {
			fatal := fmt.Errorf("frame %d at lowest quality: %w", frame.Seq, err)
			e.fail(fatal)
			return domain.AsciiGrid{}, fatal
		}
	}
}

func (e *Engine) onFrameError(frame domain.Frame, err error) {
	n := e.failedFrames.Add(1)
	e.logger.Debug("Frame processing failed",
		zap.Uint64("seq", frame.Seq),
		zap.Uint64("failed", n),
		zap.Error(err))
}

// renderLoop hands grids to the renderer in sequence order, paced by the
// target frame rate and speed.
func (e *Engine) renderLoop() {
	defer e.wg.Done()

	var next time.Time
	for {
		if _, ok := e.state.WaitPlaying(); !ok {
			return
		}

		// A restart may land while Next blocks; the grid's epoch is compared
		// with the epoch current after Next returns.
		grid, status := e.reorder.Next()
		switch status {
		case pipeline.StatusClosed:
			return
		case pipeline.StatusEnded:
			if e.state.EndOfMedia(grid.Epoch) {
				e.endOfMedia()
			}
			next = time.Time{}
			continue
		}
		if grid.Epoch != e.state.Epoch() {
			continue
		}

		// 1. Pace
		interval := time.Duration(float64(time.Second) / (e.targetFPS * e.state.Speed()))
		now := time.Now()
		if next.IsZero() || now.Sub(next) > interval {
			next = now
		}
		if wait := time.Until(next); wait > 0 {
			select {
			case <-time.After(wait):
			case <-e.state.Done():
				return
			}
		}

		// 2. A pause during the wait holds the grid until resume
		current, ok := e.state.WaitPlaying()
		if !ok {
			return
		}
		if current != grid.Epoch {
			continue
		}

		// 3. Draw
		if err := e.draw(grid); err != nil {
			e.fail(err)
			return
		}
		e.monitor.RecordFrame(time.Now())
		next = next.Add(interval)
	}
}

func (e *Engine) draw(grid domain.AsciiGrid) error {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()

	if err := e.renderer.Render(domain.RenderFrame{Grid: grid, Status: e.statusLine(grid)}); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	e.last, e.hasLast = grid, true
	return nil
}

// redraw repeats the last grid so the status line reflects a change made
// while nothing new is being delivered.
func (e *Engine) redraw() {
	if e.state.State() == domain.StatePlaying {
		return
	}

	e.lastMu.Lock()
	defer e.lastMu.Unlock()

	if !e.hasLast {
		return
	}
	if err := e.renderer.Render(domain.RenderFrame{Grid: e.last, Status: e.statusLine(e.last)}); err != nil {
		e.logger.Warn("Redraw failed", zap.Error(err))
	}
}

func (e *Engine) statusLine(grid domain.AsciiGrid) *domain.StatusLine {
	snap := e.state.Snapshot()
	if !snap.ShowUI {
		return nil
	}

	status := &domain.StatusLine{
		State:    snap.State,
		Duration: e.info.Duration(),
		Speed:    snap.Speed,
		Quality:  snap.Quality,
		IsImage:  e.info.IsImage,
	}
	if e.info.FPS > 0 {
		status.Position = time.Duration(float64(grid.Seq) / e.info.FPS * float64(time.Second))
	}
	if snap.ShowPerf {
		sample := e.Sample()
		status.Performance = &sample
	}
	return status
}

func (e *Engine) endOfMedia() {
	e.monitor.Suspend()
	switch {
	case e.info.IsImage:
		e.logger.Info("Image displayed")
	case e.cfg.ExitOnEnd:
		e.logger.Info("Playback finished")
		e.Quit()
		return
	default:
		e.logger.Info("Playback finished, waiting for restart or quit")
	}
	e.redraw()
}

// adaptLoop runs the adaptive controller while playing and follows
// terminal resizes in every state.
func (e *Engine) adaptLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.AdaptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkResize()
			if e.state.State() == domain.StatePlaying {
				e.adaptive.Tick(e.monitor.Sample())
			}
		}
	}
}

// gridSize derives the grid from the configured size, falling back to the
// terminal size for dimensions left at 0.
func (e *Engine) gridSize() (int, int, error) {
	cols, rows := e.cfg.Width, e.cfg.Height
	if cols > 0 && rows > 0 {
		return cols, rows, nil
	}

	tc, tr, err := e.renderer.Size()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read terminal size: %w", err)
	}
	if cols == 0 {
		cols = tc
	}
	if rows == 0 {
		rows = tr
		if e.state.Snapshot().ShowUI {
			rows--
		}
	}
	return cols, rows, nil
}

func (e *Engine) checkResize() {
	cols, rows, err := e.gridSize()
	if err != nil {
		e.logger.Debug("Resize check failed", zap.Error(err))
		return
	}
	if cols < 1 || rows < 1 {
		return
	}
	if !e.state.SetGridSize(cols, rows) {
		return
	}
	e.logger.Info("Grid resized", zap.Int("cols", cols), zap.Int("rows", rows))

	// A still image is only rendered once; render it again at the new size
	if e.info.IsImage && e.state.State() == domain.StateStopped {
		e.Restart()
	}
}

func (e *Engine) inputLoop(in domain.InputSource) {
	defer e.wg.Done()

	events := in.Events()
	for {
		select {
		case <-e.state.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.HandleEvent(ev)
		}
	}
}
