package engine

import (
	"sync"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

// AdaptiveOptions are the thresholds of the adaptive quality controller
type AdaptiveOptions struct {
	TargetFPS          float64 // frames per second at speed 1
	CPUThreshold       float64 // percent
	MemoryThreshold    float64 // percent
	FrameDropThreshold float64 // fraction of the target fps
	DebounceTicks      int
	UpgradeTicks       int
}

// Flusher drops every queued frame
type Flusher interface {
	Flush() int
}

// Adjustment describes what one tick changed
type Adjustment struct {
	Workers        int
	WorkersChanged bool
	Flushed        int
	Quality        domain.QualityLevel
	QualityChanged bool
}

// AdaptiveController trades quality and parallelism for frame rate. Quality
// only drops after DebounceTicks consecutive slow ticks and only climbs back
// after UpgradeTicks consecutive healthy ones, never above the ceiling.
type AdaptiveController struct {
	logger *zap.Logger
	opts   AdaptiveOptions
	state  *ControlState
	buffer Flusher

	mu           sync.Mutex
	slowTicks    int
	healthyTicks int
}

// NewAdaptiveController creates a controller acting on state and buffer
func NewAdaptiveController(logger *zap.Logger, opts AdaptiveOptions, state *ControlState, buffer Flusher) *AdaptiveController {
	opts.DebounceTicks = max(opts.DebounceTicks, 1)
	opts.UpgradeTicks = max(opts.UpgradeTicks, 1)
	return &AdaptiveController{
		logger: logger,
		opts:   opts,
		state:  state,
		buffer: buffer,
	}
}

// Tick evaluates one performance sample. Callers tick only while playing.
func (a *AdaptiveController) Tick(sample domain.PerformanceSample) Adjustment {
	a.mu.Lock()
	defer a.mu.Unlock()

	adj := Adjustment{Workers: a.state.Workers(), Quality: a.state.Quality()}
	overloaded := false

	// 1. CPU pressure sheds one worker
	if sample.CPUPercent > a.opts.CPUThreshold {
		overloaded = true
		if n := a.state.AddWorkers(-1); n != adj.Workers {
			adj.Workers, adj.WorkersChanged = n, true
			a.logger.Info("CPU high, reducing workers",
				zap.Float64("cpu", sample.CPUPercent),
				zap.Int("workers", n))
		}
	}

	// 2. Memory pressure empties the frame buffer
	if sample.MemoryPercent > a.opts.MemoryThreshold {
		overloaded = true
		adj.Flushed = a.buffer.Flush()
		a.logger.Warn("Memory high, flushed frame buffer",
			zap.Float64("memory", sample.MemoryPercent),
			zap.Int("frames", adj.Flushed))
	}

	// 3. Frame rate. No reading yet counts as neither slow nor healthy.
	target := a.opts.TargetFPS * a.state.Speed()
	if sample.FPS <= 0 || target <= 0 {
		return adj
	}

	if sample.FPS < target*a.opts.FrameDropThreshold {
		a.healthyTicks = 0
		a.slowTicks++
		if a.slowTicks >= a.opts.DebounceTicks {
			a.slowTicks = 0
			if q, ok := a.state.StepQualityDown(); ok {
				adj.Quality, adj.QualityChanged = q, true
				a.logger.Info("Frame rate low, lowering quality",
					zap.Float64("fps", sample.FPS),
					zap.Float64("target", target),
					zap.Stringer("quality", q))
			}
		}
		return adj
	}

	a.slowTicks = 0
	if overloaded {
		a.healthyTicks = 0
		return adj
	}

	a.healthyTicks++
	if a.healthyTicks < a.opts.UpgradeTicks {
		return adj
	}
	a.healthyTicks = 0

	if q, ok := a.state.StepQualityUp(); ok {
		adj.Quality, adj.QualityChanged = q, true
		a.logger.Info("Performance healthy, raising quality", zap.Stringer("quality", q))
	}
	if n := a.state.AddWorkers(1); n != adj.Workers {
		adj.Workers, adj.WorkersChanged = n, true
		a.logger.Debug("Performance healthy, restoring worker", zap.Int("workers", n))
	}
	return adj
}

// ForceStepDown lowers quality immediately after a frame failed at level
// failed. Workers failing at the same level step down once between them. It
// reports false when quality is already at the floor.
func (a *AdaptiveController) ForceStepDown(failed domain.QualityLevel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.slowTicks, a.healthyTicks = 0, 0
	if a.state.Quality() < failed {
		return true
	}
	q, ok := a.state.StepQualityDown()
	if ok {
		a.logger.Warn("Resources exhausted, lowering quality", zap.Stringer("quality", q))
	}
	return ok
}
