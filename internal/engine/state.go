package engine

import (
	"math"
	"sync"

	"github.com/genricoloni/asciivid/internal/domain"
)

const (
	MinSpeed  = domain.MinSpeed
	MaxSpeed  = domain.MaxSpeed
	SpeedStep = 0.1
)

// Snapshot is a consistent copy of the control state
type Snapshot struct {
	State    domain.PlaybackState
	Speed    float64
	Quality  domain.QualityLevel
	Ceiling  domain.QualityLevel
	Workers  int
	Epoch    uint64
	Cols     int
	Rows     int
	ShowUI   bool
	ShowPerf bool
}

// ControlState is shared by the producer, the workers, the render loop and
// the adaptive controller. Every field is guarded by one mutex; a condition
// variable wakes goroutines parked on a state change.
type ControlState struct {
	mu   sync.Mutex
	cond *sync.Cond

	state      domain.PlaybackState
	speed      float64
	quality    domain.QualityLevel
	ceiling    domain.QualityLevel
	workers    int
	maxWorkers int
	epoch      uint64
	cols       int
	rows       int
	showUI     bool
	showPerf   bool

	done chan struct{}
}

// NewControlState creates a stopped control state
func NewControlState(ceiling domain.QualityLevel, workers int, speed float64) *ControlState {
	workers = max(workers, 1)
	s := &ControlState{
		state:      domain.StateStopped,
		speed:      clampSpeed(speed),
		quality:    ceiling,
		ceiling:    ceiling,
		workers:    workers,
		maxWorkers: workers,
		done:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// clampSpeed limits speed to [MinSpeed, MaxSpeed] on a SpeedStep grid
func clampSpeed(speed float64) float64 {
	if math.IsNaN(speed) {
		return 1.0
	}
	speed = math.Round(speed/SpeedStep) * SpeedStep
	return math.Min(math.Max(speed, MinSpeed), MaxSpeed)
}

// Snapshot returns a copy of every field
func (s *ControlState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:    s.state,
		Speed:    s.speed,
		Quality:  s.quality,
		Ceiling:  s.ceiling,
		Workers:  s.workers,
		Epoch:    s.epoch,
		Cols:     s.cols,
		Rows:     s.rows,
		ShowUI:   s.showUI,
		ShowPerf: s.showPerf,
	}
}

// State returns the playback state
func (s *ControlState) State() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves to next if the current state is one of from.
// Terminated is final and never left.
func (s *ControlState) Transition(next domain.PlaybackState, from ...domain.PlaybackState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateTerminated {
		return false
	}
	for _, f := range from {
		if s.state == f {
			s.state = next
			s.cond.Broadcast()
			return true
		}
	}
	return false
}

// EndOfMedia moves Playing or Paused to Stopped, but only while epoch is
// still the current one.
func (s *ControlState) EndOfMedia(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return false
	}
	if s.state != domain.StatePlaying && s.state != domain.StatePaused {
		return false
	}
	s.state = domain.StateStopped
	s.cond.Broadcast()
	return true
}

// BeginRestart enters Restarting and starts a new epoch, which it returns.
// It fails once terminated.
func (s *ControlState) BeginRestart() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateTerminated {
		return 0, false
	}
	s.state = domain.StateRestarting
	s.epoch++
	s.cond.Broadcast()
	return s.epoch, true
}

// Terminate enters the final state and closes Done. It is idempotent.
func (s *ControlState) Terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateTerminated {
		return false
	}
	s.state = domain.StateTerminated
	close(s.done)
	s.cond.Broadcast()
	return true
}

// Done is closed on termination
func (s *ControlState) Done() <-chan struct{} {
	return s.done
}

// WaitPlaying parks the caller until the state is Playing and returns the
// current epoch. It returns false once terminated.
func (s *ControlState) WaitPlaying() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state != domain.StatePlaying && s.state != domain.StateTerminated {
		s.cond.Wait()
	}
	return s.epoch, s.state != domain.StateTerminated
}

// WaitEpoch parks the caller until the epoch moves past epoch.
// It returns false once terminated.
func (s *ControlState) WaitEpoch(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.epoch == epoch && s.state != domain.StateTerminated {
		s.cond.Wait()
	}
	return s.state != domain.StateTerminated
}

// Admit implements pipeline.Gate: worker i runs while i < Workers
func (s *ControlState) Admit(worker int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for worker >= s.workers && s.state != domain.StateTerminated {
		s.cond.Wait()
	}
	return s.state != domain.StateTerminated
}

// Epoch returns the current playback run
func (s *ControlState) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Speed returns the playback speed multiplier
func (s *ControlState) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// AddSpeed changes the speed by delta, clamped, and returns the new value
func (s *ControlState) AddSpeed(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = clampSpeed(s.speed + delta)
	return s.speed
}

// Quality returns the quality level used for the next frame
func (s *ControlState) Quality() domain.QualityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// StepQualityDown lowers quality by one tier. It reports false when already
// at the floor.
func (s *ControlState) StepQualityDown() (domain.QualityLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quality <= domain.QualityStandard {
		return s.quality, false
	}
	s.quality = s.quality.StepDown()
	return s.quality, true
}

// StepQualityUp raises quality by one tier, never above the ceiling
func (s *ControlState) StepQualityUp() (domain.QualityLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quality >= s.ceiling {
		return s.quality, false
	}
	s.quality = s.quality.StepUp(s.ceiling)
	return s.quality, true
}

// Workers returns how many workers may run
func (s *ControlState) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers
}

// AddWorkers changes the active worker count by delta within [1, configured]
// and returns the new count.
func (s *ControlState) AddWorkers(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers = min(max(s.workers+delta, 1), s.maxWorkers)
	s.cond.Broadcast()
	return s.workers
}

// GridSize returns the grid dimensions in cells
func (s *ControlState) GridSize() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// SetGridSize stores new grid dimensions and reports whether they changed
func (s *ControlState) SetGridSize(cols, rows int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cols == cols && s.rows == rows {
		return false
	}
	s.cols, s.rows = cols, rows
	return true
}

// SetDisplay sets the status line and performance display flags
func (s *ControlState) SetDisplay(showUI, showPerf bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showUI, s.showPerf = showUI, showPerf
}

// ToggleUI flips the status line and returns the new value
func (s *ControlState) ToggleUI() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showUI = !s.showUI
	return s.showUI
}

// TogglePerformance flips the performance display and returns the new value
func (s *ControlState) TogglePerformance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showPerf = !s.showPerf
	return s.showPerf
}
