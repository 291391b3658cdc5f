// Package monitor measures playback performance and watches the session
// for screen lock events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	// DefaultSampleInterval is how often CPU and memory are read
	DefaultSampleInterval = 500 * time.Millisecond

	// frameHistory is the number of frame intervals averaged for fps
	frameHistory = 60
)

// Probe reads resource usage
type Probe interface {
	// CPUPercent returns process CPU usage normalised to 0-100 over all cores
	CPUPercent(ctx context.Context) (float64, error)
	// MemoryPercent returns the share of system memory in use
	MemoryPercent(ctx context.Context) (float64, error)
}

// ProcessProbe reads the current process and system memory via gopsutil
type ProcessProbe struct {
	proc *process.Process
	cpus int
}

// NewProcessProbe creates a probe for the running process
func NewProcessProbe() (*ProcessProbe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	return &ProcessProbe{proc: proc, cpus: runtime.NumCPU()}, nil
}

// CPUPercent returns usage since the previous call
func (p *ProcessProbe) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := p.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, err
	}
	if p.cpus > 1 {
		pct /= float64(p.cpus)
	}
	return pct, nil
}

// MemoryPercent returns system memory pressure
func (p *ProcessProbe) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// PerformanceMonitor samples resource usage on a ticker and derives fps from
// the intervals between delivered frames.
type PerformanceMonitor struct {
	logger   *zap.Logger
	probe    Probe
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cpu       float64
	memory    float64
	last      time.Time
	intervals [frameHistory]time.Duration
	count     int
	next      int
	sum       time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPerformanceMonitor creates a monitor that reads probe every interval
func NewPerformanceMonitor(logger *zap.Logger, probe Probe, interval time.Duration) *PerformanceMonitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &PerformanceMonitor{
		logger:   logger,
		probe:    probe,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins background sampling
func (m *PerformanceMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return nil
	}
	if m.probe == nil {
		return errors.New("no resource probe, measuring fps only")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.sampleLoop(ctx, m.done)

	m.logger.Info("Performance monitor started", zap.Duration("interval", m.interval))
	return nil
}

// Stop ends sampling and waits for the loop to exit
func (m *PerformanceMonitor) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (m *PerformanceMonitor) sampleLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.readProbe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.readProbe(ctx)
		}
	}
}

func (m *PerformanceMonitor) readProbe(ctx context.Context) {
	cpu, err := m.probe.CPUPercent(ctx)
	if err != nil {
		m.logger.Debug("CPU sample failed", zap.Error(err))
		return
	}
	memory, err := m.probe.MemoryPercent(ctx)
	if err != nil {
		m.logger.Debug("Memory sample failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.cpu = cpu
	m.memory = memory
	m.mu.Unlock()
}

// RecordFrame registers a frame delivered at the given time. Every interval
// since the previous frame counts, however long; idle time is excluded only
// through Suspend.
func (m *PerformanceMonitor) RecordFrame(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.last
	m.last = at
	if prev.IsZero() {
		return
	}
	d := at.Sub(prev)
	if d <= 0 {
		return
	}

	if m.count == frameHistory {
		m.sum -= m.intervals[m.next]
	} else {
		m.count++
	}
	m.intervals[m.next] = d
	m.sum += d
	m.next = (m.next + 1) % frameHistory
}

// Suspend forgets the last frame time, so the idle stretch up to the next
// frame is not measured. Call it when delivery stops on purpose.
func (m *PerformanceMonitor) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = time.Time{}
}

// Sample returns the latest reading. Frame counters are left zero; the
// pipeline owns them.
func (m *PerformanceMonitor) Sample() domain.PerformanceSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := domain.PerformanceSample{
		CPUPercent:    m.cpu,
		MemoryPercent: m.memory,
		At:            now,
	}
	if m.count == 0 || m.sum <= 0 {
		return s
	}

	// A frame overdue by more than the mean interval is a stall in
	// progress and drags the reading down until the frame arrives
	span := m.sum
	if !m.last.IsZero() {
		if open := now.Sub(m.last); open > m.sum/time.Duration(m.count) {
			span += open
		}
	}
	s.FPS = float64(m.count) / span.Seconds()
	return s
}
