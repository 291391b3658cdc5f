package engine

import (
	"sync"
	"testing"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

type countingFlusher struct{ flushes int }

func (f *countingFlusher) Flush() int {
	f.flushes++
	return 4
}

func createTestController(ceiling domain.QualityLevel, workers int) (*AdaptiveController, *ControlState, *countingFlusher) {
	state := NewControlState(ceiling, workers, 1)
	flusher := &countingFlusher{}
	c := NewAdaptiveController(zap.NewNop(), AdaptiveOptions{
		TargetFPS:          30,
		CPUThreshold:       80,
		MemoryThreshold:    80,
		FrameDropThreshold: 0.8,
		DebounceTicks:      3,
		UpgradeTicks:       5,
	}, state, flusher)
	return c, state, flusher
}

var (
	slowSample    = domain.PerformanceSample{FPS: 20, CPUPercent: 40, MemoryPercent: 40}
	healthySample = domain.PerformanceSample{FPS: 29, CPUPercent: 40, MemoryPercent: 40}
)

func TestAdaptive_StepsDownAfterDebounce(t *testing.T) {
	c, state, _ := createTestController(domain.Quality8K, 4)

	for i := 1; i < 3; i++ {
		if adj := c.Tick(slowSample); adj.QualityChanged {
			t.Fatalf("quality changed after %d slow ticks, before the debounce window", i)
		}
	}
	adj := c.Tick(slowSample)
	if !adj.QualityChanged || state.Quality() != domain.Quality6K {
		t.Fatalf("expected a step down to 6k on the third slow tick, got %s", state.Quality())
	}

	// A healthy tick in between resets the count
	c.Tick(slowSample)
	c.Tick(healthySample)
	c.Tick(slowSample)
	c.Tick(slowSample)
	if state.Quality() != domain.Quality6K {
		t.Errorf("interrupted slow streak must not step down, got %s", state.Quality())
	}
}

func TestAdaptive_NeverExceedsCeiling(t *testing.T) {
	c, state, _ := createTestController(domain.Quality4K, 2)

	for i := 0; i < 50; i++ {
		c.Tick(healthySample)
		if q := state.Quality(); q > domain.Quality4K {
			t.Fatalf("tick %d: quality %s above the 4k ceiling", i, q)
		}
	}
}

func TestAdaptive_RecoversAfterHealthyTicks(t *testing.T) {
	c, state, _ := createTestController(domain.Quality4K, 4)

	// 1. CPU pressure and a slow streak
	c.Tick(domain.PerformanceSample{FPS: 20, CPUPercent: 95, MemoryPercent: 40})
	c.Tick(domain.PerformanceSample{FPS: 20, CPUPercent: 95, MemoryPercent: 40})
	c.Tick(domain.PerformanceSample{FPS: 20, CPUPercent: 95, MemoryPercent: 40})
	if state.Quality() != domain.QualityAuto || state.Workers() != 1 {
		t.Fatalf("expected auto with 1 worker, got %s with %d", state.Quality(), state.Workers())
	}

	// 2. Five healthy ticks buy one tier and one worker back
	for i := 1; i < 5; i++ {
		if adj := c.Tick(healthySample); adj.QualityChanged || adj.WorkersChanged {
			t.Fatalf("recovered after only %d healthy ticks", i)
		}
	}
	adj := c.Tick(healthySample)
	if !adj.QualityChanged || state.Quality() != domain.Quality4K || state.Workers() != 2 {
		t.Errorf("expected 4k with 2 workers, got %s with %d", state.Quality(), state.Workers())
	}
}

func TestAdaptive_ResourceRules(t *testing.T) {
	tests := []struct {
		name        string
		sample      domain.PerformanceSample
		wantWorkers int
		wantFlushes int
	}{
		{name: "cpu high", sample: domain.PerformanceSample{FPS: 30, CPUPercent: 81}, wantWorkers: 2},
		{name: "memory high", sample: domain.PerformanceSample{FPS: 30, MemoryPercent: 90}, wantWorkers: 3, wantFlushes: 1},
		{name: "both high", sample: domain.PerformanceSample{CPUPercent: 99, MemoryPercent: 99}, wantWorkers: 2, wantFlushes: 1},
		{name: "at threshold", sample: domain.PerformanceSample{FPS: 30, CPUPercent: 80, MemoryPercent: 80}, wantWorkers: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, state, flusher := createTestController(domain.QualityStandard, 3)
			adj := c.Tick(tt.sample)

			if state.Workers() != tt.wantWorkers || adj.Workers != tt.wantWorkers {
				t.Errorf("expected %d workers, got %d", tt.wantWorkers, state.Workers())
			}
			if flusher.flushes != tt.wantFlushes {
				t.Errorf("expected %d flushes, got %d", tt.wantFlushes, flusher.flushes)
			}
		})
	}
}

func TestAdaptive_NoReadingIsNeutral(t *testing.T) {
	c, state, _ := createTestController(domain.Quality8K, 2)

	for i := 0; i < 20; i++ {
		c.Tick(domain.PerformanceSample{})
	}
	if state.Quality() != domain.Quality8K {
		t.Errorf("ticks without an fps reading must not change quality, got %s", state.Quality())
	}
}

func TestAdaptive_ForceStepDown(t *testing.T) {
	c, state, _ := createTestController(domain.Quality8K, 4)

	// Concurrent failures at the same level step down once
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ForceStepDown(domain.Quality8K)
		}()
	}
	wg.Wait()
	if state.Quality() != domain.Quality6K {
		t.Fatalf("expected one step to 6k, got %s", state.Quality())
	}

	for state.Quality() > domain.QualityStandard {
		if !c.ForceStepDown(state.Quality()) {
			t.Fatal("step down above the floor must succeed")
		}
	}
	if c.ForceStepDown(domain.QualityStandard) {
		t.Error("step down at the floor must report failure")
	}
}
