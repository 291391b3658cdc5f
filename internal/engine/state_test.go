package engine

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genricoloni/asciivid/internal/domain"
)

func TestClampSpeed(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.0, 1.0},
		{1.04, 1.0},
		{1.06, 1.1},
		{0.0, MinSpeed},
		{-3, MinSpeed},
		{7.5, MaxSpeed},
		{math.NaN(), 1.0},
	}

	for _, tt := range tests {
		if got := clampSpeed(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("clampSpeed(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestControlState_Transitions(t *testing.T) {
	s := NewControlState(domain.QualityStandard, 2, 1)

	if s.Transition(domain.StatePaused, domain.StatePlaying) {
		t.Error("Stopped cannot be paused")
	}
	if !s.Transition(domain.StatePlaying, domain.StateStopped) {
		t.Fatal("Stopped -> Playing must succeed")
	}

	epoch, ok := s.BeginRestart()
	if !ok || epoch != 1 || s.State() != domain.StateRestarting {
		t.Fatalf("expected Restarting at epoch 1, got %s at %d", s.State(), epoch)
	}
	if s.EndOfMedia(0) {
		t.Error("end of a previous epoch must not stop the new one")
	}

	if !s.Terminate() || s.Terminate() {
		t.Error("Terminate must succeed exactly once")
	}
	if s.Transition(domain.StatePlaying, domain.StateTerminated) {
		t.Error("Terminated is final")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done must be closed after Terminate")
	}
}

func TestControlState_AdmitParksExtraWorkers(t *testing.T) {
	s := NewControlState(domain.QualityStandard, 3, 1)
	s.AddWorkers(-2)

	var admitted atomic.Bool
	go func() {
		admitted.Store(s.Admit(2))
	}()

	time.Sleep(20 * time.Millisecond)
	if admitted.Load() {
		t.Fatal("worker 2 must park while only one worker is allowed")
	}

	if n := s.AddWorkers(5); n != 3 {
		t.Fatalf("worker count must stop at the configured 3, got %d", n)
	}
	deadline := time.Now().Add(time.Second)
	for !admitted.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !admitted.Load() {
		t.Fatal("worker 2 must be admitted once workers grow")
	}

	if n := s.AddWorkers(-10); n != 1 {
		t.Errorf("worker count must not drop below 1, got %d", n)
	}
}

func TestControlState_TerminateReleasesWaiters(t *testing.T) {
	s := NewControlState(domain.QualityStandard, 1, 1)

	results := make(chan bool, 3)
	go func() { _, ok := s.WaitPlaying(); results <- ok }()
	go func() { results <- s.WaitEpoch(0) }()
	go func() { results <- s.Admit(5) }()

	time.Sleep(10 * time.Millisecond)
	s.Terminate()

	for i := 0; i < 3; i++ {
		select {
		case ok := <-results:
			if ok {
				t.Error("waiters must report termination")
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not released by Terminate")
		}
	}
}

func TestControlState_QualityCeiling(t *testing.T) {
	s := NewControlState(domain.Quality4K, 1, 1)

	if _, ok := s.StepQualityUp(); ok {
		t.Error("quality starts at the ceiling and cannot rise")
	}
	for i := 0; i < 10; i++ {
		s.StepQualityDown()
	}
	if q, ok := s.StepQualityDown(); ok || q != domain.QualityStandard {
		t.Errorf("Standard is the floor, got %s", q)
	}
	for i := 0; i < 10; i++ {
		s.StepQualityUp()
	}
	if q := s.Quality(); q != domain.Quality4K {
		t.Errorf("quality must stop at the 4k ceiling, got %s", q)
	}
}
