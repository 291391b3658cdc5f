package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/asciivid/internal/config"
	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/genricoloni/asciivid/internal/domain/mocks"
	"github.com/genricoloni/asciivid/internal/processor"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

// fakeSource serves frames whose brightness steps with their position, so
// every frame maps to a different character.
type fakeSource struct {
	mu        sync.Mutex
	frames    int
	pos       int
	resets    int
	image     bool
	corruptAt map[int]bool
}

func (s *fakeSource) Next(ctx context.Context) (domain.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= s.frames {
		return domain.Frame{}, io.EOF
	}
	pos := s.pos
	s.pos++
	if s.corruptAt[pos] {
		return domain.Frame{}, domain.ErrDecode
	}

	const w, h = 16, 8
	pix := make([]byte, w*h*3)
	v := byte(pos * 255 / max(s.frames-1, 1))
	for i := range pix {
		pix[i] = v
	}
	return domain.Frame{
		Timestamp: time.Duration(pos) * time.Second / 25,
		Width:     w,
		Height:    h,
		Channels:  3,
		Pix:       pix,
	}, nil
}

func (s *fakeSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.resets++
	return nil
}

func (s *fakeSource) Info() domain.MediaInfo {
	if s.image {
		return domain.MediaInfo{Path: "still.png", Width: 16, Height: 8, IsImage: true}
	}
	return domain.MediaInfo{Path: "clip.mp4", Width: 16, Height: 8, FPS: 25, FrameCount: int64(s.frames)}
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

type rendered struct {
	seq, epoch uint64
	text       string
}

// fakeRenderer records every frame it is asked to draw
type fakeRenderer struct {
	mu         sync.Mutex
	cols, rows int
	frames     []rendered
	closed     bool
}

func (r *fakeRenderer) Render(frame domain.RenderFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, rendered{seq: frame.Grid.Seq, epoch: frame.Grid.Epoch, text: frame.Grid.String()})
	return nil
}

func (r *fakeRenderer) Size() (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cols, r.rows, nil
}

func (r *fakeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// delivered returns the drawn grids without redraws of the same grid
func (r *fakeRenderer) delivered() []rendered {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []rendered
	for _, f := range r.frames {
		if n := len(out); n > 0 && out[n-1].seq == f.seq && out[n-1].epoch == f.epoch {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *fakeRenderer) setSize(cols, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cols, r.rows = cols, rows
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	s := config.DefaultSettings()
	s.DropPolicy = "block"
	s.Workers = 4
	s.TargetFPS = 200
	s.AdaptInterval = 20 * time.Millisecond
	s.PauseOnLock = true
	cfg, err := s.Resolve("clip.mp4")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return cfg
}

func quietMonitor(ctrl *gomock.Controller) *mocks.MockSampleSource {
	m := mocks.NewMockSampleSource(ctrl)
	m.EXPECT().Start(gomock.Any()).Return(nil).AnyTimes()
	m.EXPECT().Stop().Return(nil).AnyTimes()
	m.EXPECT().RecordFrame(gomock.Any()).AnyTimes()
	m.EXPECT().Suspend().AnyTimes()
	m.EXPECT().Sample().Return(domain.PerformanceSample{}).AnyTimes()
	return m
}

type testRig struct {
	engine   *Engine
	source   domain.FrameSource
	renderer *fakeRenderer
}

func createTestEngine(t *testing.T, src domain.FrameSource, enhancer domain.Enhancer, configure func(*config.AppConfig)) *testRig {
	t.Helper()
	ctrl := gomock.NewController(t)

	cfg := testConfig(t)
	if configure != nil {
		configure(cfg)
	}
	if enhancer == nil {
		var err error
		enhancer, err = processor.NewEnhancer(zap.NewNop(), processor.Options{Algorithm: domain.AlgorithmLuminance})
		if err != nil {
			t.Fatalf("NewEnhancer failed: %v", err)
		}
	}

	r := &fakeRenderer{cols: 40, rows: 12}
	e, err := NewEngine(Params{
		Logger:   zap.NewNop(),
		Config:   cfg,
		Source:   src,
		Renderer: r,
		Enhancer: enhancer,
		Monitor:  quietMonitor(ctrl),
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return &testRig{engine: e, source: src, renderer: r}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, e *Engine) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- e.Wait() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not terminate")
		return nil
	}
}

func assertSequence(t *testing.T, got []rendered, epoch uint64, n int) {
	t.Helper()
	if len(got) != n {
		t.Fatalf("expected %d grids, got %d", n, len(got))
	}
	for i, g := range got {
		if g.seq != uint64(i) || g.epoch != epoch {
			t.Fatalf("grid %d: expected seq %d epoch %d, got seq %d epoch %d", i, i, epoch, g.seq, g.epoch)
		}
	}
}

func TestEngine_PlaysInOrder(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			src := &fakeSource{frames: 30}
			rig := createTestEngine(t, src, nil, func(c *config.AppConfig) { c.Workers = workers })

			if err := rig.engine.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if err := waitDone(t, rig.engine); err != nil {
				t.Fatalf("unexpected playback error: %v", err)
			}

			assertSequence(t, rig.renderer.delivered(), 0, 30)
			if rig.engine.State() != domain.StateTerminated {
				t.Errorf("expected Terminated after the last frame, got %s", rig.engine.State())
			}
		})
	}
}

func TestEngine_PauseHaltsDeliveryWithoutLoss(t *testing.T) {
	src := &fakeSource{frames: 40}
	rig := createTestEngine(t, src, nil, func(c *config.AppConfig) {
		c.TargetFPS = 50
		c.ExitOnEnd = false
	})

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first grids", func() bool { return len(rig.renderer.delivered()) >= 3 })

	rig.engine.HandleEvent(domain.EventTogglePause)
	if rig.engine.State() != domain.StatePaused {
		t.Fatalf("expected Paused, got %s", rig.engine.State())
	}

	// A grid already past the pause check may still land; after that nothing moves
	time.Sleep(60 * time.Millisecond)
	before := len(rig.renderer.delivered())
	time.Sleep(150 * time.Millisecond)
	if after := len(rig.renderer.delivered()); after != before {
		t.Fatalf("delivery continued while paused: %d -> %d", before, after)
	}

	rig.engine.HandleEvent(domain.EventTogglePause)
	waitFor(t, "end of media", func() bool { return rig.engine.State() == domain.StateStopped })

	assertSequence(t, rig.renderer.delivered(), 0, 40)
}

func TestEngine_RestartResetsSequence(t *testing.T) {
	src := &fakeSource{frames: 10}
	rig := createTestEngine(t, src, nil, func(c *config.AppConfig) { c.ExitOnEnd = false })

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first run", func() bool { return len(rig.renderer.delivered()) == 10 && rig.engine.State() == domain.StateStopped })

	rig.engine.HandleEvent(domain.EventRestart)
	waitFor(t, "second run", func() bool { return len(rig.renderer.delivered()) == 20 && rig.engine.State() == domain.StateStopped })

	got := rig.renderer.delivered()
	assertSequence(t, got[:10], 0, 10)
	assertSequence(t, got[10:], 1, 10)
	if got[0].text != got[10].text {
		t.Error("the first grid after restart must match the first grid of the first run")
	}
	if src.Resets() != 1 {
		t.Errorf("expected one source reset, got %d", src.Resets())
	}
}

// slowEnhancer holds every frame for delay so the render loop waits in the
// reorder stage most of the time
type slowEnhancer struct {
	inner domain.Enhancer
	delay time.Duration
}

func (x *slowEnhancer) Enhance(frame domain.Frame, q domain.QualityLevel) (domain.EnhancedFrame, error) {
	time.Sleep(x.delay)
	return x.inner.Enhance(frame, q)
}

func TestEngine_RestartWhilePlaying(t *testing.T) {
	inner, err := processor.NewEnhancer(zap.NewNop(), processor.Options{Algorithm: domain.AlgorithmLuminance})
	if err != nil {
		t.Fatalf("NewEnhancer failed: %v", err)
	}
	enh := &slowEnhancer{inner: inner, delay: 20 * time.Millisecond}
	rig := createTestEngine(t, &fakeSource{frames: 40}, enh, func(c *config.AppConfig) {
		c.Workers = 1
		c.ExitOnEnd = false
	})

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first grids", func() bool { return len(rig.renderer.delivered()) >= 5 })

	rig.engine.Restart()

	secondRun := func() []rendered {
		var out []rendered
		for _, g := range rig.renderer.delivered() {
			if g.epoch == 1 {
				out = append(out, g)
			}
		}
		return out
	}
	waitFor(t, "end of the second run", func() bool { return rig.engine.State() == domain.StateStopped })

	assertSequence(t, secondRun(), 1, 40)
}

func TestEngine_SpeedDoesNotChangeContent(t *testing.T) {
	play := func(speed float64) []rendered {
		src := &fakeSource{frames: 12}
		rig := createTestEngine(t, src, nil, func(c *config.AppConfig) { c.Speed = speed })
		if err := rig.engine.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := waitDone(t, rig.engine); err != nil {
			t.Fatalf("unexpected playback error: %v", err)
		}
		return rig.renderer.delivered()
	}

	slow, fast := play(1), play(5)
	if len(slow) != len(fast) {
		t.Fatalf("grid counts differ: %d vs %d", len(slow), len(fast))
	}
	for i := range slow {
		if slow[i].text != fast[i].text {
			t.Errorf("grid %d differs between speeds", i)
		}
	}
}

func TestEngine_ChangeSpeedClamps(t *testing.T) {
	rig := createTestEngine(t, &fakeSource{frames: 1}, nil, nil)

	for i := 0; i < 100; i++ {
		rig.engine.HandleEvent(domain.EventSpeedUp)
	}
	if got := rig.engine.Control().Speed(); got != MaxSpeed {
		t.Errorf("expected speed capped at %.1f, got %.2f", MaxSpeed, got)
	}
	for i := 0; i < 100; i++ {
		rig.engine.HandleEvent(domain.EventSpeedDown)
	}
	if got := rig.engine.Control().Speed(); got != MinSpeed {
		t.Errorf("expected speed floored at %.1f, got %.2f", MinSpeed, got)
	}
}

func TestEngine_TerminalTooSmall(t *testing.T) {
	rig := createTestEngine(t, &fakeSource{frames: 5}, nil, nil)
	rig.renderer.setSize(10, 3)

	err := rig.engine.Start(context.Background())
	if !errors.Is(err, domain.ErrTerminalTooSmall) {
		t.Fatalf("expected ErrTerminalTooSmall, got %v", err)
	}
	if n := len(rig.renderer.delivered()); n != 0 {
		t.Errorf("no frame may be drawn when the terminal is too small, got %d", n)
	}
}

func TestEngine_DecodeErrorsAreSkipped(t *testing.T) {
	src := &fakeSource{frames: 10, corruptAt: map[int]bool{3: true, 7: true}}
	rig := createTestEngine(t, src, nil, nil)

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := waitDone(t, rig.engine); err != nil {
		t.Fatalf("decode errors must not be fatal, got %v", err)
	}

	assertSequence(t, rig.renderer.delivered(), 0, 8)
	if got := rig.engine.Sample().SkippedFrames; got != 2 {
		t.Errorf("expected 2 skipped frames, got %d", got)
	}
}

func TestEngine_SourceFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockFrameSource(ctrl)
	src.EXPECT().Info().Return(domain.MediaInfo{Path: "broken.mp4", FPS: 25}).AnyTimes()
	src.EXPECT().Next(gomock.Any()).Return(domain.Frame{}, errors.New("demuxer crashed"))
	src.EXPECT().Close().Return(nil)

	rig := createTestEngine(t, src, nil, nil)
	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := waitDone(t, rig.engine)
	if err == nil {
		t.Fatal("expected the source error to end playback")
	}
	if rig.engine.State() != domain.StateTerminated {
		t.Errorf("expected Terminated, got %s", rig.engine.State())
	}
}

func TestEngine_ImageIsHeld(t *testing.T) {
	src := &fakeSource{frames: 1, image: true}
	rig := createTestEngine(t, src, nil, nil)

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "image shown", func() bool { return rig.engine.State() == domain.StateStopped })

	select {
	case <-rig.engine.Done():
		t.Fatal("an image must stay on screen after it is drawn")
	case <-time.After(50 * time.Millisecond):
	}

	// A resize renders the image again at the new size
	rig.renderer.setSize(60, 20)
	waitFor(t, "re-render after resize", func() bool { return len(rig.renderer.delivered()) == 2 })
	if cols, rows := rig.engine.Control().GridSize(); cols != 60 || rows != 19 {
		t.Errorf("expected a 60x19 grid below the status line, got %dx%d", cols, rows)
	}
}

func TestEngine_ScreenLockPausesAndResumes(t *testing.T) {
	src := &fakeSource{frames: 200}
	rig := createTestEngine(t, src, nil, func(c *config.AppConfig) { c.TargetFPS = 50 })

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rig.engine.HandleEvent(domain.EventPause)
	if rig.engine.State() != domain.StatePaused {
		t.Fatalf("lock must pause, got %s", rig.engine.State())
	}
	rig.engine.HandleEvent(domain.EventResume)
	if rig.engine.State() != domain.StatePlaying {
		t.Fatalf("unlock must resume a lock pause, got %s", rig.engine.State())
	}

	// A pause chosen by the user survives an unlock
	rig.engine.HandleEvent(domain.EventTogglePause)
	rig.engine.HandleEvent(domain.EventResume)
	if rig.engine.State() != domain.StatePaused {
		t.Errorf("unlock must not resume a manual pause, got %s", rig.engine.State())
	}
}

// exhaustingEnhancer fails every request above maxQuality
type exhaustingEnhancer struct {
	inner      domain.Enhancer
	maxQuality domain.QualityLevel
	floorFails bool
}

func (x *exhaustingEnhancer) Enhance(frame domain.Frame, q domain.QualityLevel) (domain.EnhancedFrame, error) {
	if q > x.maxQuality || x.floorFails {
		return domain.EnhancedFrame{}, domain.ErrResourceExhausted
	}
	return x.inner.Enhance(frame, q)
}

func TestEngine_ResourceExhaustion(t *testing.T) {
	inner, err := processor.NewEnhancer(zap.NewNop(), processor.Options{Algorithm: domain.AlgorithmLuminance})
	if err != nil {
		t.Fatalf("NewEnhancer failed: %v", err)
	}

	t.Run("steps down and continues", func(t *testing.T) {
		enh := &exhaustingEnhancer{inner: inner, maxQuality: domain.QualityAuto}
		rig := createTestEngine(t, &fakeSource{frames: 10}, enh, func(c *config.AppConfig) { c.Quality = domain.Quality8K })

		if err := rig.engine.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := waitDone(t, rig.engine); err != nil {
			t.Fatalf("unexpected playback error: %v", err)
		}
		assertSequence(t, rig.renderer.delivered(), 0, 10)
		if q := rig.engine.Control().Quality(); q != domain.QualityAuto {
			t.Errorf("expected quality to settle at auto, got %s", q)
		}
	})

	t.Run("fatal at the floor", func(t *testing.T) {
		enh := &exhaustingEnhancer{inner: inner, floorFails: true}
		rig := createTestEngine(t, &fakeSource{frames: 10}, enh, nil)

		if err := rig.engine.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := waitDone(t, rig.engine); !errors.Is(err, domain.ErrResourceExhausted) {
			t.Fatalf("expected ErrResourceExhausted, got %v", err)
		}
	})
}

func TestEngine_StopRestoresTerminal(t *testing.T) {
	rig := createTestEngine(t, &fakeSource{frames: 1000}, nil, func(c *config.AppConfig) { c.TargetFPS = 30 })

	if err := rig.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first grid", func() bool { return len(rig.renderer.delivered()) > 0 })

	if err := rig.engine.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !rig.renderer.closed {
		t.Error("Stop must close the renderer")
	}
	if err := rig.engine.Wait(); err != nil {
		t.Errorf("a requested stop is not an error, got %v", err)
	}
}
