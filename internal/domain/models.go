package domain

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// PlaybackState represents the current state of the playback controller
type PlaybackState int

const (
	// StateStopped is the initial state and the state after the media ends
	StateStopped PlaybackState = iota
	// StatePlaying indicates grids are being delivered to the renderer
	StatePlaying
	// StatePaused halts delivery without stopping the pipeline
	StatePaused
	// StateRestarting is transient while the source rewinds to its first frame
	StateRestarting
	// StateTerminated is final; every loop exits once it is reached
	StateTerminated
)

// Playback speed multipliers are limited to [MinSpeed, MaxSpeed]
const (
	MinSpeed = 0.1
	MaxSpeed = 5.0
)

func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateRestarting:
		return "Restarting"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("PlaybackState(%d)", int(s))
	}
}

// Frame is a raw decoded picture. Whoever holds a Frame owns Pix; it is
// handed over on enqueue/dequeue and never written by two stages.
type Frame struct {
	Seq       uint64
	Epoch     uint64
	Timestamp time.Duration
	Width     int
	Height    int
	Channels  int // 3 = RGB24, 4 = NRGBA
	Pix       []byte

	// NativeWidth and NativeHeight keep the decoded resolution after the
	// frame has been scaled to the working canvas.
	NativeWidth  int
	NativeHeight int
}

// Image returns the frame as an NRGBA image. RGBA data is wrapped without copying.
func (f Frame) Image() *image.NRGBA {
	if f.Channels == 4 {
		return &image.NRGBA{
			Pix:    f.Pix,
			Stride: f.Width * 4,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := 0; i < n && i*3+2 < len(f.Pix); i++ {
		img.Pix[i*4] = f.Pix[i*3]
		img.Pix[i*4+1] = f.Pix[i*3+1]
		img.Pix[i*4+2] = f.Pix[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// FrameFromImage builds a 4-channel frame from an NRGBA image, keeping the
// sequence metadata of ref.
func FrameFromImage(ref Frame, img *image.NRGBA) Frame {
	b := img.Bounds()
	pix := img.Pix
	if img.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		pix = make([]byte, b.Dx()*b.Dy()*4)
		for y := 0; y < b.Dy(); y++ {
			off := img.PixOffset(b.Min.X, b.Min.Y+y)
			copy(pix[y*b.Dx()*4:(y+1)*b.Dx()*4], img.Pix[off:off+b.Dx()*4])
		}
	}

	out := ref
	out.Width = b.Dx()
	out.Height = b.Dy()
	out.Channels = 4
	out.Pix = pix
	if out.NativeWidth == 0 {
		out.NativeWidth = ref.Width
		out.NativeHeight = ref.Height
	}
	return out
}

// EnhancedFrame is the brightness plane produced by an enhancement algorithm.
type EnhancedFrame struct {
	Seq    uint64
	Epoch  uint64
	Width  int
	Height int
	Scale  float64
	Luma   []float32 // row-major, values in [0,1]
}

// AsciiGrid is one rendered frame as rows of characters
type AsciiGrid struct {
	Seq   uint64
	Epoch uint64
	Cols  int
	Rows  int
	Cells [][]rune
}

// CellCount returns the number of characters in the grid
func (g AsciiGrid) CellCount() int {
	n := 0
	for _, row := range g.Cells {
		n += len(row)
	}
	return n
}

// Lines returns each row as a string
func (g AsciiGrid) Lines() []string {
	lines := make([]string, len(g.Cells))
	for i, row := range g.Cells {
		lines[i] = string(row)
	}
	return lines
}

func (g AsciiGrid) String() string {
	return strings.Join(g.Lines(), "\n")
}

// PerformanceSample is one reading of the performance monitor
type PerformanceSample struct {
	FPS           float64
	CPUPercent    float64
	MemoryPercent float64
	DroppedFrames uint64
	SkippedFrames uint64
	NumericFaults uint64
	At            time.Time
}

// MediaInfo describes an opened frame source
type MediaInfo struct {
	Path       string
	Width      int
	Height     int
	FPS        float64
	FrameCount int64
	IsImage    bool
}

// Duration returns the media length derived from frame count and fps
func (m MediaInfo) Duration() time.Duration {
	if m.FPS <= 0 || m.FrameCount <= 0 {
		return 0
	}
	return time.Duration(float64(m.FrameCount) / m.FPS * float64(time.Second))
}

// ControlEvent is a discrete transport command delivered by an InputSource
type ControlEvent int

const (
	EventNone ControlEvent = iota
	EventTogglePause
	EventPause
	EventResume
	EventQuit
	EventSpeedUp
	EventSpeedDown
	EventRestart
	EventToggleUI
	EventTogglePerformance
)

func (e ControlEvent) String() string {
	switch e {
	case EventTogglePause:
		return "toggle-pause"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventQuit:
		return "quit"
	case EventSpeedUp:
		return "speed-up"
	case EventSpeedDown:
		return "speed-down"
	case EventRestart:
		return "restart"
	case EventToggleUI:
		return "toggle-ui"
	case EventTogglePerformance:
		return "toggle-performance"
	default:
		return "none"
	}
}

// StatusLine carries what the renderer shows under the grid
type StatusLine struct {
	State       PlaybackState
	Position    time.Duration
	Duration    time.Duration
	Speed       float64
	Quality     QualityLevel
	IsImage     bool
	Performance *PerformanceSample // nil when the performance display is off
}

// RenderFrame is what the render loop hands to the Renderer
type RenderFrame struct {
	Grid   AsciiGrid
	Status *StatusLine // nil when the UI is hidden
}
