package domain

import (
	"context"
	"time"
)

// FrameSource produces a finite sequence of decoded frames.
// Implementations wrap a decoding library and are not safe for concurrent use.
//
//go:generate mockgen -destination=mocks/domain_mock.go -package=mocks github.com/genricoloni/asciivid/internal/domain FrameSource,Renderer,SampleSource,InputSource
type FrameSource interface {
	// Next returns the next frame. io.EOF ends the stream; an error wrapping
	// ErrDecode means one frame was lost and the caller may continue.
	Next(ctx context.Context) (Frame, error)

	// Reset rewinds the source to its first frame
	Reset() error

	// Info returns static metadata about the media
	Info() MediaInfo

	// Close releases decoder resources
	Close() error
}

// Renderer draws grids to the terminal
type Renderer interface {
	// Render draws one frame, grids arrive in sequence order
	Render(frame RenderFrame) error

	// Size returns the current terminal size in cells
	Size() (cols, rows int, err error)

	// Close restores the terminal
	Close() error
}

// SampleSource measures playback performance
type SampleSource interface {
	// Start begins periodic sampling of process CPU and memory
	Start(ctx context.Context) error

	// Stop ends sampling
	Stop() error

	// RecordFrame registers one delivered frame for fps measurement
	RecordFrame(at time.Time)

	// Suspend excludes the time until the next frame from fps measurement
	Suspend()

	// Sample returns the latest reading
	Sample() PerformanceSample
}

// InputSource delivers transport control events
type InputSource interface {
	// Start begins reading input; it returns once reading is set up
	Start(ctx context.Context) error

	// Stop ends reading and closes the events channel
	Stop() error

	// Events returns a read-only channel of control events
	Events() <-chan ControlEvent
}

// Enhancer turns a frame into a brightness plane
type Enhancer interface {
	Enhance(frame Frame, quality QualityLevel) (EnhancedFrame, error)
}
