package processor

import (
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultMaxPixels is the largest upscale target accepted, roughly one 4K frame
	DefaultMaxPixels = 4096 * 2304
)

// Options configures the enhancement engine
type Options struct {
	Algorithm   domain.Algorithm
	EdgePreBlur bool // 1px Gaussian before the edge_enhanced Sobel pass
	MaxPixels   int  // 0 means DefaultMaxPixels
}

// enhanceFunc turns a working-canvas image into a brightness plane of the
// requested target size.
type enhanceFunc func(e *Enhancer, img *image.NRGBA, tw, th int) *plane

// algorithms is indexed by domain.Algorithm
var algorithms = [domain.AlgorithmCount]enhanceFunc{
	domain.AlgorithmLuminance:       perPixel(luminance),
	domain.AlgorithmAverage:         perPixel(average),
	domain.AlgorithmLightness:       perPixel(lightness),
	domain.AlgorithmCustom:          perPixel(customWeighted),
	domain.AlgorithmAdaptive4K:      (*Enhancer).adaptive4K,
	domain.AlgorithmNeuralUpscale:   (*Enhancer).neuralUpscale,
	domain.AlgorithmSuperResolution: (*Enhancer).superResolution,
	domain.AlgorithmEdgeEnhanced:    (*Enhancer).edgeEnhanced,
}

// Enhancer converts frames to brightness planes with the configured algorithm.
// It is safe for concurrent use; its only mutable state is an atomic counter.
type Enhancer struct {
	logger *zap.Logger
	opts   Options
	faults atomic.Uint64
}

// NewEnhancer creates a new enhancement engine
func NewEnhancer(logger *zap.Logger, opts Options) (*Enhancer, error) {
	if !opts.Algorithm.Valid() {
		return nil, fmt.Errorf("invalid algorithm %d", int(opts.Algorithm))
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}

	logger.Info("Enhancer ready",
		zap.Stringer("algorithm", opts.Algorithm),
		zap.Bool("edgePreBlur", opts.EdgePreBlur),
		zap.Int("maxPixels", opts.MaxPixels))

	return &Enhancer{logger: logger, opts: opts}, nil
}

// Algorithm returns the configured algorithm
func (e *Enhancer) Algorithm() domain.Algorithm {
	return e.opts.Algorithm
}

// NumericFaults returns how many filter stages fell back to their input
func (e *Enhancer) NumericFaults() uint64 {
	return e.faults.Load()
}

// Enhance runs the configured algorithm on a prepared frame. Per-pixel
// algorithms ignore the quality level and always produce scale 1.
func (e *Enhancer) Enhance(frame domain.Frame, quality domain.QualityLevel) (domain.EnhancedFrame, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) < frame.Width*frame.Height*frame.Channels {
		return domain.EnhancedFrame{}, fmt.Errorf("frame %d has invalid geometry %dx%dx%d: %w",
			frame.Seq, frame.Width, frame.Height, frame.Channels, domain.ErrDecode)
	}

	scale := 1.0
	if e.opts.Algorithm.Spatial() {
		native := frame.NativeWidth
		if native == 0 {
			native = frame.Width
		}
		scale = quality.Scale(native, frame.Width)
	}

	tw := max(int(math.Round(float64(frame.Width)*scale)), 1)
	th := max(int(math.Round(float64(frame.Height)*scale)), 1)
	if tw*th > e.opts.MaxPixels {
		return domain.EnhancedFrame{}, fmt.Errorf("upscale to %dx%d at %s: %w",
			tw, th, quality, domain.ErrResourceExhausted)
	}

	out := algorithms[e.opts.Algorithm](e, frame.Image(), tw, th)

	return domain.EnhancedFrame{
		Seq:    frame.Seq,
		Epoch:  frame.Epoch,
		Width:  out.w,
		Height: out.h,
		Scale:  scale,
		Luma:   out.pix,
	}, nil
}

// guard returns out if it is usable, otherwise counts a fault and returns in
func (e *Enhancer) guard(stage string, in, out *plane, ok bool) *plane {
	if ok && out != nil && out.finite() {
		return out
	}
	n := e.faults.Add(1)
	e.logger.Debug("Numeric fault, stage skipped",
		zap.String("stage", stage),
		zap.Uint64("faults", n),
		zap.Error(domain.ErrNumericFault))
	return in
}
