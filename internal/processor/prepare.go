package processor

import (
	"fmt"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/asciivid/internal/domain"
)

// CellAspect is the height/width ratio of a terminal character cell
const CellAspect = 2.0

// Prepare fits a decoded frame into a cols x rows working canvas, one pixel
// per character cell. The picture keeps its visual aspect ratio (cells are
// twice as tall as they are wide) and is letterboxed on black.
func Prepare(frame domain.Frame, cols, rows int) (domain.Frame, error) {
	if cols <= 0 || rows <= 0 {
		return domain.Frame{}, fmt.Errorf("invalid canvas %dx%d", cols, rows)
	}
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) < frame.Width*frame.Height*frame.Channels {
		return domain.Frame{}, fmt.Errorf("frame %d has invalid geometry %dx%d: %w",
			frame.Seq, frame.Width, frame.Height, domain.ErrDecode)
	}

	w, h := FitSize(frame.Width, frame.Height, cols, rows)

	// 1. Downscale the picture to its on-screen size
	src := frame.Image()
	scaled := imaging.Resize(src, w, h, imaging.Box)

	// 2. Centre it on a black canvas of exactly cols x rows
	canvas := imaging.New(cols, rows, color.Black)
	canvas = imaging.PasteCenter(canvas, scaled)

	out := domain.FrameFromImage(frame, canvas)
	if frame.NativeWidth == 0 {
		out.NativeWidth = frame.Width
		out.NativeHeight = frame.Height
	}
	return out, nil
}

// FitSize returns the largest picture size in cells that fits cols x rows
// while keeping the visual aspect ratio of a fw x fh source.
func FitSize(fw, fh, cols, rows int) (w, h int) {
	scale := math.Min(float64(cols)/float64(fw), CellAspect*float64(rows)/float64(fh))
	w = int(math.Round(float64(fw) * scale))
	h = int(math.Round(float64(fh) * scale / CellAspect))
	return min(max(w, 1), cols), min(max(h, 1), rows)
}
