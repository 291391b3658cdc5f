package processor

import (
	"image"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

const (
	guidedRadius = 8
	guidedEps    = 0.01
	edgeEmphasis = 0.25
)

// neuralUpscale filters lightness in CIELAB with a guided filter, adds Sobel
// and morphological edge emphasis, then rebuilds RGB and upscales it with a
// Catmull-Rom kernel before taking luminance.
func (e *Enhancer) neuralUpscale(img *image.NRGBA, tw, th int) *plane {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	l := newPlane(w, h)
	ca := make([]float64, w*h)
	cb := make([]float64, w*h)

	// 1. RGB -> Lab
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Bounds().Min.X, img.Bounds().Min.Y+y)
		for x := 0; x < w; x++ {
			c := colorful.Color{
				R: float64(img.Pix[off+x*4]) / 255,
				G: float64(img.Pix[off+x*4+1]) / 255,
				B: float64(img.Pix[off+x*4+2]) / 255,
			}
			lv, av, bv := c.Lab()
			l.pix[y*w+x] = float32(lv)
			ca[y*w+x] = av
			cb[y*w+x] = bv
		}
	}

	// 2. Edge-aware smoothing of L
	filtered := e.guard("guided", l, guidedFilter(l, guidedRadius, guidedEps), true)

	// 3. Edge emphasis from the average of both normalised gradients
	edged, ok := emphasiseEdges(filtered)
	emphasised := e.guard("edges", filtered, edged, ok)

	// 4. Lab -> RGB
	rgb := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range emphasised.pix {
		c := colorful.Lab(float64(emphasised.pix[i]), ca[i], cb[i]).Clamped()
		r, g, b := c.RGB255()
		rgb.Pix[i*4] = r
		rgb.Pix[i*4+1] = g
		rgb.Pix[i*4+2] = b
		rgb.Pix[i*4+3] = 0xff
	}

	// 5. Anti-aliased bicubic upscale
	dst := rgb
	if tw != w || th != h {
		dst = image.NewNRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)
	}
	return brightness(dst, luminance)
}

// emphasiseEdges reports false when the gradients are flat and cannot be normalised
func emphasiseEdges(l *plane) (*plane, bool) {
	grad, okS := sobel(l).normalize()
	morph, okM := morphGradient(l).normalize()
	if !okS || !okM {
		return l, false
	}

	out := newPlane(l.w, l.h)
	for i := range l.pix {
		edge := 0.5 * (grad.pix[i] + morph.pix[i])
		out.pix[i] = l.pix[i] + edgeEmphasis*edge
	}
	return out.clamp(), true
}
