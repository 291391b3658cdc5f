package processor

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// plane is a single-channel float image, row-major, nominally in [0,1]
type plane struct {
	w, h int
	pix  []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float32, w*h)}
}

func (p *plane) clone() *plane {
	out := newPlane(p.w, p.h)
	copy(out.pix, p.pix)
	return out
}

// at returns the value at (x, y) with edge replication outside the bounds
func (p *plane) at(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return p.pix[y*p.w+x]
}

// finite reports whether every value is a real number
func (p *plane) finite() bool {
	for _, v := range p.pix {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

func (p *plane) clamp() *plane {
	for i, v := range p.pix {
		if v < 0 {
			p.pix[i] = 0
		} else if v > 1 {
			p.pix[i] = 1
		}
	}
	return p
}

// minMax returns the value range of the plane
func (p *plane) minMax() (lo, hi float32) {
	if len(p.pix) == 0 {
		return 0, 0
	}
	lo, hi = p.pix[0], p.pix[0]
	for _, v := range p.pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// normalize stretches the plane to [0,1]. It reports false when the range is zero.
func (p *plane) normalize() (*plane, bool) {
	lo, hi := p.minMax()
	span := hi - lo
	if span <= 0 || math.IsNaN(float64(span)) || math.IsInf(float64(span), 0) {
		return p, false
	}
	out := newPlane(p.w, p.h)
	for i, v := range p.pix {
		out.pix[i] = (v - lo) / span
	}
	return out, true
}

// toGray quantises the plane to 8 bits for the imaging resamplers
func (p *plane) toGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.w, p.h))
	for i, v := range p.pix {
		img.Pix[i] = toByte(v)
	}
	return img
}

// planeFromNRGBA reads the red channel of a gray NRGBA image
func planeFromNRGBA(img *image.NRGBA) *plane {
	b := img.Bounds()
	out := newPlane(b.Dx(), b.Dy())
	for y := 0; y < out.h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < out.w; x++ {
			out.pix[y*out.w+x] = float32(img.Pix[off+x*4]) / 255
		}
	}
	return out
}

// resample resizes the plane with one of the imaging filters
func resample(p *plane, w, h int, filter imaging.ResampleFilter) *plane {
	if w == p.w && h == p.h {
		return p.clone()
	}
	return planeFromNRGBA(imaging.Resize(p.toGray(), w, h, filter))
}

// blur applies the imaging Gaussian blur to the plane
func blur(p *plane, sigma float64) *plane {
	if sigma <= 0 {
		return p.clone()
	}
	return planeFromNRGBA(imaging.Blur(p.toGray(), sigma))
}

func toByte(v float32) uint8 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// lerpPlane resizes with bilinear interpolation at full float precision.
// The pyramid uses it because 8-bit quantisation would erase fine detail layers.
func lerpPlane(p *plane, w, h int) *plane {
	out := newPlane(w, h)
	sx := float64(p.w) / float64(w)
	sy := float64(p.h) / float64(h)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(math.Floor(fy))
		ty := float32(fy - float64(y0))
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(math.Floor(fx))
			tx := float32(fx - float64(x0))
			top := p.at(x0, y0)*(1-tx) + p.at(x0+1, y0)*tx
			bot := p.at(x0, y0+1)*(1-tx) + p.at(x0+1, y0+1)*tx
			out.pix[y*w+x] = top*(1-ty) + bot*ty
		}
	}
	return out
}

// halve averages 2x2 blocks; odd edges are replicated
func halve(p *plane) *plane {
	w, h := (p.w+1)/2, (p.h+1)/2
	out := newPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := p.at(2*x, 2*y) + p.at(2*x+1, 2*y) + p.at(2*x, 2*y+1) + p.at(2*x+1, 2*y+1)
			out.pix[y*w+x] = sum / 4
		}
	}
	return out
}
