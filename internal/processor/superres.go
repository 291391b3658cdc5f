package processor

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	unsharpSigma  = 1.0
	unsharpAmount = 1.5
	claheClip     = 2.0
	claheTiles    = 8
	upscaleSteps  = 3
	boostAlpha    = 0.3
)

// superResolution sharpens, equalises local contrast and then reaches the
// target size in several small Catmull-Rom steps with a detail boost after
// each one.
func (e *Enhancer) superResolution(img *image.NRGBA, tw, th int) *plane {
	luma := brightness(img, luminance)

	sharp := e.guard("unsharp", luma, unsharpMask(luma, unsharpSigma, unsharpAmount), true)
	eq := e.guard("clahe", sharp, clahe(sharp, claheTiles, claheClip), true)

	cur := eq
	fx := math.Pow(float64(tw)/float64(cur.w), 1.0/upscaleSteps)
	fy := math.Pow(float64(th)/float64(cur.h), 1.0/upscaleSteps)
	w0, h0 := float64(cur.w), float64(cur.h)
	for step := 1; step <= upscaleSteps; step++ {
		w, h := tw, th
		if step < upscaleSteps {
			w = max(int(math.Round(w0*math.Pow(fx, float64(step)))), 1)
			h = max(int(math.Round(h0*math.Pow(fy, float64(step)))), 1)
		}
		next := resample(cur, w, h, imaging.CatmullRom)
		cur = e.guard("detail boost", next, unsharpMask(next, unsharpSigma, boostAlpha), true)
	}
	return cur
}

// unsharpMask returns x + amount*(x - blur(x)), clamped
func unsharpMask(p *plane, sigma, amount float64) *plane {
	blurred := blur(p, sigma)
	out := newPlane(p.w, p.h)
	a := float32(amount)
	for i, v := range p.pix {
		out.pix[i] = v + a*(v-blurred.pix[i])
	}
	return out.clamp()
}
