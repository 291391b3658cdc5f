package processor

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	edgeAlpha    = 0.3
	preBlurSigma = 1.0
)

// edgeEnhanced blends luminance with its normalised Sobel magnitude:
// (1-a)*L + a*E. A flat frame has no usable gradient and passes through.
func (e *Enhancer) edgeEnhanced(img *image.NRGBA, tw, th int) *plane {
	luma := brightness(img, luminance)

	src := luma
	if e.opts.EdgePreBlur {
		src = blur(luma, preBlurSigma)
	}

	mag, ok := sobel(src).normalize()
	if ok {
		blend := newPlane(luma.w, luma.h)
		for i, v := range luma.pix {
			blend.pix[i] = (1-edgeAlpha)*v + edgeAlpha*mag.pix[i]
		}
		mag = blend
	}
	out := e.guard("sobel", luma, mag, ok)

	return resample(out, tw, th, imaging.Linear)
}
