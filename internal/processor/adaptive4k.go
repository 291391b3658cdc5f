package processor

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	bilateralRadius = 4 // 9px window
	bilateralSigmaS = 10.0
	bilateralSigmaR = 75.0 / 255.0
	pyramidLevels   = 3
	detailGain      = 1.5
)

// adaptive4K denoises with a bilateral filter, boosts the detail layers of a
// Laplacian-style pyramid built on the smoothed base and upscales with Lanczos.
func (e *Enhancer) adaptive4K(img *image.NRGBA, tw, th int) *plane {
	luma := brightness(img, luminance)

	smoothed, ok := bilateral(luma, bilateralRadius, bilateralSigmaS, bilateralSigmaR)
	base := e.guard("bilateral", luma, smoothed, ok)

	boosted := e.guard("pyramid", base, boostDetail(base), true)

	return resample(boosted.clamp(), tw, th, imaging.Lanczos)
}

// boostDetail computes Base + gain * sum(L_i - up(L_{i+1})) over the pyramid
func boostDetail(base *plane) *plane {
	levels := []*plane{base}
	for i := 1; i < pyramidLevels; i++ {
		prev := levels[i-1]
		if prev.w < 2 && prev.h < 2 {
			break
		}
		levels = append(levels, halve(prev))
	}

	out := base.clone()
	for i := 0; i+1 < len(levels); i++ {
		cur := levels[i]
		up := lerpPlane(levels[i+1], cur.w, cur.h)
		detail := newPlane(cur.w, cur.h)
		for k := range cur.pix {
			detail.pix[k] = cur.pix[k] - up.pix[k]
		}
		if i > 0 {
			detail = lerpPlane(detail, base.w, base.h)
		}
		for k := range out.pix {
			out.pix[k] += detailGain * detail.pix[k]
		}
	}
	return out
}
