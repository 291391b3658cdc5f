package processor

import (
	"image"
)

// pixelFunc maps normalised RGB to a brightness in [0,1]
type pixelFunc func(r, g, b float32) float32

func luminance(r, g, b float32) float32 {
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func average(r, g, b float32) float32 {
	return (r + g + b) / 3
}

func lightness(r, g, b float32) float32 {
	return (max(r, g, b) + min(r, g, b)) / 2
}

func customWeighted(r, g, b float32) float32 {
	return 0.30*r + 0.59*g + 0.11*b
}

// perPixel adapts a pixelFunc to the dispatch table. No resampling happens,
// the output has the size of the input.
func perPixel(fn pixelFunc) enhanceFunc {
	return func(_ *Enhancer, img *image.NRGBA, _, _ int) *plane {
		return brightness(img, fn)
	}
}

func brightness(img *image.NRGBA, fn pixelFunc) *plane {
	b := img.Bounds()
	out := newPlane(b.Dx(), b.Dy())
	for y := 0; y < out.h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < out.w; x++ {
			px := img.Pix[off+x*4 : off+x*4+3 : off+x*4+3]
			out.pix[y*out.w+x] = fn(float32(px[0])/255, float32(px[1])/255, float32(px[2])/255)
		}
	}
	return out
}
