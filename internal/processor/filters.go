package processor

import (
	"math"
)

// boxMean returns the mean over a (2r+1)^2 window, computed from a summed-area
// table. Windows are cropped at the borders.
func boxMean(p *plane, r int) *plane {
	w, h := p.w, p.h
	sat := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += float64(p.pix[y*w+x])
			sat[(y+1)*(w+1)+x+1] = sat[y*(w+1)+x+1] + row
		}
	}

	out := newPlane(w, h)
	for y := 0; y < h; y++ {
		y0, y1 := max(y-r, 0), min(y+r+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, w)
			sum := sat[y1*(w+1)+x1] - sat[y0*(w+1)+x1] - sat[y1*(w+1)+x0] + sat[y0*(w+1)+x0]
			out.pix[y*w+x] = float32(sum / float64((x1-x0)*(y1-y0)))
		}
	}
	return out
}

// sobel returns the gradient magnitude sqrt(Gx^2 + Gy^2)
func sobel(p *plane) *plane {
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			gx := -p.at(x-1, y-1) - 2*p.at(x-1, y) - p.at(x-1, y+1) +
				p.at(x+1, y-1) + 2*p.at(x+1, y) + p.at(x+1, y+1)
			gy := -p.at(x-1, y-1) - 2*p.at(x, y-1) - p.at(x+1, y-1) +
				p.at(x-1, y+1) + 2*p.at(x, y+1) + p.at(x+1, y+1)
			out.pix[y*p.w+x] = float32(math.Sqrt(float64(gx*gx + gy*gy)))
		}
	}
	return out
}

// morphGradient is 3x3 dilation minus 3x3 erosion
func morphGradient(p *plane) *plane {
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			lo, hi := p.at(x, y), p.at(x, y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := p.at(x+dx, y+dy)
					lo = min(lo, v)
					hi = max(hi, v)
				}
			}
			out.pix[y*p.w+x] = hi - lo
		}
	}
	return out
}

// bilateral smooths p while keeping edges. It reports false if any weight
// normaliser degenerates, in which case the result must not be used.
func bilateral(p *plane, radius int, sigmaS, sigmaR float64) (*plane, bool) {
	spatial := make([]float64, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatial[(dy+radius)*(2*radius+1)+dx+radius] = math.Exp(-d2 / (2 * sigmaS * sigmaS))
		}
	}
	rangeDen := 2 * sigmaR * sigmaR

	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			center := float64(p.pix[y*p.w+x])
			var acc, norm float64
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					v := float64(p.at(x+dx, y+dy))
					diff := v - center
					wgt := spatial[(dy+radius)*(2*radius+1)+dx+radius] * math.Exp(-diff*diff/rangeDen)
					acc += v * wgt
					norm += wgt
				}
			}
			if norm <= 0 || math.IsNaN(norm) {
				return p, false
			}
			out.pix[y*p.w+x] = float32(acc / norm)
		}
	}
	return out, true
}

// guidedFilter runs the self-guided filter of He et al. with window radius r
// and regulariser eps.
func guidedFilter(p *plane, r int, eps float64) *plane {
	sq := newPlane(p.w, p.h)
	for i, v := range p.pix {
		sq.pix[i] = v * v
	}

	mean := boxMean(p, r)
	corr := boxMean(sq, r)

	a := newPlane(p.w, p.h)
	b := newPlane(p.w, p.h)
	for i := range p.pix {
		m := float64(mean.pix[i])
		variance := float64(corr.pix[i]) - m*m
		if variance < 0 {
			variance = 0
		}
		ai := variance / (variance + eps)
		a.pix[i] = float32(ai)
		b.pix[i] = float32(m - ai*m)
	}

	meanA := boxMean(a, r)
	meanB := boxMean(b, r)

	out := newPlane(p.w, p.h)
	for i, v := range p.pix {
		out.pix[i] = meanA.pix[i]*v + meanB.pix[i]
	}
	return out
}

// clahe equalises local contrast on a tiles x tiles grid. Histogram bins are
// clipped at clip times the uniform bin height and the excess spread evenly;
// tile mappings are blended bilinearly between tile centres.
func clahe(p *plane, tiles int, clip float64) *plane {
	const bins = 256

	tx := min(tiles, p.w)
	ty := min(tiles, p.h)
	tileW := (p.w + tx - 1) / tx
	tileH := (p.h + ty - 1) / ty

	lut := make([][bins]float32, tx*ty)
	for j := 0; j < ty; j++ {
		for i := 0; i < tx; i++ {
			var hist [bins]float64
			x0, y0 := i*tileW, j*tileH
			x1, y1 := min(x0+tileW, p.w), min(y0+tileH, p.h)
			n := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[toByte(p.pix[y*p.w+x])]++
					n++
				}
			}
			if n == 0 {
				for k := range lut[j*tx+i] {
					lut[j*tx+i][k] = float32(k) / (bins - 1)
				}
				continue
			}

			limit := math.Max(clip*float64(n)/bins, 1)
			var excess float64
			for k := range hist {
				if hist[k] > limit {
					excess += hist[k] - limit
					hist[k] = limit
				}
			}
			share := excess / bins
			var cdf float64
			for k := range hist {
				cdf += hist[k] + share
				lut[j*tx+i][k] = float32(cdf / float64(n))
			}
		}
	}

	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		gy := (float64(y)+0.5)/float64(tileH) - 0.5
		j0 := int(math.Floor(gy))
		wy := float32(gy - float64(j0))
		j1 := min(max(j0+1, 0), ty-1)
		j0 = min(max(j0, 0), ty-1)
		for x := 0; x < p.w; x++ {
			gx := (float64(x)+0.5)/float64(tileW) - 0.5
			i0 := int(math.Floor(gx))
			wx := float32(gx - float64(i0))
			i1 := min(max(i0+1, 0), tx-1)
			i0 = min(max(i0, 0), tx-1)

			k := toByte(p.pix[y*p.w+x])
			top := lut[j0*tx+i0][k]*(1-wx) + lut[j0*tx+i1][k]*wx
			bot := lut[j1*tx+i0][k]*(1-wx) + lut[j1*tx+i1][k]*wx
			out.pix[y*p.w+x] = top*(1-wy) + bot*wy
		}
	}
	return out
}
