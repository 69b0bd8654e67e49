// Copyright (C) 2026 The corocal authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package frame

import (
	"fmt"
)

// Translates the frame by (dy, dx) with bilinear interpolation, returning
// a new frame. Samples falling outside the source frame become zero.
func ShiftBilinear(data []float32, width int32, dy, dx float32) []float32 {
	height := int32(len(data)) / width
	res := make([]float32, len(data))
	for y := int32(0); y < height; y++ {
		srcY := float32(y) - dy
		y0 := int32(srcY)
		if srcY < 0 {
			y0--
		}
		fy := srcY - float32(y0)
		for x := int32(0); x < width; x++ {
			srcX := float32(x) - dx
			x0 := int32(srcX)
			if srcX < 0 {
				x0--
			}
			fx := srcX - float32(x0)

			if y0 < 0 || x0 < 0 || y0+1 >= height || x0+1 >= width {
				continue
			}
			v00 := data[y0*width+x0]
			v01 := data[y0*width+x0+1]
			v10 := data[(y0+1)*width+x0]
			v11 := data[(y0+1)*width+x0+1]
			res[y*width+x] = v00*(1-fy)*(1-fx) + v01*(1-fy)*fx + v10*fy*(1-fx) + v11*fy*fx
		}
	}
	return res
}

// Finds the translation (dy, dx) that best maps frame b onto frame a,
// by exhaustive cross-correlation over +-window pixels followed by
// quadratic sub-pixel refinement of the correlation peak.
// Frames must share dimensions.
func RegisterTranslation(a, b []float32, width int32, window int32) (dy, dx float32, err error) {
	if len(a) != len(b) {
		return 0, 0, fmt.Errorf("frame size mismatch: %d vs %d", len(a), len(b))
	}
	height := int32(len(a)) / width

	best, bestOy, bestOx := float32(0), int32(0), int32(0)
	scores := make(map[[2]int32]float32, (2*window+1)*(2*window+1))
	for oy := -window; oy <= window; oy++ {
		for ox := -window; ox <= window; ox++ {
			scores[[2]int32{oy, ox}] = correlate(a, b, width, height, oy, ox)
		}
	}
	first := true
	for off, s := range scores {
		if first || s > best {
			best, bestOy, bestOx = s, off[0], off[1]
			first = false
		}
	}

	dy, dx = float32(bestOy), float32(bestOx)
	if bestOy > -window && bestOy < window {
		dy += parabolicPeak(scores[[2]int32{bestOy - 1, bestOx}], best, scores[[2]int32{bestOy + 1, bestOx}])
	}
	if bestOx > -window && bestOx < window {
		dx += parabolicPeak(scores[[2]int32{bestOy, bestOx - 1}], best, scores[[2]int32{bestOy, bestOx + 1}])
	}
	return dy, dx, nil
}

// Mean product of overlapping samples when b is offset by (oy, ox) against a
func correlate(a, b []float32, width, height, oy, ox int32) float32 {
	sum, count := float64(0), 0
	y0, y1 := int32(0), height
	if oy > 0 {
		y1 -= oy
	} else {
		y0 -= oy
	}
	x0, x1 := int32(0), width
	if ox > 0 {
		x1 -= ox
	} else {
		x0 -= ox
	}
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sum += float64(a[(y+oy)*width+x+ox]) * float64(b[y*width+x])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float32(sum / float64(count))
}

// Sub-pixel offset of a parabola through three equally spaced samples
func parabolicPeak(sm, s0, sp float32) float32 {
	denom := sm - 2*s0 + sp
	if denom == 0 {
		return 0
	}
	d := 0.5 * (sm - sp) / denom
	if d > 1 {
		d = 1
	}
	if d < -1 {
		d = -1
	}
	return d
}
