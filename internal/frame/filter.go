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
	"math"

	"github.com/corocal/corocal/internal/qsort"
)

// Applies a k x k median filter to the frame, returning a new frame.
// k must be odd. The window is clamped at the frame borders.
func MedianFilter(data []float32, width int32, k int32) []float32 {
	height := int32(len(data)) / width
	half := k >> 1
	res := make([]float32, len(data))
	window := make([]float32, 0, k*k)
	for y := int32(0); y < height; y++ {
		y0, y1 := y-half, y+half
		if y0 < 0 {
			y0 = 0
		}
		if y1 >= height {
			y1 = height - 1
		}
		for x := int32(0); x < width; x++ {
			x0, x1 := x-half, x+half
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= width {
				x1 = width - 1
			}
			window = window[:0]
			for yy := y0; yy <= y1; yy++ {
				window = append(window, data[yy*width+x0:yy*width+x1+1]...)
			}
			res[y*width+x] = qsort.QSelectMedianFloat32(window)
		}
	}
	return res
}

// Applies a separable gaussian low-pass filter of the given full width at
// half maximum to the frame, returning a new frame. Border samples are
// renormalized over the in-bounds part of the kernel.
func GaussFilter(data []float32, width int32, fwhm float32) []float32 {
	height := int32(len(data)) / width
	sigma := float64(fwhm) / 2.3548
	radius := int32(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float32, 2*radius+1)
	for i := -radius; i <= radius; i++ {
		kernel[i+radius] = float32(math.Exp(-0.5 * float64(i) * float64(i) / (sigma * sigma)))
	}

	// horizontal pass
	tmp := make([]float32, len(data))
	for y := int32(0); y < height; y++ {
		row := data[y*width : (y+1)*width]
		out := tmp[y*width : (y+1)*width]
		for x := int32(0); x < width; x++ {
			sum, wsum := float32(0), float32(0)
			for i := -radius; i <= radius; i++ {
				xx := x + i
				if xx < 0 || xx >= width {
					continue
				}
				w := kernel[i+radius]
				sum += w * row[xx]
				wsum += w
			}
			out[x] = sum / wsum
		}
	}

	// vertical pass
	res := make([]float32, len(data))
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			sum, wsum := float32(0), float32(0)
			for i := -radius; i <= radius; i++ {
				yy := y + i
				if yy < 0 || yy >= height {
					continue
				}
				w := kernel[i+radius]
				sum += w * tmp[yy*width+x]
				wsum += w
			}
			res[y*width+x] = sum / wsum
		}
	}
	return res
}

// High-pass filters the frame by subtracting a k x k median-filtered
// version, returning a new frame. k must be odd.
func HighPass(data []float32, width int32, k int32) []float32 {
	low := MedianFilter(data, width, k)
	for i, d := range data {
		low[i] = d - low[i]
	}
	return low
}

// Returns the position of the maximum after median and gaussian low-pass
// filtering, suppressing hot pixels and noise peaks.
func FilteredArgmax(data []float32, width int32, medianK int32, gaussFWHM float32) (y, x int32) {
	filtered := GaussFilter(MedianFilter(data, width, medianK), width, gaussFWHM)
	maxIdx, maxVal := int32(0), filtered[0]
	for i, v := range filtered {
		if v > maxVal {
			maxIdx, maxVal = int32(i), v
		}
	}
	return maxIdx / width, maxIdx % width
}
