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

// Replaces every pixel flagged in badMask with the median of the good
// pixels in a growing square neighbourhood. Handles contiguous clumps of
// bad pixels by widening the window until good pixels appear.
// Operates in place; replacement values are taken from the original frame.
func RepairClumps(data []float32, width int32, badMask []bool) {
	height := int32(len(data)) / width
	orig := make([]float32, len(data))
	copy(orig, data)
	good := make([]float32, 0, 128)

	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			if !badMask[y*width+x] {
				continue
			}
			for half := int32(1); half < width; half++ {
				good = good[:0]
				y0, y1 := y-half, y+half
				if y0 < 0 {
					y0 = 0
				}
				if y1 >= height {
					y1 = height - 1
				}
				x0, x1 := x-half, x+half
				if x0 < 0 {
					x0 = 0
				}
				if x1 >= width {
					x1 = width - 1
				}
				for yy := y0; yy <= y1; yy++ {
					for xx := x0; xx <= x1; xx++ {
						if !badMask[yy*width+xx] {
							good = append(good, orig[yy*width+xx])
						}
					}
				}
				if len(good) > 0 {
					data[y*width+x] = qsort.QSelectMedianFloat32(good)
					break
				}
			}
		}
	}
}

// Replaces isolated outlier pixels that deviate more than sigma robust
// standard deviations from the median of their k x k neighbourhood.
// A pixel is only repaired if at least minNeighbours good pixels exist in
// the window, and pixels within protectRadius of the frame centre are
// left untouched. Operates in place and returns the mask of changed pixels.
func RepairIsolated(data []float32, width int32, sigma float32, minNeighbours int, k int32, protectRadius float32) []bool {
	height := int32(len(data)) / width
	cy, cx := height>>1, width>>1
	half := k >> 1
	protect2 := protectRadius * protectRadius

	orig := make([]float32, len(data))
	copy(orig, data)
	changed := make([]bool, len(data))
	window := make([]float32, 0, k*k)
	devs := make([]float32, 0, k*k)

	for y := int32(0); y < height; y++ {
		dy := float32(y - cy)
		for x := int32(0); x < width; x++ {
			dx := float32(x - cx)
			if dy*dy+dx*dx < protect2 {
				continue
			}
			y0, y1 := y-half, y+half
			if y0 < 0 {
				y0 = 0
			}
			if y1 >= height {
				y1 = height - 1
			}
			x0, x1 := x-half, x+half
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= width {
				x1 = width - 1
			}
			window = window[:0]
			for yy := y0; yy <= y1; yy++ {
				for xx := x0; xx <= x1; xx++ {
					if yy == y && xx == x {
						continue
					}
					window = append(window, orig[yy*width+xx])
				}
			}
			if len(window) < minNeighbours {
				continue
			}
			med := qsort.QSelectMedianFloat32(window)
			devs = devs[:0]
			for _, w := range window {
				devs = append(devs, float32(math.Abs(float64(w-med))))
			}
			scatter := qsort.QSelectMedianFloat32(devs) * 1.4826
			if scatter <= 0 {
				continue
			}
			if float32(math.Abs(float64(orig[y*width+x]-med))) > sigma*scatter {
				data[y*width+x] = med
				changed[y*width+x] = true
			}
		}
	}
	return changed
}
