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

// Pixel selection masks over a width x height frame, length width*height

// Returns a mask selecting pixels within radius r of (cy, cx)
func CircleMask(width, height, cy, cx int32, r float32) []bool {
	mask := make([]bool, width*height)
	r2 := r * r
	for y := int32(0); y < height; y++ {
		dy := float32(y - cy)
		for x := int32(0); x < width; x++ {
			dx := float32(x - cx)
			mask[y*width+x] = dy*dy+dx*dx < r2
		}
	}
	return mask
}

// Returns a mask selecting pixels with distance from (cy, cx) in [rIn, rOut)
func AnnulusMask(width, height, cy, cx int32, rIn, rOut float32) []bool {
	mask := make([]bool, width*height)
	rIn2, rOut2 := rIn*rIn, rOut*rOut
	for y := int32(0); y < height; y++ {
		dy := float32(y - cy)
		for x := int32(0); x < width; x++ {
			dx := float32(x - cx)
			d2 := dy*dy + dx*dx
			mask[y*width+x] = d2 >= rIn2 && d2 < rOut2
		}
	}
	return mask
}

// Returns a mask selecting the horizontal band of rows [y0, y1)
func BandMask(width, height, y0, y1 int32) []bool {
	if y0 < 0 {
		y0 = 0
	}
	if y1 > height {
		y1 = height
	}
	mask := make([]bool, width*height)
	for y := y0; y < y1; y++ {
		for x := int32(0); x < width; x++ {
			mask[y*width+x] = true
		}
	}
	return mask
}

// Returns a mask selecting every pixel of the frame
func FullMask(width, height int32) []bool {
	mask := make([]bool, width*height)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

// Clears mask pixels in the lower-left quadrant, i.e. below and left of
// (cy, cx). Used to exclude a detector quadrant with unstable response.
func ExcludeLowerLeft(mask []bool, width, cy, cx int32) {
	height := int32(len(mask)) / width
	for y := int32(0); y < cy && y < height; y++ {
		for x := int32(0); x < cx && x < width; x++ {
			mask[y*width+x] = false
		}
	}
}

// Intersects mask a with b in place
func AndMask(a, b []bool) {
	for i := range a {
		a[i] = a[i] && b[i]
	}
}

// Number of selected pixels in the mask
func CountMask(mask []bool) (n int) {
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}

// Extracts the selected pixels of a frame into a compact slice
func ApplyMask(data []float32, mask []bool) []float32 {
	res := make([]float32, 0, len(data))
	for i, d := range data {
		if mask[i] {
			res = append(res, d)
		}
	}
	return res
}
