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

package ops

import (
	"testing"
)

func TestOddSize(t *testing.T) {
	cases := []struct{ in, expect int32 }{
		{0, 3}, {2, 3}, {3, 3}, {4, 5}, {9, 9}, {10, 11},
	}
	for _, tc := range cases {
		if got := oddSize(tc.in); got != tc.expect {
			t.Errorf("oddSize(%d) got %d expect %d", tc.in, got, tc.expect)
		}
	}
}

func TestApertureFlux(t *testing.T) {
	width := int32(7)
	data := make([]float32, width*width)
	for i := range data {
		data[i] = 1
	}
	data[3*width+3] = 10

	// r=1.5 covers the centre, the 4 direct and the 4 diagonal neighbours
	if got := apertureFlux(data, width, 3, 3, 1.5); got != 18 {
		t.Errorf("got %f expect 18", got)
	}
	// an aperture at the corner is clipped to the frame
	if got := apertureFlux(data, width, 0, 0, 1.0); got != 3 {
		t.Errorf("clipped corner flux got %f expect 3", got)
	}
}

func TestMedianOfFrames(t *testing.T) {
	frames := [][]float32{
		{1, 10, 2},
		{3, 20, 2},
		{2, 30, 8},
	}
	got := medianOfFrames(frames)
	for i, expect := range []float32{2, 20, 2} {
		if got[i] != expect {
			t.Errorf("pixel %d got %f expect %f", i, got[i], expect)
		}
	}
}
