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
	"testing"
)

func TestMedianFilterRemovesSpike(t *testing.T) {
	data := make([]float32, 25)
	for i := range data {
		data[i] = 1
	}
	data[2*5+2] = 100
	got := MedianFilter(data, 5, 3)
	for i, v := range got {
		if v != 1 {
			t.Errorf("pixel %d got %f expect 1", i, v)
		}
	}
}

func TestGaussFilterPreservesConstant(t *testing.T) {
	data := make([]float32, 49)
	for i := range data {
		data[i] = 3
	}
	got := GaussFilter(data, 7, 2)
	for i, v := range got {
		if math.Abs(float64(v-3)) > 1e-5 {
			t.Errorf("pixel %d got %f expect 3", i, v)
		}
	}
}

func TestHighPassConstantIsZero(t *testing.T) {
	data := make([]float32, 49)
	for i := range data {
		data[i] = 7
	}
	got := HighPass(data, 7, 3)
	for i, v := range got {
		if v != 0 {
			t.Errorf("pixel %d got %f expect 0", i, v)
		}
	}
}

func TestFilteredArgmax(t *testing.T) {
	width := int32(11)
	data := make([]float32, width*width)
	for y := int32(0); y < width; y++ {
		for x := int32(0); x < width; x++ {
			dy, dx := float64(y-3), float64(x-7)
			data[y*width+x] = float32(10 * math.Exp(-0.5*(dy*dy+dx*dx)/2))
		}
	}
	y, x := FilteredArgmax(data, width, 1, 2)
	if y != 3 || x != 7 {
		t.Errorf("got (%d,%d) expect (3,7)", y, x)
	}
}
