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
	"testing"
)

func TestRepairClumps(t *testing.T) {
	width := int32(9)
	data := make([]float32, width*width)
	bad := make([]bool, width*width)
	for i := range data {
		data[i] = 5
	}
	// a 2x2 clump of dead pixels
	for _, idx := range []int32{4*width + 4, 4*width + 5, 5*width + 4, 5*width + 5} {
		data[idx] = 999
		bad[idx] = true
	}
	RepairClumps(data, width, bad)
	for i, v := range data {
		if v != 5 {
			t.Errorf("pixel %d got %f expect 5", i, v)
		}
	}
}

func TestRepairIsolated(t *testing.T) {
	width := int32(15)
	data := make([]float32, width*width)
	for y := int32(0); y < width; y++ {
		for x := int32(0); x < width; x++ {
			// checkerboard texture so the local scatter is nonzero
			data[y*width+x] = 1 + 0.1*float32((y+x)&1)
		}
	}
	hot := 2*width + 12
	data[hot] = 100

	changed := RepairIsolated(data, width, 8, 5, 5, 3)
	if !changed[hot] {
		t.Errorf("hot pixel not repaired")
	}
	if data[hot] > 2 {
		t.Errorf("hot pixel got %f, expect a local median", data[hot])
	}
	n := 0
	for _, ch := range changed {
		if ch {
			n++
		}
	}
	if n != 1 {
		t.Errorf("repaired %d pixels expect 1", n)
	}
}

func TestRepairIsolatedProtectsCentre(t *testing.T) {
	width := int32(15)
	data := make([]float32, width*width)
	for y := int32(0); y < width; y++ {
		for x := int32(0); x < width; x++ {
			data[y*width+x] = 1 + 0.1*float32((y+x)&1)
		}
	}
	centre := 7*width + 7
	data[centre] = 100

	changed := RepairIsolated(data, width, 8, 5, 5, 3)
	if changed[centre] || data[centre] != 100 {
		t.Errorf("protected centre pixel was repaired to %f", data[centre])
	}
}
