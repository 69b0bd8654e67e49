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

func TestPCASubtractsLibrarySpan(t *testing.T) {
	width := int32(8)
	n := int(width * width)
	flat := make([]float32, n)
	ramp := make([]float32, n)
	for i := 0; i < n; i++ {
		flat[i] = 1
		ramp[i] = float32(i % int(width))
	}
	target := make([]float32, n)
	for i := 0; i < n; i++ {
		target[i] = 2*flat[i] + 0.5*ramp[i]
	}

	res, err := SubtractPCA([][]float32{target}, [][]float32{flat, ramp}, FullMask(width, width), 2)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for i, v := range res[0] {
		if math.Abs(float64(v)) > 1e-3 {
			t.Errorf("residual pixel %d got %f expect 0", i, v)
		}
	}
}

func TestPCACoefficientsFitOnMaskOnly(t *testing.T) {
	width := int32(8)
	n := int(width * width)
	flat := make([]float32, n)
	for i := 0; i < n; i++ {
		flat[i] = 1
	}
	// mask out the left half; a signal there must survive subtraction
	mask := make([]bool, n)
	for y := int32(0); y < width; y++ {
		for x := width / 2; x < width; x++ {
			mask[y*width+x] = true
		}
	}
	target := make([]float32, n)
	for i := 0; i < n; i++ {
		target[i] = 3
	}
	target[2*width+1] += 10 // inside the masked-out region

	basis, err := NewPCABasis([][]float32{flat}, mask, 1)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	res := basis.Subtract(target)
	if math.Abs(float64(res[2*width+1]-10)) > 1e-3 {
		t.Errorf("signal outside the mask got %f expect 10", res[2*width+1])
	}
	if math.Abs(float64(res[5*width+6])) > 1e-3 {
		t.Errorf("background pixel got %f expect 0", res[5*width+6])
	}
}

func TestPCARankCollapsesOnDuplicates(t *testing.T) {
	width := int32(4)
	f := make([]float32, width*width)
	for i := range f {
		f[i] = float32(i + 1)
	}
	basis, err := NewPCABasis([][]float32{f, f}, FullMask(width, width), 2)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := basis.Rank(); got != 1 {
		t.Errorf("rank got %d expect 1", got)
	}
}

func TestPCAErrors(t *testing.T) {
	if _, err := NewPCABasis(nil, nil, 1); err == nil {
		t.Errorf("expect error on empty library")
	}
	f := make([]float32, 16)
	if _, err := NewPCABasis([][]float32{f}, make([]bool, 16), 1); err == nil {
		t.Errorf("expect error on empty mask")
	}
	if _, err := NewPCABasis([][]float32{f}, FullMask(4, 4), 2); err == nil {
		t.Errorf("expect error on rank above library size")
	}
}
