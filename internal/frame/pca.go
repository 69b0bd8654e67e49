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

	"gonum.org/v1/gonum/mat"
)

// A principal component basis built from a library of frames, restricted
// to a pixel mask. Projection coefficients are computed on masked pixels
// only, while reconstruction covers the full frame through the library
// weights behind each component.
type PCABasis struct {
	maskIdx   []int32     // indices of masked pixels
	maskComps *mat.Dense  // ncomp x nmask, components over masked pixels
	fullComps [][]float32 // ncomp full-frame components
}

// Builds a principal component basis of rank ncomp from the library frames
// over the masked pixels. Errors if the mask selects nothing or ncomp
// exceeds the library size.
func NewPCABasis(library [][]float32, mask []bool, ncomp int) (*PCABasis, error) {
	n := len(library)
	if n == 0 {
		return nil, fmt.Errorf("empty frame library")
	}
	if ncomp < 1 || ncomp > n {
		return nil, fmt.Errorf("rank %d out of range for library of %d frames", ncomp, n)
	}
	maskIdx := make([]int32, 0, len(mask))
	for i, m := range mask {
		if m {
			maskIdx = append(maskIdx, int32(i))
		}
	}
	if len(maskIdx) == 0 {
		return nil, fmt.Errorf("empty selection: mask excludes every pixel")
	}

	// thin SVD of the n x m masked library matrix
	m := len(maskIdx)
	x := mat.NewDense(n, m, nil)
	for i, frame := range library {
		for j, idx := range maskIdx {
			x.Set(i, j, float64(frame[idx]))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, fmt.Errorf("SVD of %dx%d library matrix failed to converge", n, m)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sigma := svd.Values(nil)

	// masked-space components are rows of V^T; the matching full-frame
	// component is the same library combination applied to whole frames
	npix := len(library[0])
	maskComps := mat.NewDense(ncomp, m, nil)
	fullComps := make([][]float32, 0, ncomp)
	for k := 0; k < ncomp; k++ {
		if sigma[k] <= 1e-10*sigma[0] {
			break // rank exhausted
		}
		for j := 0; j < m; j++ {
			maskComps.Set(k, j, v.At(j, k))
		}
		full := make([]float32, npix)
		for i, frame := range library {
			w := float32(u.At(i, k) / sigma[k])
			if w == 0 {
				continue
			}
			for p, val := range frame {
				full[p] += w * val
			}
		}
		fullComps = append(fullComps, full)
	}
	if len(fullComps) == 0 {
		return nil, fmt.Errorf("library matrix has zero numerical rank")
	}
	return &PCABasis{maskIdx: maskIdx, maskComps: maskComps, fullComps: fullComps}, nil
}

// Number of usable components in the basis
func (b *PCABasis) Rank() int { return len(b.fullComps) }

// Subtracts the projection of the frame onto the basis, returning a new
// frame. Coefficients are fitted on masked pixels only.
func (b *PCABasis) Subtract(frame []float32) []float32 {
	res := make([]float32, len(frame))
	copy(res, frame)
	for k := 0; k < len(b.fullComps); k++ {
		coeff := 0.0
		for j, idx := range b.maskIdx {
			coeff += float64(frame[idx]) * b.maskComps.At(k, j)
		}
		c := float32(coeff)
		for p, v := range b.fullComps[k] {
			res[p] -= c * v
		}
	}
	return res
}

// Builds a rank-ncomp basis from the library over the mask and subtracts
// each target frame's projection. Convenience wrapper around NewPCABasis.
func SubtractPCA(targets, library [][]float32, mask []bool, ncomp int) ([][]float32, error) {
	basis, err := NewPCABasis(library, mask, ncomp)
	if err != nil {
		return nil, err
	}
	res := make([][]float32, len(targets))
	for i, t := range targets {
		res[i] = basis.Subtract(t)
	}
	return res, nil
}
