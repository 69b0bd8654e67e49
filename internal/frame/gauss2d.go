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
	"math"

	"github.com/corocal/corocal/internal/qsort"
	"gonum.org/v1/gonum/optimize"
)

const sigmaToFWHM = 2.3548200450309493 // 2*sqrt(2*ln 2)

// An elliptical gaussian fitted to a frame region
type Gaussian2D struct {
	Y, X         float32 // centroid position in frame coordinates
	FWHMY, FWHMX float32 // full widths at half maximum along each axis
	Amplitude    float32
	Offset       float32
}

// Ratio of the two full widths at half maximum, larger over smaller
func (g *Gaussian2D) Elongation() float32 {
	ratio := g.FWHMY / g.FWHMX
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio
}

// Fits an axis-aligned elliptical gaussian with constant background offset
// to the frame via Nelder-Mead, starting from the brightest pixel.
// Errors if the fit does not converge to a sane solution inside the frame.
func FitGaussian2D(data []float32, width int32) (g Gaussian2D, err error) {
	height := int32(len(data)) / width

	// initial guess: peak pixel over median background
	tmp := make([]float32, len(data))
	copy(tmp, data)
	bg := qsort.QSelectMedianFloat32(tmp)
	peakIdx, peakVal := 0, data[0]
	for i, v := range data {
		if v > peakVal {
			peakIdx, peakVal = i, v
		}
	}
	sigma0 := float64(width) / 8
	if sigma0 < 0.75 {
		sigma0 = 0.75
	}
	x0 := []float64{
		float64(peakVal - bg),
		float64(int32(peakIdx) / width),
		float64(int32(peakIdx) % width),
		sigma0,
		sigma0,
		float64(bg),
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			amp, cy, cx, sigY, sigX, off := p[0], p[1], p[2], p[3], p[4], p[5]
			if sigY <= 0 || sigX <= 0 {
				return math.MaxFloat64
			}
			sumSq := 0.0
			for y := int32(0); y < height; y++ {
				ey := (float64(y) - cy) / sigY
				for x := int32(0); x < width; x++ {
					ex := (float64(x) - cx) / sigX
					predict := amp*math.Exp(-0.5*(ey*ey+ex*ex)) + off
					diff := float64(data[y*width+x]) - predict
					sumSq += diff * diff
				}
			}
			return math.Sqrt(sumSq / float64(len(data)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return g, err
	}

	amp, cy, cx, sigY, sigX, off := result.X[0], result.X[1], result.X[2], result.X[3], result.X[4], result.X[5]
	if cy < 0 || cy >= float64(height) || cx < 0 || cx >= float64(width) {
		return g, fmt.Errorf("gaussian fit diverged: centroid (%.1f,%.1f) outside %dx%d region", cy, cx, width, height)
	}
	if amp <= 0 || sigY <= 0 || sigX <= 0 {
		return g, fmt.Errorf("gaussian fit degenerate: amp %.3g sigY %.3g sigX %.3g", amp, sigY, sigX)
	}
	return Gaussian2D{
		Y: float32(cy), X: float32(cx),
		FWHMY: float32(sigY * sigmaToFWHM), FWHMX: float32(sigX * sigmaToFWHM),
		Amplitude: float32(amp), Offset: float32(off),
	}, nil
}
