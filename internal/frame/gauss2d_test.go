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

func TestFitGaussian2D(t *testing.T) {
	width := int32(21)
	cy, cx := 9.5, 11.2
	sigY, sigX := 2.0, 2.4
	data := make([]float32, width*width)
	for y := int32(0); y < width; y++ {
		for x := int32(0); x < width; x++ {
			ey := (float64(y) - cy) / sigY
			ex := (float64(x) - cx) / sigX
			data[y*width+x] = float32(50*math.Exp(-0.5*(ey*ey+ex*ex)) + 5)
		}
	}

	fit, err := FitGaussian2D(data, width)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if math.Abs(float64(fit.Y)-cy) > 0.2 || math.Abs(float64(fit.X)-cx) > 0.2 {
		t.Errorf("centroid got (%.2f,%.2f) expect (%.1f,%.1f)", fit.Y, fit.X, cy, cx)
	}
	expectY, expectX := sigY*sigmaToFWHM, sigX*sigmaToFWHM
	if math.Abs(float64(fit.FWHMY)-expectY) > 0.15*expectY {
		t.Errorf("FWHM y got %.2f expect %.2f", fit.FWHMY, expectY)
	}
	if math.Abs(float64(fit.FWHMX)-expectX) > 0.15*expectX {
		t.Errorf("FWHM x got %.2f expect %.2f", fit.FWHMX, expectX)
	}
	if e := fit.Elongation(); e < 1 {
		t.Errorf("elongation got %f, must be at least 1", e)
	}
}

func TestElongation(t *testing.T) {
	g := Gaussian2D{FWHMY: 2, FWHMX: 4}
	if got := g.Elongation(); got != 2 {
		t.Errorf("got %f expect 2", got)
	}
	g = Gaussian2D{FWHMY: 4, FWHMX: 2}
	if got := g.Elongation(); got != 2 {
		t.Errorf("got %f expect 2", got)
	}
}
