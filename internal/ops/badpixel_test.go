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

	"github.com/corocal/corocal/internal/manifest"
)

func TestFinalSize(t *testing.T) {
	op := NewOpBadPixel("")

	// bounded by the mask centre's distance to the nearest frame edge
	c := Context{ComSz: 101, MaskY: 40, MaskX: 60, ShadowR: 45, Man: &manifest.Manifest{}}
	if got := op.finalSize(&c); got != 81 {
		t.Errorf("got %d expect 81", got)
	}

	// bounded by the shadow diameter, forced odd
	c.ShadowR = 30
	if got := op.finalSize(&c); got != 59 {
		t.Errorf("got %d expect 59", got)
	}

	// bounded by the configured cap
	c.ShadowR = 45
	c.Man.Options.CropCap = 51
	if got := op.finalSize(&c); got != 51 {
		t.Errorf("got %d expect 51", got)
	}
}

func TestSporadicColumnMasks(t *testing.T) {
	cols, clean := sporadicColumnMasks(9, 9, "topright", 2, 3)
	nCols, nClean := 0, 0
	for p := range cols {
		if cols[p] {
			nCols++
		}
		if clean[p] {
			nClean++
		}
		if cols[p] && clean[p] {
			t.Fatalf("pixel %d flagged both bad and clean", p)
		}
	}
	// one comb column at x=6 over the top half, comparison pixels beside it
	if nCols != 5 || nClean != 10 {
		t.Errorf("topright got %d column and %d clean pixels expect 5 and 10", nCols, nClean)
	}
	if !cols[6*9+6] || cols[2*9+6] {
		t.Errorf("column mask not confined to the top half")
	}

	cols, _ = sporadicColumnMasks(9, 9, "bottomright", 2, 3)
	nCols = 0
	for _, b := range cols {
		if b {
			nCols++
		}
	}
	if nCols != 4 {
		t.Errorf("bottomright got %d column pixels expect 4", nCols)
	}
}

func TestColumnsDegraded(t *testing.T) {
	op := NewOpBadPixel("topright")
	cols, clean := sporadicColumnMasks(8, 8, "topright", 2, 4)
	med := make([]float32, 8*8)
	alt := float32(9.5)
	for p, keep := range clean {
		if keep {
			med[p] = alt
			alt = 20 - alt
		}
	}
	for p, bad := range cols {
		if bad {
			med[p] = 8
		}
	}
	got, err := op.columnsDegraded(med, cols, clean)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !got {
		t.Errorf("depressed columns not flagged as degraded")
	}

	for p, bad := range cols {
		if bad {
			med[p] = 9.8
		}
	}
	got, err = op.columnsDegraded(med, cols, clean)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got {
		t.Errorf("healthy columns flagged as degraded")
	}
}
