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

func TestConsensusShiftIgnoresCorruptAnchor(t *testing.T) {
	// four agreeing anchors and one wildly wrong fit
	dys := []float32{0.10, 0.12, 9, 0.11, 0.13}
	dxs := []float32{-0.20, -0.22, -9, -0.18, -0.21}

	dy, dx := consensusShift(dys, dxs)
	if dy != 0.12 {
		t.Errorf("dy got %f expect 0.12", dy)
	}
	if dx != -0.21 {
		t.Errorf("dx got %f expect -0.21", dx)
	}
	if dys[2] != 9 || dxs[0] != -0.20 {
		t.Errorf("consensus reordered its inputs")
	}
}

func TestConsensusShiftSingleAnchor(t *testing.T) {
	dy, dx := consensusShift([]float32{0.5}, []float32{-0.25})
	if dy != 0.5 || dx != -0.25 {
		t.Errorf("got (%f,%f) expect (0.5,-0.25)", dy, dx)
	}
}
