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

func TestFirstStableIndex(t *testing.T) {
	cases := []struct {
		good   []bool
		limit  int32
		expect int32
	}{
		{[]bool{false, false, true, true}, 10, 2},
		{[]bool{false, true, false, true}, 10, 1},
		{[]bool{false, false, false, false}, 10, 10},
		{[]bool{false, false, false, true}, 2, 2},
	}
	for i, tc := range cases {
		if got := firstStableIndex(tc.good, tc.limit); got != tc.expect {
			t.Errorf("case %d: got %d expect %d", i, got, tc.expect)
		}
	}
}

func TestStableIndices(t *testing.T) {
	op := NewOpStabilize()

	// three cubes whose first two frames read systematically low
	fluxes := make([][]float32, 3)
	for i := range fluxes {
		fluxes[i] = make([]float32, 20)
		for f := range fluxes[i] {
			fluxes[i][f] = 100 + float32(f&1)
		}
		fluxes[i][0], fluxes[i][1] = 50, 52
	}
	good, err := op.stableIndices(fluxes, 20)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if good[0] {
		t.Errorf("frame index 0 flagged stable, it never is")
	}
	if good[1] {
		t.Errorf("unsettled frame index 1 flagged stable")
	}
	for f := 2; f < 20; f++ {
		if !good[f] {
			t.Errorf("settled frame index %d flagged unstable", f)
		}
	}
	if got := op.TrimPolicy(good, 10); got != 2 {
		t.Errorf("trim got %d expect 2", got)
	}
}

func TestStableIndicesSingleFrameErrors(t *testing.T) {
	op := NewOpStabilize()
	if _, err := op.stableIndices([][]float32{{5}}, 1); err == nil {
		t.Errorf("expect error when no frame index can be stable")
	}
}
