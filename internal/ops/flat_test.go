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

func TestClusterByTolerance(t *testing.T) {
	values := []float64{1.5, 1.0, 2.0, 1.05, 1.52}
	clusters := clusterByTolerance(values, 0.1)
	if len(clusters) != 3 {
		t.Fatalf("got %d clusters expect 3", len(clusters))
	}
	// clusters come back in ascending value order, seeded by the smallest member
	if clusters[0][0] != 1 || clusters[0][1] != 3 {
		t.Errorf("first cluster got %v expect [1 3]", clusters[0])
	}
	if clusters[1][0] != 0 || clusters[1][1] != 4 {
		t.Errorf("second cluster got %v expect [0 4]", clusters[1])
	}
	if clusters[2][0] != 2 {
		t.Errorf("third cluster got %v expect [2]", clusters[2])
	}
}

func TestClusterByToleranceMeasuresFromSeed(t *testing.T) {
	// a drifting chain must split once it leaves the seed's tolerance,
	// even though each step stays within it
	clusters := clusterByTolerance([]float64{1.0, 1.08, 1.16}, 0.1)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters expect 2", len(clusters))
	}
	if len(clusters[0]) != 2 || len(clusters[1]) != 1 {
		t.Errorf("cluster sizes got %d and %d expect 2 and 1", len(clusters[0]), len(clusters[1]))
	}
}

func TestClusterByToleranceSingle(t *testing.T) {
	clusters := clusterByTolerance([]float64{42}, 0.1)
	if len(clusters) != 1 || len(clusters[0]) != 1 || clusters[0][0] != 0 {
		t.Errorf("got %v expect one cluster holding index 0", clusters)
	}
}
