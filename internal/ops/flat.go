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
	"fmt"
	"sort"

	"github.com/corocal/corocal/internal/fits"
	"github.com/corocal/corocal/internal/stats"
)

// Builds a master gain map from dark-subtracted flats and divides it out
// of the science, sky and unsaturated cubes. Flats taken at different sky
// brightness are clustered by airmass (or by median level when airmass
// headers are missing), a normalized gain is computed per cluster, and
// the master gain is the per-pixel median over cluster gains.
type OpFlat struct {
	Groups     int     // expected number of illumination clusters
	AirmassTol float64 // clustering tolerance on airmass
	LevelTol   float32 // clustering tolerance on median level, ADU
	GainGuard  float32 // gain values below this are reset to one
}

func NewOpFlat(groups int) *OpFlat {
	return &OpFlat{Groups: groups, AirmassTol: 0.1, LevelTol: 50, GainGuard: 0.01}
}

func (op *OpFlat) Name() string { return "flat" }

func (op *OpFlat) Apply(c Context) (Context, error) {
	if len(c.Man.Files.Flat) == 0 {
		return c, fmt.Errorf("flat: no flat field exposures listed")
	}

	// load dark-subtracted flats and the clustering value for each
	cubes := make([]*fits.Cube, len(c.Man.Files.Flat))
	values := make([]float64, len(cubes))
	byAirmass := true
	for i, name := range c.Man.Files.Flat {
		cube, err := c.Store.Read("dark", name, i, c.Log)
		if err != nil {
			return c, fmt.Errorf("flat: %w", err)
		}
		cubes[i] = cube
		if cube.Airmass == 0 {
			byAirmass = false
		}
		values[i] = float64(cube.Airmass)
	}
	tol := op.AirmassTol
	if !byAirmass {
		tol = float64(op.LevelTol)
		for i, cube := range cubes {
			// full detector frames, a sampled median is plenty for a
			// 50 ADU clustering tolerance
			level, err := stats.FastApproxMedian(cube.MedianFrame())
			if err != nil {
				return c, fmt.Errorf("flat: %w", err)
			}
			values[i] = float64(level)
		}
		fmt.Fprintf(c.Log, "flat: no airmass headers, clustering %d flats by median level\n", len(cubes))
	}

	clusters := clusterByTolerance(values, tol)
	if len(clusters) != op.Groups {
		fmt.Fprintf(c.Log, "flat: warning: found %d illumination clusters, expected %d\n", len(clusters), op.Groups)
	}

	// per-cluster normalized gain, then per-pixel median across clusters
	gains := make([][]float32, 0, len(clusters))
	for _, cluster := range clusters {
		frames := [][]float32{}
		for _, idx := range cluster {
			for f := int32(0); f < cubes[idx].Frames(); f++ {
				frames = append(frames, cubes[idx].Frame(f))
			}
		}
		gain := medianOfFrames(frames)
		level, err := stats.Median(gain)
		if err != nil {
			return c, fmt.Errorf("flat: %w", err)
		}
		for p, g := range gain {
			gain[p] = g / level
		}
		gains = append(gains, gain)
	}
	master := medianOfFrames(gains)
	guarded := 0
	for p, g := range master {
		if g < op.GainGuard {
			master[p] = 1
			guarded++
		}
	}
	if guarded > 0 {
		fmt.Fprintf(c.Log, "flat: reset %d non-positive gain pixels to unity\n", guarded)
	}
	masterCube := fits.NewCubeFromNaxisn([]int32{c.ComSz, c.ComSz, 1}, master)
	if err := c.Store.Write("flat", "master_gain", masterCube); err != nil {
		return c, fmt.Errorf("flat: %w", err)
	}
	fmt.Fprintf(c.Log, "flat: master gain from %d clusters of %d flats\n", len(clusters), len(cubes))

	divide := func(names []string) error {
		return c.ForEach(len(names), c.ThreadsFor(0), func(i int) error {
			cube, err := c.Store.Read("dark", names[i], i, c.Log)
			if err != nil {
				return err
			}
			for f := int32(0); f < cube.Frames(); f++ {
				data := cube.Frame(f)
				for p, d := range data {
					data[p] = d / master[p]
				}
			}
			return c.Store.Write("flat", names[i], cube)
		})
	}
	if err := divide(c.Man.Files.Sci); err != nil {
		return c, fmt.Errorf("flat: sci: %w", err)
	}
	if err := divide(c.Man.Files.Sky); err != nil {
		return c, fmt.Errorf("flat: sky: %w", err)
	}
	if err := divide(c.Man.Files.Unsat); err != nil {
		return c, fmt.Errorf("flat: unsat: %w", err)
	}
	return c, nil
}

// Groups indices of values into clusters whose members lie within tol of
// the cluster seed, scanning in sorted order. Returns at least one cluster
// for non-empty input.
func clusterByTolerance(values []float64, tol float64) [][]int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	clusters := [][]int{}
	for _, idx := range order {
		n := len(clusters)
		if n > 0 && values[idx]-values[clusters[n-1][0]] <= tol {
			clusters[n-1] = append(clusters[n-1], idx)
		} else {
			clusters = append(clusters, []int{idx})
		}
	}
	return clusters
}
