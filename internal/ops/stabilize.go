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
	"math"

	"github.com/corocal/corocal/internal/fits"
	"github.com/corocal/corocal/internal/frame"
	"github.com/corocal/corocal/internal/stats"
)

// Detector counts drift while the instrument settles at the start of each
// cube. This stage measures an annulus flux per frame, drops the unsettled
// leading frames consistently across science and sky cubes, and rescales
// the surviving frames to their cube's median flux.
type OpStabilize struct {
	InnerArcsec float64 // inner annulus radius, arcsec
	EdgeMargin  int32   // outer annulus stand-off from the frame edge
	SigmaThresh float32 // flux deviation marking a frame index unsettled
	// Picks the number of leading frames to drop from the per-index
	// stability flags. Overridable for instruments with different
	// settling behaviour.
	TrimPolicy func(good []bool, limit int32) int32
}

func NewOpStabilize() *OpStabilize {
	return &OpStabilize{
		InnerArcsec: 3.0,
		EdgeMargin:  2,
		SigmaThresh: 2,
		TrimPolicy:  firstStableIndex,
	}
}

// Default policy: drop everything before the first settled index, never
// more than the configured cap
func firstStableIndex(good []bool, limit int32) int32 {
	for f, g := range good {
		if g {
			if int32(f) > limit {
				return limit
			}
			return int32(f)
		}
	}
	return limit
}

func (op *OpStabilize) Name() string { return "stabilize" }

func (op *OpStabilize) Apply(c Context) (Context, error) {
	inner := float32(op.InnerArcsec / c.Man.Instrument.PixelScale)
	outer := float32(c.FinalSz>>1 - op.EdgeMargin)
	if inner >= outer {
		return c, fmt.Errorf("stabilize: annulus inner radius %.0f px exceeds outer %.0f px", inner, outer)
	}
	mask := frame.AnnulusMask(c.FinalSz, c.FinalSz, c.FinalSz>>1, c.FinalSz>>1, inner, outer)

	// per-cube, per-frame annulus fluxes
	cubes := make([]*fits.Cube, len(c.Man.Files.Sci))
	fluxes := make([][]float32, len(cubes))
	maxNdit := int32(0)
	for i, name := range c.Man.Files.Sci {
		cube, err := c.Store.Read("crop", name, i, c.Log)
		if err != nil {
			return c, fmt.Errorf("stabilize: %w", err)
		}
		cubes[i] = cube
		fluxes[i] = make([]float32, cube.Frames())
		for f := int32(0); f < cube.Frames(); f++ {
			flux, err := stats.MedianMasked(cube.Frame(f), mask)
			if err != nil {
				return c, fmt.Errorf("stabilize: %s frame %d: %w", name, f, err)
			}
			fluxes[i][f] = flux
		}
		if cube.Frames() > maxNdit {
			maxNdit = cube.Frames()
		}
		if err := c.Store.WriteVector("stab", name+"_flux", fluxes[i]); err != nil {
			fmt.Fprintf(c.Log, "stabilize: warning: %s\n", err.Error())
		}
	}

	trim := int32(0)
	if c.Man.Options.Fast {
		fmt.Fprintf(c.Log, "stabilize: fast mode, keeping all frames\n")
	} else {
		good, err := op.stableIndices(fluxes, maxNdit)
		if err != nil {
			return c, fmt.Errorf("stabilize: %w", err)
		}
		trim = op.TrimPolicy(good, c.Man.Options.TrimCap)
		fmt.Fprintf(c.Log, "stabilize: trimming %d leading frames per cube\n", trim)
	}

	// trim and rescale science cubes
	for i, cube := range cubes {
		if cube.Frames() <= trim {
			return c, fmt.Errorf("stabilize: %s has only %d frames, cannot trim %d", c.Man.Files.Sci[i], cube.Frames(), trim)
		}
		trimmed := cube.SliceFrames(trim, cube.Frames())
		if !c.Man.Options.Fast {
			ref, err := stats.Median(fluxes[i][trim:])
			if err != nil {
				return c, fmt.Errorf("stabilize: %w", err)
			}
			for f := int32(0); f < trimmed.Frames(); f++ {
				factor := ref / fluxes[i][trim+f]
				data := trimmed.Frame(f)
				for p, d := range data {
					data[p] = d * factor
				}
			}
		}
		if err := c.Store.Write("stab", c.Man.Files.Sci[i], trimmed); err != nil {
			return c, fmt.Errorf("stabilize: %w", err)
		}
	}
	c.TrimCount = trim
	c.NewNDit = cubes[0].Frames() - trim

	// sky cubes lose the same leading frames
	if err := c.ForEach(len(c.Man.Files.Sky), c.ThreadsFor(0), func(i int) error {
		cube, err := c.Store.Read("crop", c.Man.Files.Sky[i], i, c.Log)
		if err != nil {
			return err
		}
		if cube.Frames() <= trim {
			return fmt.Errorf("%s has only %d frames, cannot trim %d", c.Man.Files.Sky[i], cube.Frames(), trim)
		}
		return c.Store.Write("stab", c.Man.Files.Sky[i], cube.SliceFrames(trim, cube.Frames()))
	}); err != nil {
		return c, fmt.Errorf("stabilize: sky: %w", err)
	}

	// derotation angles drop the same columns
	if c.Man.Files.Derot != "" {
		angles, err := fits.NewCubeFromFile(c.Man.Resolve(c.Man.Files.Derot), -3, c.Log)
		if err != nil {
			return c, fmt.Errorf("stabilize: derot: %w", err)
		}
		w, h := angles.Width(), angles.Height()
		if w <= trim {
			return c, fmt.Errorf("stabilize: derot table has %d columns, cannot trim %d", w, trim)
		}
		out := fits.NewCubeFromNaxisn([]int32{w - trim, h}, nil)
		for y := int32(0); y < h; y++ {
			copy(out.Data[y*(w-trim):(y+1)*(w-trim)], angles.Data[y*w+trim:(y+1)*w])
		}
		if err := c.Store.Write("stab", "derot", out); err != nil {
			return c, fmt.Errorf("stabilize: derot: %w", err)
		}
	}
	return c, nil
}

// Flags which frame indices are settled, comparing the cross-cube median
// flux of each index against the scatter of the whole series. Index zero
// is always unsettled.
func (op *OpStabilize) stableIndices(fluxes [][]float32, maxNdit int32) ([]bool, error) {
	series := make([]float32, maxNdit)
	col := make([]float32, 0, len(fluxes))
	for f := int32(0); f < maxNdit; f++ {
		col = col[:0]
		for i := range fluxes {
			if f < int32(len(fluxes[i])) {
				col = append(col, fluxes[i][f])
			}
		}
		m, err := stats.Median(col)
		if err != nil {
			return nil, err
		}
		series[f] = m
	}
	med, err := stats.Median(series)
	if err != nil {
		return nil, err
	}
	sigma, err := stats.MADSigma(series)
	if err != nil {
		return nil, err
	}
	good := make([]bool, maxNdit)
	anyGood := false
	for f := int32(1); f < maxNdit; f++ {
		good[f] = sigma == 0 || float32(math.Abs(float64(series[f]-med))) <= op.SigmaThresh*sigma
		anyGood = anyGood || good[f]
	}
	if !anyGood {
		return nil, fmt.Errorf("every frame index fails the %.0f sigma flux stability test", op.SigmaThresh)
	}
	return good, nil
}
