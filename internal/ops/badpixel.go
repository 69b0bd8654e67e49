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
	"sync"

	"github.com/corocal/corocal/internal/fits"
	"github.com/corocal/corocal/internal/frame"
	"github.com/corocal/corocal/internal/stats"
)

// Repairs detector defects in two passes and applies the final crop about
// the mask centre. Pass one replaces the static defects read off the gain
// map, clump-aware. Pass two sigma-clips isolated outliers frame by frame,
// protecting the area around the mask where the stellar signal lives.
type OpBadPixel struct {
	GainCentre float32 // gain value of a nominal pixel
	GainTol    float32 // deviation beyond which a pixel is statically bad
	Sigma      float32 // outlier threshold for the adaptive pass
	Neighbours int     // good neighbours needed to repair a pixel
	KernelSize int32   // adaptive pass window size
	ProtectR   float32 // protected radius around the frame centre, pixels

	// The detector intermittently loses sensitivity on a comb of columns
	// in one quadrant. When a quadrant is named, cubes whose median shows
	// the comb depressed below the surrounding pixels get those columns
	// repaired along with the static defects.
	ColumnQuadrant string  // "topright", "bottomright" or blank for off
	ColumnOffset   int32   // first affected column right of the frame centre
	ColumnInterval int32   // spacing between affected columns
	ColumnSigma    float32 // clipping sigma for the comparison statistics
}

func NewOpBadPixel(columnQuadrant string) *OpBadPixel {
	return &OpBadPixel{
		GainCentre:     1.09,
		GainTol:        0.41,
		Sigma:          8,
		Neighbours:     5,
		KernelSize:     5,
		ProtectR:       10,
		ColumnQuadrant: columnQuadrant,
		ColumnOffset:   7,
		ColumnInterval: 8,
		ColumnSigma:    2.5,
	}
}

func (op *OpBadPixel) Name() string { return "badpixel" }

func (op *OpBadPixel) Apply(c Context) (Context, error) {
	gainCube, err := c.Store.Read("flat", "master_gain", -2, c.Log)
	if err != nil {
		return c, fmt.Errorf("badpixel: %w", err)
	}
	gain := gainCube.Data

	staticMask := make([]bool, len(gain))
	count := 0
	for p, g := range gain {
		if float32(math.Abs(float64(g-op.GainCentre))) > op.GainTol {
			staticMask[p] = true
			count++
		}
	}
	fmt.Fprintf(c.Log, "badpixel: %d static bad pixels (%.2f%% of frame)\n",
		count, 100*float32(count)/float32(len(gain)))

	var colMask, cleanMask []bool
	if op.ColumnQuadrant != "" {
		colMask, cleanMask = sporadicColumnMasks(c.ComSz, c.ComSz, op.ColumnQuadrant, op.ColumnOffset, op.ColumnInterval)
	}

	// delta map accumulates adaptive repairs across all cubes
	delta := make([]bool, len(gain))
	deltaMutex := sync.Mutex{}

	repair := func(names []string, fixColumns bool) error {
		return c.ForEach(len(names), c.ThreadsFor(0), func(i int) error {
			cube, err := c.Store.Read("flat", names[i], i, c.Log)
			if err != nil {
				return err
			}
			badMask := staticMask
			if fixColumns && colMask != nil {
				degraded, err := op.columnsDegraded(cube.MedianFrame(), colMask, cleanMask)
				if err != nil {
					return err
				}
				if degraded {
					fmt.Fprintf(c.Log, "%d: badpixel: repairing sporadic bad columns in %s\n", i, names[i])
					badMask = make([]bool, len(staticMask))
					for p := range badMask {
						badMask[p] = staticMask[p] || colMask[p]
					}
				}
			}
			changedInCube := 0
			for f := int32(0); f < cube.Frames(); f++ {
				data := cube.Frame(f)
				frame.RepairClumps(data, c.ComSz, badMask)
				changed := frame.RepairIsolated(data, c.ComSz, op.Sigma, op.Neighbours, op.KernelSize, op.ProtectR)
				deltaMutex.Lock()
				for p, ch := range changed {
					if ch {
						delta[p] = true
						changedInCube++
					}
				}
				deltaMutex.Unlock()
			}
			fmt.Fprintf(c.Log, "%d: badpixel: repaired %d isolated outliers in %s\n", i, changedInCube, names[i])
			return c.Store.Write("bpix", names[i], cube)
		})
	}
	if err := repair(c.Man.Files.Sci, true); err != nil {
		return c, fmt.Errorf("badpixel: sci: %w", err)
	}
	if err := repair(c.Man.Files.Sky, true); err != nil {
		return c, fmt.Errorf("badpixel: sky: %w", err)
	}
	if err := repair(c.Man.Files.Unsat, false); err != nil {
		return c, fmt.Errorf("badpixel: unsat: %w", err)
	}

	// re-locate the mask centre on the repaired data before cropping
	first, err := c.Store.Read("bpix", c.Man.Files.Sci[0], 0, c.Log)
	if err != nil {
		return c, fmt.Errorf("badpixel: %w", err)
	}
	med := first.MedianFrame()
	if sub, err := fits.CropFrameSquare(med, c.ComSz, c.MaskY, c.MaskX, maskSearchSz); err == nil {
		y, x := frame.FilteredArgmax(sub, maskSearchSz, 7, 5)
		half := int32(maskSearchSz) >> 1
		c.MaskY, c.MaskX = c.MaskY-half+y, c.MaskX-half+x
		fmt.Fprintf(c.Log, "badpixel: refined mask centre (%d,%d)\n", c.MaskY, c.MaskX)
	}

	finalSz := op.finalSize(&c)
	fmt.Fprintf(c.Log, "badpixel: final frame size %d px about mask centre\n", finalSz)

	crop := func(names []string) error {
		return c.ForEach(len(names), c.ThreadsFor(0), func(i int) error {
			cube, err := c.Store.Read("bpix", names[i], i, c.Log)
			if err != nil {
				return err
			}
			cropped, err := cube.CropSquare(c.MaskY, c.MaskX, finalSz)
			if err != nil {
				return err
			}
			return c.Store.Write("crop", names[i], cropped)
		})
	}
	if err := crop(c.Man.Files.Sci); err != nil {
		return c, fmt.Errorf("badpixel: sci: %w", err)
	}
	if err := crop(c.Man.Files.Sky); err != nil {
		return c, fmt.Errorf("badpixel: sky: %w", err)
	}

	// crop both defect maps identically so later stages can reuse them
	maps := fits.NewCubeFromNaxisn([]int32{c.ComSz, c.ComSz, 2}, nil)
	for p := range staticMask {
		if staticMask[p] {
			maps.Frame(0)[p] = 1
		}
		if delta[p] {
			maps.Frame(1)[p] = 1
		}
	}
	croppedMaps, err := maps.CropSquare(c.MaskY, c.MaskX, finalSz)
	if err != nil {
		return c, fmt.Errorf("badpixel: %w", err)
	}
	if err := c.Store.Write("crop", "defect_maps", croppedMaps); err != nil {
		return c, fmt.Errorf("badpixel: %w", err)
	}

	c.FinalSz = finalSz
	c.ShadowY += finalSz>>1 - c.MaskY
	c.ShadowX += finalSz>>1 - c.MaskX
	c.MaskY, c.MaskX = finalSz>>1, finalSz>>1
	return c, nil
}

// Largest odd square about the mask centre that stays inside the working
// frame, bounded by the shadow diameter and the optional configured cap
func (op *OpBadPixel) finalSize(c *Context) int32 {
	half := c.MaskY
	for _, d := range []int32{c.MaskX, c.ComSz - 1 - c.MaskY, c.ComSz - 1 - c.MaskX} {
		if d < half {
			half = d
		}
	}
	size := 2*half + 1
	if diam := int32(2 * c.ShadowR); diam < size {
		size = diam
	}
	if limit := c.Man.Options.CropCap; limit > 0 && limit < size {
		size = limit
	}
	if size&1 == 0 {
		size--
	}
	return size
}

// Masks for the intermittent bad-column comb: every interval-th column
// right of the frame centre, restricted to the top or bottom half.
// Also returns the mask of clean comparison pixels in the same region.
func sporadicColumnMasks(width, height int32, quadrant string, offset, interval int32) (cols, clean []bool) {
	cols = make([]bool, width*height)
	clean = make([]bool, width*height)
	cy, cx := height>>1, width>>1
	y0, y1 := cy, height
	if quadrant == "bottomright" {
		y0, y1 = 0, cy
	}
	for x := cx + offset; x < width; x += interval {
		for y := y0; y < y1; y++ {
			cols[y*width+x] = true
		}
	}
	for y := y0; y < y1; y++ {
		for x := cx + offset; x < width; x++ {
			p := y*width + x
			clean[p] = !cols[p]
		}
	}
	return cols, clean
}

// True when the flagged columns sit more than one clean-pixel scatter
// below the rest of the quadrant on the cube median frame
func (op *OpBadPixel) columnsDegraded(med []float32, cols, clean []bool) (bool, error) {
	vals := make([]float32, 0, len(med))
	for p, keep := range clean {
		if keep {
			vals = append(vals, med[p])
		}
	}
	mean, stdDev, err := stats.SigmaClippedMeanStdDev(vals, op.ColumnSigma, 5)
	if err != nil {
		return false, err
	}
	colMed, err := stats.MedianMasked(med, cols)
	if err != nil {
		return false, err
	}
	return colMed < mean-stdDev, nil
}
