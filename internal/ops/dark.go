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
	"github.com/corocal/corocal/internal/qsort"
	"github.com/corocal/corocal/internal/stats"
	"gonum.org/v1/gonum/optimize"
)

// Subtracts dark current from science, sky, flat and unsaturated cubes.
// In median mode the pooled median dark frame is subtracted directly. In
// pca mode each cube is projected against the pooled dark library over an
// evaluation mask, with a scalar offset searched per cube to absorb bias
// level drifts between dark and target exposures.
type OpDark struct {
	Mode            string  // "median" or "pca"
	NComp           int     // principal components for pca mode
	BandHalf        int32   // half height of the readout band used for residual evaluation
	InnerArcsec     float64 // inner annulus radius around the mask centre, arcsec
	OuterShadowFrac float32 // outer annulus radius as fraction of the shadow radius
	MaxIter         int     // offset search iteration cap
	Tolerance       float64 // offset search convergence tolerance
}

func NewOpDark(mode string) *OpDark {
	return &OpDark{
		Mode:            mode,
		NComp:           1,
		BandHalf:        23,
		InnerArcsec:     3.0,
		OuterShadowFrac: 0.8,
		MaxIter:         100,
		Tolerance:       2e-4,
	}
}

func (op *OpDark) Name() string { return "dark" }

func (op *OpDark) Apply(c Context) (Context, error) {
	// pooled dark library over science and flat darks, cropped like the data
	lib := [][]float32{}
	id := 0
	for _, name := range append(append([]string{}, c.Man.Files.DarkSci...), c.Man.Files.DarkFlat...) {
		cube, err := loadCropped(&c, c.Man.Resolve(name), id, c.ComSz)
		if err != nil {
			return c, fmt.Errorf("dark: %w", err)
		}
		for f := int32(0); f < cube.Frames(); f++ {
			lib = append(lib, cube.Frame(f))
		}
		id++
	}
	if len(lib) == 0 {
		return c, fmt.Errorf("dark: no science or flat dark exposures listed")
	}
	medianDark := medianOfFrames(lib)
	fmt.Fprintf(c.Log, "dark: pooled %d dark frames, mode %s\n", len(lib), op.Mode)

	inner := float32(op.InnerArcsec / c.Man.Instrument.PixelScale)
	outer := op.OuterShadowFrac * c.ShadowR
	maskData := frame.AnnulusMask(c.ComSz, c.ComSz, c.MaskY, c.MaskX, inner, outer)
	frame.ExcludeLowerLeft(maskData, c.ComSz, c.ShadowY, c.ShadowX)
	maskFlat := frame.FullMask(c.ComSz, c.ComSz)
	frame.ExcludeLowerLeft(maskFlat, c.ComSz, c.ShadowY, c.ShadowX)

	evalData := frame.BandMask(c.ComSz, c.ComSz, c.ShadowY-op.BandHalf, c.ShadowY+op.BandHalf+1)
	frame.AndMask(evalData, maskData)
	evalFlat := frame.BandMask(c.ComSz, c.ComSz, c.ShadowY-op.BandHalf, c.ShadowY+op.BandHalf+1)

	if err := op.process(&c, c.Man.Files.Sci, lib, medianDark, maskData, evalData); err != nil {
		return c, fmt.Errorf("dark: sci: %w", err)
	}
	if err := op.process(&c, c.Man.Files.Sky, lib, medianDark, maskData, evalData); err != nil {
		return c, fmt.Errorf("dark: sky: %w", err)
	}
	if err := op.process(&c, c.Man.Files.Flat, lib, medianDark, maskFlat, evalFlat); err != nil {
		return c, fmt.Errorf("dark: flat: %w", err)
	}
	if err := op.processUnsat(&c); err != nil {
		return c, fmt.Errorf("dark: unsat: %w", err)
	}
	return c, nil
}

// Dark-subtracts one category of cubes and stores the results
func (op *OpDark) process(c *Context, names []string, lib [][]float32, medianDark []float32, mask, evalMask []bool) error {
	if len(names) == 0 {
		return nil
	}
	var basis *frame.PCABasis
	var libLevel float32
	if op.Mode == "pca" {
		var err error
		basis, err = frame.NewPCABasis(lib, mask, op.NComp)
		if err != nil {
			return err
		}
		if libLevel, err = stats.MedianMasked(medianDark, mask); err != nil {
			return err
		}
		if frame.CountMask(evalMask) == 0 {
			return fmt.Errorf("empty selection: evaluation mask excludes every pixel")
		}
	}

	return c.ForEach(len(names), c.ThreadsFor(0), func(i int) error {
		cube, err := loadCropped(c, c.Man.Resolve(names[i]), i, c.ComSz)
		if err != nil {
			return err
		}
		if op.Mode == "median" {
			for f := int32(0); f < cube.Frames(); f++ {
				data := cube.Frame(f)
				for p, d := range data {
					data[p] = d - medianDark[p]
				}
			}
		} else {
			offset, err := op.searchOffset(cube, basis, libLevel, mask, evalMask)
			if err != nil {
				return fmt.Errorf("%s: %w", names[i], err)
			}
			fmt.Fprintf(c.Log, "%d: dark offset %.3f for %s\n", i, offset, names[i])
			tmp := make([]float32, c.ComSz*c.ComSz)
			for f := int32(0); f < cube.Frames(); f++ {
				data := cube.Frame(f)
				for p, d := range data {
					tmp[p] = d + offset
				}
				res := basis.Subtract(tmp)
				for p := range data {
					data[p] = res[p] - offset
				}
			}
		}
		return c.Store.Write("dark", names[i], cube)
	})
}

// Finds the scalar offset that minimizes the residual scatter of the
// PCA-subtracted cube median inside the evaluation mask
func (op *OpDark) searchOffset(cube *fits.Cube, basis *frame.PCABasis, libLevel float32, mask, evalMask []bool) (float32, error) {
	cubeMed := cube.MedianFrame()
	cubeLevel, err := stats.MedianMasked(cubeMed, mask)
	if err != nil {
		return 0, err
	}
	diff := libLevel - cubeLevel

	target := make([]float32, len(cubeMed))
	objective := func(x []float64) float64 {
		offset := diff + float32(x[0])
		for p, d := range cubeMed {
			target[p] = d + offset
		}
		res := basis.Subtract(target)
		for p := range res {
			res[p] -= offset
		}
		sigma, err := stats.StdDevMasked(res, evalMask)
		if err != nil {
			return math.MaxFloat64
		}
		return float64(sigma)
	}
	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: op.MaxIter,
		Converger:       &optimize.FunctionConverge{Absolute: op.Tolerance, Iterations: 20},
	}
	result, err := optimize.Minimize(problem, []float64{0}, settings, &optimize.NelderMead{})
	if err != nil {
		return 0, err
	}
	return diff + float32(result.X[0]), nil
}

// Unsaturated cubes always get a plain median dark subtraction, using the
// unsat darks matched to their shorter exposure
func (op *OpDark) processUnsat(c *Context) error {
	if len(c.Man.Files.Unsat) == 0 {
		return nil
	}
	lib := [][]float32{}
	for i, name := range c.Man.Files.DarkUnsat {
		cube, err := loadCropped(c, c.Man.Resolve(name), i, c.ComSz)
		if err != nil {
			return err
		}
		for f := int32(0); f < cube.Frames(); f++ {
			lib = append(lib, cube.Frame(f))
		}
	}
	if len(lib) == 0 {
		return fmt.Errorf("unsat cubes listed but no unsat darks")
	}
	medianDark := medianOfFrames(lib)

	return c.ForEach(len(c.Man.Files.Unsat), c.ThreadsFor(0), func(i int) error {
		cube, err := loadCropped(c, c.Man.Resolve(c.Man.Files.Unsat[i]), i, c.ComSz)
		if err != nil {
			return err
		}
		for f := int32(0); f < cube.Frames(); f++ {
			data := cube.Frame(f)
			for p, d := range data {
				data[p] = d - medianDark[p]
			}
		}
		return c.Store.Write("dark", c.Man.Files.Unsat[i], cube)
	})
}

// Reads a cube and crops it to the working size about the raw frame centre
func loadCropped(c *Context, path string, id int, size int32) (*fits.Cube, error) {
	cube, err := fits.NewCubeFromFile(path, id, c.Log)
	if err != nil {
		return nil, err
	}
	return cube.CropSquare(cube.Height()>>1, cube.Width()>>1, size)
}

// Per-pixel median across a set of equally sized frames
func medianOfFrames(frames [][]float32) []float32 {
	res := make([]float32, len(frames[0]))
	tmp := make([]float32, len(frames))
	for p := range res {
		for f, fr := range frames {
			tmp[f] = fr[p]
		}
		res[p] = qsort.QSelectMedianFloat32(tmp)
	}
	return res
}
