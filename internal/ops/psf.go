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

// Measures the stellar point spread function from the unsaturated, dithered
// exposures: rejects discrepant cubes by aperture flux, subtracts the sky
// using an exposure from a different dither position, recentres and
// median-combines all frames, and fits a gaussian for the FWHM.
type OpPsf struct {
	FluxSigma    float32 // cube rejection threshold on aperture flux
	DitherArcsec float64 // dither positions closer than this are the same group
	CropResels   float32 // PSF cutout size in resolution elements
}

func NewOpPsf() *OpPsf {
	return &OpPsf{FluxSigma: 3, DitherArcsec: 1.0, CropResels: 9}
}

func (op *OpPsf) Name() string { return "psf" }

func (op *OpPsf) Apply(c Context) (Context, error) {
	c.Resel = float32(c.Man.Instrument.Resel())

	if len(c.Man.Files.Unsat) == 0 {
		c.FWHM = float32(c.Man.Options.FWHM)
		fmt.Fprintf(c.Log, "psf: no unsat cubes, using configured FWHM %.2f px\n", c.FWHM)
		return c, nil
	}

	type unsatInfo struct {
		cube   *fits.Cube
		y, x   int32
		flux   float32
		group  int
		usable bool
	}
	infos := make([]unsatInfo, len(c.Man.Files.Unsat))
	for i, name := range c.Man.Files.Unsat {
		cube, err := c.Store.Read("bpix", name, i, c.Log)
		if err != nil {
			return c, fmt.Errorf("psf: %w", err)
		}
		med := cube.MedianFrame()
		y, x := frame.FilteredArgmax(med, c.ComSz, 7, 5)
		infos[i] = unsatInfo{
			cube: cube, y: y, x: x,
			flux: apertureFlux(med, c.ComSz, y, x, 3*c.Resel),
		}
	}

	// reject cubes whose stellar flux is off, e.g. clouds or open loop
	fluxes := make([]float32, len(infos))
	for i := range infos {
		fluxes[i] = infos[i].flux
	}
	medFlux, err := stats.Median(fluxes)
	if err != nil {
		return c, fmt.Errorf("psf: %w", err)
	}
	s, err := stats.CalcBasic(fluxes)
	if err != nil {
		return c, fmt.Errorf("psf: %w", err)
	}
	usable := 0
	for i := range infos {
		infos[i].usable = len(infos) < 3 ||
			float32(math.Abs(float64(infos[i].flux-medFlux))) <= op.FluxSigma*s.StdDev
		if infos[i].usable {
			usable++
		}
	}
	if usable == 0 {
		return c, fmt.Errorf("psf: all %d unsat cubes rejected by the flux filter", len(infos))
	}
	fmt.Fprintf(c.Log, "psf: %d of %d unsat cubes pass the flux filter\n", usable, len(infos))

	// assign dither groups by star position
	ditherPx := op.DitherArcsec / c.Man.Instrument.PixelScale
	group := 0
	for i := range infos {
		infos[i].group = -1
	}
	for i := range infos {
		if infos[i].group >= 0 {
			continue
		}
		infos[i].group = group
		for j := i + 1; j < len(infos); j++ {
			dy, dx := float64(infos[j].y-infos[i].y), float64(infos[j].x-infos[i].x)
			if math.Sqrt(dy*dy+dx*dx) < ditherPx {
				infos[j].group = infos[i].group
			}
		}
		group++
	}

	// sky-subtract each cube with the nearest-in-time other-dither cube,
	// then recentre every frame on its gaussian fit and pool them
	cropSz := oddSize(int32(op.CropResels * c.Resel))
	pooled := [][]float32{}
	failed := 0
	for i := range infos {
		if !infos[i].usable {
			continue
		}
		partner := -1
		for j := range infos {
			if infos[j].group == infos[i].group {
				continue
			}
			if partner < 0 || math.Abs(infos[j].cube.MJD-infos[i].cube.MJD) < math.Abs(infos[partner].cube.MJD-infos[i].cube.MJD) {
				partner = j
			}
		}
		var skyMed []float32
		if partner >= 0 {
			skyMed = infos[partner].cube.MedianFrame()
		} else {
			fmt.Fprintf(c.Log, "psf: warning: no other-dither partner for %s, skipping sky subtraction\n",
				c.Man.Files.Unsat[i])
		}

		cube := infos[i].cube
		for f := int32(0); f < cube.Frames(); f++ {
			data := cube.Frame(f)
			if skyMed != nil {
				for p, d := range data {
					data[p] = d - skyMed[p]
				}
			}
			sub, err := fits.CropFrameSquare(data, c.ComSz, infos[i].y, infos[i].x, cropSz)
			if err != nil {
				failed++
				continue
			}
			fit, err := frame.FitGaussian2D(sub, cropSz)
			if err != nil {
				failed++
				continue
			}
			centre := float32(cropSz >> 1)
			pooled = append(pooled, frame.ShiftBilinear(sub, cropSz, centre-fit.Y, centre-fit.X))
		}
	}
	if len(pooled) == 0 {
		return c, fmt.Errorf("psf: no unsat frame yielded a usable stellar fit")
	}
	if failed > 0 {
		fmt.Fprintf(c.Log, "psf: warning: %d unsat frames dropped on fit failure\n", failed)
	}

	master := medianOfFrames(pooled)
	fit, err := frame.FitGaussian2D(master, cropSz)
	if err != nil {
		return c, fmt.Errorf("psf: fitting combined PSF: %w", err)
	}
	c.FWHM = 0.5 * (fit.FWHMY + fit.FWHMX)
	fmt.Fprintf(c.Log, "psf: stellar FWHM %.2f px (y %.2f, x %.2f) from %d frames, resel %.2f px\n",
		c.FWHM, fit.FWHMY, fit.FWHMX, len(pooled), c.Resel)

	// normalize to unit flux inside one FWHM
	norm := apertureFlux(master, cropSz, int32(fit.Y+0.5), int32(fit.X+0.5), c.FWHM)
	if norm != 0 {
		for p, v := range master {
			master[p] = v / norm
		}
	}
	psfCube := fits.NewCubeFromNaxisn([]int32{cropSz, cropSz, 1}, master)
	if err := c.Store.Write("psf", "master_psf", psfCube); err != nil {
		return c, fmt.Errorf("psf: %w", err)
	}
	return c, nil
}

// Sum of pixel values within radius r of (cy, cx)
func apertureFlux(data []float32, width, cy, cx int32, r float32) float32 {
	height := int32(len(data)) / width
	r2 := r * r
	sum := float32(0)
	lim := int32(r + 1)
	for dy := -lim; dy <= lim; dy++ {
		y := cy + dy
		if y < 0 || y >= height {
			continue
		}
		for dx := -lim; dx <= lim; dx++ {
			x := cx + dx
			if x < 0 || x >= width {
				continue
			}
			if float32(dy*dy+dx*dx) <= r2 {
				sum += data[y*width+x]
			}
		}
	}
	return sum
}

// Next odd size at or above n, minimum 3
func oddSize(n int32) int32 {
	if n < 3 {
		return 3
	}
	if n&1 == 0 {
		return n + 1
	}
	return n
}
