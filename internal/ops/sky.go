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
	"sort"

	"github.com/corocal/corocal/internal/fits"
	"github.com/corocal/corocal/internal/frame"
	"github.com/corocal/corocal/internal/stats"
)

// Removes the thermal sky background from the science cubes. Median mode
// subtracts the median frame of the sky cube nearest in time. PCA mode
// projects each science frame onto a basis built from the pooled sky
// frames, with the rank chosen by minimizing the residual scatter around
// the high-confidence dust specks on a few probe cubes.
type OpSky struct {
	Mode            string
	RankGrid        []int   // candidate ranks for the basis search
	InnerArcsec     float64 // inner radius of the background annulus, arcsec
	OuterShadowFrac float32 // outer radius as fraction of the shadow radius
	ApertureFWHM    float32 // speck residual measured in discs of this many FWHM
}

func NewOpSky(mode string) *OpSky {
	return &OpSky{
		Mode:            mode,
		RankGrid:        []int{1, 2, 3, 4, 5, 10, 20, 40, 60},
		InnerArcsec:     3.0,
		OuterShadowFrac: 0.8,
		ApertureFWHM:    3,
	}
}

func (op *OpSky) Name() string { return "sky" }

func (op *OpSky) Apply(c Context) (Context, error) {
	if len(c.Man.Files.Sky) == 0 {
		return c, fmt.Errorf("sky: no sky cubes listed")
	}

	// per-sky-cube median frames with timestamps, plus the pooled library
	skyMeds := make([][]float32, len(c.Man.Files.Sky))
	skyMJDs := make([]float64, len(c.Man.Files.Sky))
	library := [][]float32{}
	for i, name := range c.Man.Files.Sky {
		cube, err := c.Store.Read("cent", name, i, c.Log)
		if err != nil {
			return c, fmt.Errorf("sky: %w", err)
		}
		skyMeds[i] = cube.MedianFrame()
		skyMJDs[i] = cube.MJD
		for f := int32(0); f < cube.Frames(); f++ {
			library = append(library, cube.Frame(f))
		}
	}

	if op.Mode == "median" {
		return c, c.ForEach(len(c.Man.Files.Sci), c.ThreadsFor(0), func(i int) error {
			cube, err := c.Store.Read("cent", c.Man.Files.Sci[i], i, c.Log)
			if err != nil {
				fmt.Fprintf(c.Log, "%d: sky: warning: skipping unreadable %s: %s\n", i, c.Man.Files.Sci[i], err.Error())
				return nil
			}
			med := skyMeds[nearestSky(skyMJDs, cube.MJD)]
			for f := int32(0); f < cube.Frames(); f++ {
				data := cube.Frame(f)
				for p, d := range data {
					data[p] = d - med[p]
				}
			}
			return c.Store.Write("sky", c.Man.Files.Sci[i], cube)
		})
	}

	inner := float32(op.InnerArcsec / c.Man.Instrument.PixelScale)
	outer := op.OuterShadowFrac * c.ShadowR
	if limit := float32(c.FinalSz>>1 - 1); outer > limit {
		outer = limit
	}
	mask := frame.AnnulusMask(c.FinalSz, c.FinalSz, c.FinalSz>>1, c.FinalSz>>1, inner, outer)
	if frame.CountMask(mask) == 0 {
		return c, fmt.Errorf("sky: empty selection: background annulus excludes every pixel")
	}

	refs := op.loadRefSpecks(&c)
	ranks := []int{}
	for _, r := range op.RankGrid {
		if r < len(library) {
			ranks = append(ranks, r)
		}
	}
	if len(ranks) == 0 {
		ranks = []int{1}
	}

	ncomp, err := op.searchRank(&c, library, skyMeds, skyMJDs, mask, refs, ranks)
	if err != nil {
		return c, fmt.Errorf("sky: %w", err)
	}
	fmt.Fprintf(c.Log, "sky: subtracting with rank %d basis over %d pooled sky frames\n", ncomp, len(library))

	return c, c.ForEach(len(c.Man.Files.Sci), c.ThreadsFor(0), func(i int) error {
		cube, err := c.Store.Read("cent", c.Man.Files.Sci[i], i, c.Log)
		if err != nil {
			fmt.Fprintf(c.Log, "%d: sky: warning: skipping unreadable %s: %s\n", i, c.Man.Files.Sci[i], err.Error())
			return nil
		}
		if err := op.subtractPCA(cube, library, skyMeds, skyMJDs, mask, ncomp); err != nil {
			return fmt.Errorf("%s: %w", c.Man.Files.Sci[i], err)
		}
		return c.Store.Write("sky", c.Man.Files.Sci[i], cube)
	})
}

// Subtracts the rank-ncomp sky projection from every frame of the cube,
// working relative to the nearest-in-time sky median
func (op *OpSky) subtractPCA(cube *fits.Cube, library, skyMeds [][]float32, skyMJDs []float64, mask []bool, ncomp int) error {
	med := skyMeds[nearestSky(skyMJDs, cube.MJD)]
	shifted := make([][]float32, len(library))
	for i, lf := range library {
		s := make([]float32, len(lf))
		for p, v := range lf {
			s[p] = v - med[p]
		}
		shifted[i] = s
	}
	basis, err := frame.NewPCABasis(shifted, mask, ncomp)
	if err != nil {
		return err
	}
	for f := int32(0); f < cube.Frames(); f++ {
		data := cube.Frame(f)
		for p := range data {
			data[p] -= med[p]
		}
		copy(data, basis.Subtract(data))
	}
	return nil
}

// Evaluates the candidate ranks on the first, middle and last science
// cubes and returns the median of the per-cube optima
func (op *OpSky) searchRank(c *Context, library, skyMeds [][]float32, skyMJDs []float64, mask []bool, refs [][2]float32, ranks []int) (int, error) {
	n := len(c.Man.Files.Sci)
	probeSet := map[int]bool{0: true, n / 2: true, n - 1: true}
	probes := []int{}
	for idx := range probeSet {
		probes = append(probes, idx)
	}
	sort.Ints(probes)

	optima := []float32{}
	for _, idx := range probes {
		cube, err := c.Store.Read("cent", c.Man.Files.Sci[idx], idx, c.Log)
		if err != nil {
			fmt.Fprintf(c.Log, "%d: sky: warning: skipping unreadable probe %s: %s\n", idx, c.Man.Files.Sci[idx], err.Error())
			continue
		}
		bestRank, bestScore := 0, float32(math.MaxFloat32)
		for _, rank := range ranks {
			probe := cube.SliceFrames(0, cube.Frames())
			if err := op.subtractPCA(probe, library, skyMeds, skyMJDs, mask, rank); err != nil {
				return 0, err
			}
			score, err := op.residualScore(probe.MedianFrame(), c.FinalSz, c.FWHM, mask, refs)
			if err != nil {
				return 0, err
			}
			fmt.Fprintf(c.Log, "%d: sky: rank %d residual score %.4g\n", idx, rank, score)
			if score < bestScore {
				bestRank, bestScore = rank, score
			}
		}
		optima = append(optima, float32(bestRank))
	}
	if len(optima) == 0 {
		return 0, fmt.Errorf("no readable probe cubes for the rank search")
	}
	best, err := stats.Median(optima)
	if err != nil {
		return 0, err
	}
	return int(best + 0.5), nil
}

// Mean residual scatter over the worst half of the reference specks, or
// over the background annulus when no references are available
func (op *OpSky) residualScore(med []float32, width int32, fwhm float32, mask []bool, refs [][2]float32) (float32, error) {
	if len(refs) == 0 {
		return stats.StdDevMasked(med, mask)
	}
	sigmas := []float32{}
	r := op.ApertureFWHM * fwhm
	for _, ref := range refs {
		disc := frame.CircleMask(width, int32(len(med))/width, int32(ref[0]+0.5), int32(ref[1]+0.5), r)
		sigma, err := stats.StdDevMasked(med, disc)
		if err != nil {
			continue
		}
		sigmas = append(sigmas, sigma)
	}
	if len(sigmas) == 0 {
		return stats.StdDevMasked(med, mask)
	}
	sort.Slice(sigmas, func(a, b int) bool { return sigmas[a] > sigmas[b] })
	upper := sigmas[:(len(sigmas)+1)/2]
	sum := float32(0)
	for _, s := range upper {
		sum += s
	}
	return sum / float32(len(upper)), nil
}

// Reference speck centroids persisted by the tracking stage
func (op *OpSky) loadRefSpecks(c *Context) [][2]float32 {
	vec, err := c.Store.Read("speck", "refs", -4, c.Log)
	if err != nil {
		fmt.Fprintf(c.Log, "sky: note: no reference specks on record, scoring over the background annulus\n")
		return nil
	}
	refs := make([][2]float32, 0, len(vec.Data)/2)
	for i := 0; i+1 < len(vec.Data); i += 2 {
		refs = append(refs, [2]float32{vec.Data[i], vec.Data[i+1]})
	}
	return refs
}

// Index of the sky cube closest in time
func nearestSky(skyMJDs []float64, mjd float64) int {
	best := 0
	for i, t := range skyMJDs {
		if math.Abs(t-mjd) < math.Abs(skyMJDs[best]-mjd) {
			best = i
		}
	}
	return best
}
