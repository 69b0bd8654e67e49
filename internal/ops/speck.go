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
)

// Dust specks on the detector window are fixed landmarks. This stage
// detects them on the median of the first science cube, refits their
// position on every frame, and shifts each frame by the anchor consensus
// so the whole dataset shares one registration.
type OpSpeck struct {
	AnchorSNR     float32 // detection threshold for alignment anchors
	RefSNR        float32 // threshold for the high-confidence reference set
	CentreExcl    float32 // exclusion radius around the centre, in FWHM
	MaxElongation float32 // circularity bound on the gaussian fit
}

func NewOpSpeck() *OpSpeck {
	return &OpSpeck{AnchorSNR: 10, RefSNR: 30, CentreExcl: 3, MaxElongation: 1.2}
}

func (op *OpSpeck) Name() string { return "speck" }

// A speck with its fitted reference centroid
type speck struct {
	y, x float32
	snr  float32
}

// Consensus displacement over the anchors. The median keeps a single
// bad fit from dragging the whole frame. Inputs are left untouched.
func consensusShift(dys, dxs []float32) (float32, float32) {
	dy := qsort.QSelectMedianFloat32(append([]float32(nil), dys...))
	dx := qsort.QSelectMedianFloat32(append([]float32(nil), dxs...))
	return dy, dx
}

func (op *OpSpeck) Apply(c Context) (Context, error) {
	first, err := c.Store.Read("stab", c.Man.Files.Sci[0], 0, c.Log)
	if err != nil {
		return c, fmt.Errorf("speck: %w", err)
	}
	med := first.MedianFrame()
	hp := frame.HighPass(med, c.FinalSz, oddSize(int32(2*c.FWHM)))

	blobs := frame.DetectBlobs(hp, c.FinalSz, c.FWHM, op.AnchorSNR)
	cy, cx := c.FinalSz>>1, c.FinalSz>>1
	fitSz := oddSize(int32(3 * c.Resel))

	anchors, refs := []speck{}, []speck{}
	for _, b := range blobs {
		dy, dx := float32(b.Y-cy), float32(b.X-cx)
		if float32(math.Sqrt(float64(dy*dy+dx*dx))) <= op.CentreExcl*c.FWHM {
			continue
		}
		sub, err := fits.CropFrameSquare(med, c.FinalSz, b.Y, b.X, fitSz)
		if err != nil {
			continue
		}
		fit, err := frame.FitGaussian2D(sub, fitSz)
		if err != nil || fit.Elongation() > op.MaxElongation {
			continue
		}
		s := speck{
			y:   float32(b.Y-fitSz>>1) + fit.Y,
			x:   float32(b.X-fitSz>>1) + fit.X,
			snr: b.SNR,
		}
		if b.SNR >= op.RefSNR {
			refs = append(refs, s)
		}
		// the unstable lower-left quadrant yields no reliable anchors
		if !(b.Y < cy && b.X < cx) {
			anchors = append(anchors, s)
		}
	}
	if len(anchors) == 0 {
		return c, fmt.Errorf("speck: no circular specks above SNR %.0f outside the central %.0f FWHM", op.AnchorSNR, op.CentreExcl)
	}
	fmt.Fprintf(c.Log, "speck: %d alignment anchors, %d high-SNR references\n", len(anchors), len(refs))

	refVec := make([]float32, 0, 2*len(refs))
	for _, s := range refs {
		refVec = append(refVec, s.y, s.x)
	}
	if err := c.Store.WriteVector("speck", "refs", refVec); err != nil {
		fmt.Fprintf(c.Log, "speck: warning: %s\n", err.Error())
	}

	names := append(append([]string{}, c.Man.Files.Sci...), c.Man.Files.Sky...)
	if err := c.ForEach(len(names), c.ThreadsFor(0), func(i int) error {
		cube, err := c.Store.Read("stab", names[i], i, c.Log)
		if err != nil {
			return err
		}
		shifts := make([]float32, 0, 2*cube.Frames())
		fallbacks := 0
		dys := make([]float32, len(anchors))
		dxs := make([]float32, len(anchors))
		for f := int32(0); f < cube.Frames(); f++ {
			data := cube.Frame(f)
			for a, anchor := range anchors {
				ry, rx := int32(anchor.y+0.5), int32(anchor.x+0.5)
				fitted := false
				if sub, err := fits.CropFrameSquare(data, c.FinalSz, ry, rx, fitSz); err == nil {
					if fit, err := frame.FitGaussian2D(sub, fitSz); err == nil && fit.Elongation() <= op.MaxElongation {
						dys[a] = anchor.y - (float32(ry-fitSz>>1) + fit.Y)
						dxs[a] = anchor.x - (float32(rx-fitSz>>1) + fit.X)
						fitted = true
					}
				}
				if !fitted {
					// keep the anchor neutral rather than dropping the frame
					dys[a], dxs[a] = 0, 0
					fallbacks++
				}
			}
			dy, dx := consensusShift(dys, dxs)
			copy(data, frame.ShiftBilinear(data, c.FinalSz, dy, dx))
			shifts = append(shifts, dy, dx)
		}
		if fallbacks > 0 {
			fmt.Fprintf(c.Log, "%d: speck: %d anchor fits fell back to the reference centroid in %s\n", i, fallbacks, names[i])
		}
		if err := c.Store.WriteVector("cent", names[i]+"_shifts", shifts); err != nil {
			return err
		}
		return c.Store.Write("cent", names[i], cube)
	}); err != nil {
		return c, fmt.Errorf("speck: %w", err)
	}
	return c, nil
}
