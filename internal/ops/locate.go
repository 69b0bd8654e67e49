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

// Offset of the coronagraphic mask centre from the shadow centre, and the
// size of the search box around that guess. Detector geometry constants.
const (
	maskOffsetY  = 50
	maskOffsetX  = 6
	maskSearchSz = 101
)

// Locates the coronagraph shadow and the mask centre on the median of the
// first science cube, and fixes the odd working frame size.
type OpLocate struct {
	MedianK   int32   // median prefilter size
	GaussFWHM float32 // gaussian prefilter width
	Window    int32   // refinement window for shadow registration
}

func NewOpLocate() *OpLocate {
	return &OpLocate{MedianK: 7, GaussFWHM: 5, Window: 5}
}

func (op *OpLocate) Name() string { return "locate" }

func (op *OpLocate) Apply(c Context) (Context, error) {
	sci, err := fits.NewCubeFromFile(c.Man.Resolve(c.Man.Files.Sci[0]), 0, c.Log)
	if err != nil {
		return c, fmt.Errorf("locate: %w", err)
	}

	// odd working size, cropped about the raw frame centre
	comSz := sci.Width()
	if sci.Height() < comSz {
		comSz = sci.Height()
	}
	if comSz&1 == 0 {
		comSz--
	}
	cropped, err := sci.CropSquare(sci.Height()>>1, sci.Width()>>1, comSz)
	if err != nil {
		return c, fmt.Errorf("locate: %w", err)
	}
	med := cropped.MedianFrame()

	// subtract a sky estimate so the shadow interior goes negative
	if len(c.Man.Files.Sky) > 0 {
		sky, err := fits.NewCubeFromFile(c.Man.Resolve(c.Man.Files.Sky[0]), -1, c.Log)
		if err != nil {
			return c, fmt.Errorf("locate: %w", err)
		}
		skyCrop, err := sky.CropSquare(sky.Height()>>1, sky.Width()>>1, comSz)
		if err != nil {
			return c, fmt.Errorf("locate: %w", err)
		}
		skyMed := skyCrop.MedianFrame()
		for i := range med {
			med[i] -= skyMed[i]
		}
	} else {
		m, err := stats.Median(med)
		if err != nil {
			return c, fmt.Errorf("locate: %w", err)
		}
		for i := range med {
			med[i] -= m
		}
	}

	filtered := frame.GaussFilter(frame.MedianFilter(med, comSz, op.MedianK), comSz, op.GaussFWHM)

	shadowY, shadowX, shadowR, err := op.findShadow(filtered, comSz)
	if err != nil {
		return c, fmt.Errorf("locate: %w", err)
	}
	fmt.Fprintf(c.Log, "locate: shadow centre (%d,%d) radius %.1f px on %dx%d working frame\n",
		shadowY, shadowX, shadowR, comSz, comSz)

	// the mask glow peaks at a fixed offset from the shadow centre
	maskY, maskX, err := op.findMask(cropped.MedianFrame(), comSz, shadowY, shadowX)
	if err != nil {
		return c, fmt.Errorf("locate: %w", err)
	}
	fmt.Fprintf(c.Log, "locate: mask centre (%d,%d)\n", maskY, maskX)

	c.ComSz = comSz
	c.ShadowY, c.ShadowX, c.ShadowR = shadowY, shadowX, shadowR
	c.MaskY, c.MaskX = maskY, maskX
	if err := c.Store.WriteVector("ref", "geometry", []float32{
		float32(comSz), float32(shadowY), float32(shadowX), shadowR, float32(maskY), float32(maskX),
	}); err != nil {
		fmt.Fprintf(c.Log, "locate: warning: %s\n", err.Error())
	}
	return c, nil
}

// Finds the shadow as the negative region of the filtered frame: its area
// gives the radius, its centroid a first centre estimate, and registering
// a synthetic disc against the binary mask refines the centre.
func (op *OpLocate) findShadow(filtered []float32, width int32) (cy, cx int32, r float32, err error) {
	height := int32(len(filtered)) / width
	binary := make([]float32, len(filtered))
	area, sumY, sumX := 0, 0.0, 0.0
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			if filtered[y*width+x] < 0 {
				binary[y*width+x] = 1
				area++
				sumY += float64(y)
				sumX += float64(x)
			}
		}
	}
	if area == 0 {
		return 0, 0, 0, fmt.Errorf("no shadow found: filtered frame has no negative pixels")
	}
	r = float32(math.Sqrt(float64(area) / math.Pi))
	comY, comX := sumY/float64(area), sumX/float64(area)

	// synthesize a unit disc at the centroid and refine by registration
	synth := make([]float32, len(filtered))
	r2 := float64(r) * float64(r)
	for y := int32(0); y < height; y++ {
		dy := float64(y) - comY
		for x := int32(0); x < width; x++ {
			dx := float64(x) - comX
			if dy*dy+dx*dx < r2 {
				synth[y*width+x] = 1
			}
		}
	}
	dy, dx, err := frame.RegisterTranslation(binary, synth, width, op.Window)
	if err != nil {
		return 0, 0, 0, err
	}
	cy = int32(math.Round(comY + float64(dy)))
	cx = int32(math.Round(comX + float64(dx)))
	if cy < 0 || cy >= height || cx < 0 || cx >= width {
		return 0, 0, 0, fmt.Errorf("shadow centre (%d,%d) outside frame", cy, cx)
	}
	return cy, cx, r, nil
}

// Refines the mask centre as the filtered glow maximum in a search box
// at a fixed offset from the shadow centre
func (op *OpLocate) findMask(med []float32, width, shadowY, shadowX int32) (maskY, maskX int32, err error) {
	guessY, guessX := shadowY+maskOffsetY, shadowX+maskOffsetX
	sub, err := fits.CropFrameSquare(med, width, guessY, guessX, maskSearchSz)
	if err != nil {
		// fall back to a box at the shadow centre near frame edges
		guessY, guessX = shadowY, shadowX
		sub, err = fits.CropFrameSquare(med, width, guessY, guessX, maskSearchSz)
		if err != nil {
			return 0, 0, err
		}
	}
	y, x := frame.FilteredArgmax(sub, maskSearchSz, op.MedianK, op.GaussFWHM)
	half := int32(maskSearchSz) >> 1
	return guessY - half + y, guessX - half + x, nil
}
