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

package frame

import (
	"sort"

	"github.com/corocal/corocal/internal/stats"
)

// A compact source detection in a high-pass filtered frame
type Blob struct {
	Y, X int32   // peak pixel position
	Peak float32 // peak pixel value
	SNR  float32 // peak over local background scatter
}

// Detects point-like sources in a high-pass filtered frame. A detection is
// a local maximum within a fwhm radius whose peak exceeds snrThresh times
// the background scatter in a surrounding annulus. Results are sorted by
// descending SNR.
func DetectBlobs(data []float32, width int32, fwhm float32, snrThresh float32) []Blob {
	height := int32(len(data)) / width
	radius := int32(fwhm + 0.5)
	if radius < 1 {
		radius = 1
	}

	blobs := []Blob{}
	for y := radius; y < height-radius; y++ {
		for x := radius; x < width-radius; x++ {
			v := data[y*width+x]
			if v <= 0 || !isLocalMax(data, width, height, y, x, radius) {
				continue
			}
			snr, ok := peakSNR(data, width, height, y, x, fwhm)
			if !ok || snr < snrThresh {
				continue
			}
			blobs = append(blobs, Blob{Y: y, X: x, Peak: v, SNR: snr})
		}
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].SNR > blobs[j].SNR })
	return blobs
}

func isLocalMax(data []float32, width, height, y, x, radius int32) bool {
	v := data[y*width+x]
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dy == 0 && dx == 0 || dy*dy+dx*dx > r2 {
				continue
			}
			if data[(y+dy)*width+x+dx] > v {
				return false
			}
		}
	}
	return true
}

// SNR of the peak against the robust scatter of an annulus 2..4 fwhm out
func peakSNR(data []float32, width, height, y, x int32, fwhm float32) (float32, bool) {
	rIn, rOut := 2*fwhm, 4*fwhm
	rIn2, rOut2 := rIn*rIn, rOut*rOut
	ring := make([]float32, 0, int(rOut2*4))
	lim := int32(rOut + 1)
	for dy := -lim; dy <= lim; dy++ {
		yy := y + dy
		if yy < 0 || yy >= height {
			continue
		}
		for dx := -lim; dx <= lim; dx++ {
			xx := x + dx
			if xx < 0 || xx >= width {
				continue
			}
			d2 := float32(dy*dy + dx*dx)
			if d2 < rIn2 || d2 >= rOut2 {
				continue
			}
			ring = append(ring, data[yy*width+xx])
		}
	}
	sigma, err := stats.MADSigma(ring)
	if err != nil || sigma <= 0 {
		return 0, false
	}
	med, _ := stats.Median(ring)
	return (data[y*width+x] - med) / sigma, true
}
