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

package stats

import (
	"errors"
	"math"

	"github.com/corocal/corocal/internal/qsort"
	"github.com/valyala/fastrand"
)

var ErrEmptySelection = errors.New("empty selection: no pixels left after masking")

// Basic summary statistics of a data array
type Basic struct {
	Min    float32
	Max    float32
	Mean   float32
	StdDev float32
}

// Calculates basic statistics in a single pass. Errors on empty input.
func CalcBasic(data []float32) (s Basic, err error) {
	if len(data) == 0 {
		return s, ErrEmptySelection
	}
	s.Min, s.Max = data[0], data[0]
	sum, sumSq := 0.0, 0.0
	for _, d := range data {
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
		sum += float64(d)
		sumSq += float64(d) * float64(d)
	}
	n := float64(len(data))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	s.Mean, s.StdDev = float32(mean), float32(math.Sqrt(variance))
	return s, nil
}

// Median of the data. Copies, then partially reorders the copy.
// Errors on empty input.
func Median(data []float32) (float32, error) {
	if len(data) == 0 {
		return 0, ErrEmptySelection
	}
	tmp := make([]float32, len(data))
	copy(tmp, data)
	return qsort.QSelectMedianFloat32(tmp), nil
}

// Median of the data under a mask. Errors if the mask selects nothing.
func MedianMasked(data []float32, mask []bool) (float32, error) {
	tmp := make([]float32, 0, len(data))
	for i, d := range data {
		if mask[i] {
			tmp = append(tmp, d)
		}
	}
	if len(tmp) == 0 {
		return 0, ErrEmptySelection
	}
	return qsort.QSelectMedianFloat32(tmp), nil
}

// Standard deviation of the data under a mask. Errors if the mask selects nothing.
func StdDevMasked(data []float32, mask []bool) (float32, error) {
	tmp := make([]float32, 0, len(data))
	for i, d := range data {
		if mask[i] {
			tmp = append(tmp, d)
		}
	}
	s, err := CalcBasic(tmp)
	return s.StdDev, err
}

// Median absolute deviation about the median, scaled to sigma for
// normally distributed data. Errors on empty input.
func MADSigma(data []float32) (float32, error) {
	med, err := Median(data)
	if err != nil {
		return 0, err
	}
	devs := make([]float32, len(data))
	for i, d := range data {
		devs[i] = float32(math.Abs(float64(d - med)))
	}
	return qsort.QSelectMedianFloat32(devs) * 1.4826, nil
}

// Iteratively recomputes mean and standard deviation, discarding
// samples further than sigma deviations from the mean each round.
func SigmaClippedMeanStdDev(data []float32, sigma float32, iters int) (mean, stdDev float32, err error) {
	tmp := make([]float32, len(data))
	copy(tmp, data)
	for it := 0; it < iters; it++ {
		s, e := CalcBasic(tmp)
		if e != nil {
			return 0, 0, e
		}
		mean, stdDev = s.Mean, s.StdDev
		kept := tmp[:0]
		for _, d := range tmp {
			if float32(math.Abs(float64(d-mean))) <= sigma*stdDev {
				kept = append(kept, d)
			}
		}
		if len(kept) == len(tmp) {
			break
		}
		tmp = kept
	}
	return mean, stdDev, nil
}

const fastMedianSamples = 16384

// Estimates the median of a large array from a random sample.
// Exact below the sampling threshold.
func FastApproxMedian(data []float32) (float32, error) {
	if len(data) == 0 {
		return 0, ErrEmptySelection
	}
	if len(data) <= fastMedianSamples {
		return Median(data)
	}
	rng := fastrand.RNG{}
	tmp := make([]float32, fastMedianSamples)
	for i := range tmp {
		tmp[i] = data[rng.Uint32n(uint32(len(data)))]
	}
	return qsort.QSelectMedianFloat32(tmp), nil
}
