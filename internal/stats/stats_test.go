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
	"math"
	"testing"
)

func TestCalcBasic(t *testing.T) {
	s, err := CalcBasic([]float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if s.Min != 1 || s.Max != 4 {
		t.Errorf("min/max got %f/%f expect 1/4", s.Min, s.Max)
	}
	if s.Mean != 2.5 {
		t.Errorf("mean got %f expect 2.5", s.Mean)
	}
	if expect := float32(math.Sqrt(1.25)); math.Abs(float64(s.StdDev-expect)) > 1e-6 {
		t.Errorf("stddev got %f expect %f", s.StdDev, expect)
	}
}

func TestCalcBasicEmpty(t *testing.T) {
	if _, err := CalcBasic(nil); err != ErrEmptySelection {
		t.Errorf("got %v expect ErrEmptySelection", err)
	}
}

func TestMedian(t *testing.T) {
	got, err := Median([]float32{5, 1, 3})
	if err != nil || got != 3 {
		t.Errorf("got %f, %v expect 3, nil", got, err)
	}
	got, err = Median([]float32{4, 1, 3, 2})
	if err != nil || got != 2.5 {
		t.Errorf("got %f, %v expect 2.5, nil", got, err)
	}
}

func TestMedianDoesNotReorderInput(t *testing.T) {
	data := []float32{9, 1, 5, 3, 7}
	if _, err := Median(data); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for i, expect := range []float32{9, 1, 5, 3, 7} {
		if data[i] != expect {
			t.Fatalf("input reordered at %d: got %f expect %f", i, data[i], expect)
		}
	}
}

func TestMedianMasked(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5}
	mask := []bool{false, true, false, true, true}
	got, err := MedianMasked(data, mask)
	if err != nil || got != 4 {
		t.Errorf("got %f, %v expect 4, nil", got, err)
	}
	if _, err := MedianMasked(data, make([]bool, 5)); err != ErrEmptySelection {
		t.Errorf("got %v expect ErrEmptySelection", err)
	}
}

func TestMADSigma(t *testing.T) {
	got, err := MADSigma([]float32{1, 2, 3, 4, 100})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if expect := float32(1.4826); math.Abs(float64(got-expect)) > 1e-4 {
		t.Errorf("got %f expect %f", got, expect)
	}
}

func TestSigmaClippedMeanStdDev(t *testing.T) {
	data := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 101}
	mean, stdDev, err := SigmaClippedMeanStdDev(data, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if mean != 1 || stdDev != 0 {
		t.Errorf("got mean %f stddev %f expect 1, 0 after clipping the outlier", mean, stdDev)
	}
}

func TestFastApproxMedianExactBelowThreshold(t *testing.T) {
	data := make([]float32, 101)
	for i := range data {
		data[i] = float32(100 - i)
	}
	got, err := FastApproxMedian(data)
	if err != nil || got != 50 {
		t.Errorf("got %f, %v expect 50, nil", got, err)
	}
}
