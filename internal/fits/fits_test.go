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

package fits

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestFrameAndMedianFrame(t *testing.T) {
	c := NewCubeFromNaxisn([]int32{2, 2, 3}, []float32{
		1, 1, 1, 1,
		5, 5, 5, 5,
		3, 3, 3, 3,
	})
	if got := c.Frames(); got != 3 {
		t.Fatalf("frames got %d expect 3", got)
	}
	if got := c.Frame(1)[0]; got != 5 {
		t.Errorf("frame 1 pixel 0 got %f expect 5", got)
	}
	med := c.MedianFrame()
	for i, v := range med {
		if v != 3 {
			t.Errorf("median pixel %d got %f expect 3", i, v)
		}
	}
}

func TestCropSquare(t *testing.T) {
	data := make([]float32, 5*5)
	for i := range data {
		data[i] = float32(i)
	}
	c := NewCubeFromNaxisn([]int32{5, 5, 1}, data)
	cropped, err := c.CropSquare(2, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expect := []float32{6, 7, 8, 11, 12, 13, 16, 17, 18}
	for i, e := range expect {
		if cropped.Data[i] != e {
			t.Errorf("pixel %d got %f expect %f", i, cropped.Data[i], e)
		}
	}

	if _, err := c.CropSquare(2, 2, 4); err == nil {
		t.Errorf("expect error on even crop size")
	}
	if _, err := c.CropSquare(0, 0, 3); err == nil {
		t.Errorf("expect error on out-of-bounds crop")
	}
}

func TestCropFrameSquare(t *testing.T) {
	data := make([]float32, 4*4)
	for i := range data {
		data[i] = float32(i)
	}
	sub, err := CropFrameSquare(data, 4, 2, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	expect := []float32{4, 5, 6, 8, 9, 10, 12, 13, 14}
	for i, e := range expect {
		if sub[i] != e {
			t.Errorf("pixel %d got %f expect %f", i, sub[i], e)
		}
	}
}

func TestSliceFramesCopies(t *testing.T) {
	c := NewCubeFromNaxisn([]int32{2, 2, 2}, []float32{1, 1, 1, 1, 2, 2, 2, 2})
	s := c.SliceFrames(1, 2)
	if s.Frames() != 1 || s.Data[0] != 2 {
		t.Fatalf("slice got %d frames first pixel %f expect 1 frame of 2s", s.Frames(), s.Data[0])
	}
	s.Data[0] = 99
	if c.Data[4] != 2 {
		t.Errorf("mutating the slice changed the source cube")
	}
}

func TestScrubNaNs(t *testing.T) {
	nan := float32(math.NaN())
	data := make([]float32, 5*5)
	for i := range data {
		data[i] = 2
	}
	data[2*5+2] = nan
	data[0] = nan // corner pixel has only 3 neighbours
	c := NewCubeFromNaxisn([]int32{5, 5, 1}, data)

	if got := c.ScrubNaNs(); got != 2 {
		t.Errorf("replaced got %d expect 2", got)
	}
	for i, v := range c.Data {
		if v != 2 {
			t.Errorf("pixel %d got %f expect 2", i, v)
		}
	}
	if got := c.ScrubNaNs(); got != 0 {
		t.Errorf("second pass replaced got %d expect 0", got)
	}
}

// Builds a minimal raw BITPIX -32 file the way the instrument writes
// them, with a NaN pixel in the payload
func rawFloatFITS(width, height int32, data []float32) []byte {
	buf := []byte{}
	for _, line := range []string{
		"SIMPLE  =                    T",
		"BITPIX  =                  -32",
		"NAXIS   =                    2",
		fmt.Sprintf("NAXIS1  = %20d", width),
		fmt.Sprintf("NAXIS2  = %20d", height),
		"END",
	} {
		buf = append(buf, fmt.Sprintf("%-80s", line)...)
	}
	for len(buf)%2880 != 0 {
		buf = append(buf, ' ')
	}
	for _, v := range data {
		bits := math.Float32bits(v)
		buf = append(buf, byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
	}
	for len(buf)%2880 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func TestReadRepairsNaNPixels(t *testing.T) {
	data := make([]float32, 4*4)
	for i := range data {
		data[i] = 7
	}
	data[5] = float32(math.NaN())

	path := filepath.Join(t.TempDir(), "nan.fits")
	if err := os.WriteFile(path, rawFloatFITS(4, 4, data), 0644); err != nil {
		t.Fatalf("write: %s", err)
	}
	got, err := NewCubeFromFile(path, 3, io.Discard)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	for i, v := range got.Data {
		if math.IsNaN(float64(v)) {
			t.Fatalf("pixel %d still NaN after read", i)
		}
		if v != 7 {
			t.Errorf("pixel %d got %f expect 7", i, v)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "fits")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer os.RemoveAll(dir)

	data := make([]float32, 4*4*2)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	c := NewCubeFromNaxisn([]int32{4, 4, 2}, data)
	c.Exposure = 0.35
	c.MJD = 59000.125
	c.Airmass = 1.4

	path := filepath.Join(dir, "cube.fits")
	if err := c.WriteFile(path); err != nil {
		t.Fatalf("write: %s", err)
	}
	got, err := NewCubeFromFile(path, 7, os.Stderr)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if !EqualInt32Slice(got.Naxisn, c.Naxisn) {
		t.Fatalf("dimensions got %v expect %v", got.Naxisn, c.Naxisn)
	}
	for i := range data {
		if got.Data[i] != data[i] {
			t.Errorf("pixel %d got %f expect %f", i, got.Data[i], data[i])
		}
	}
	if math.Abs(float64(got.Exposure-0.35)) > 1e-5 {
		t.Errorf("exposure got %f expect 0.35", got.Exposure)
	}
	if math.Abs(got.MJD-59000.125) > 1e-9 {
		t.Errorf("MJD got %f expect 59000.125", got.MJD)
	}
	if math.Abs(float64(got.Airmass-1.4)) > 1e-5 {
		t.Errorf("airmass got %f expect 1.4", got.Airmass)
	}
}
