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
	"math"
	"strings"

	"github.com/corocal/corocal/internal/qsort"
)

// A FITS image cube: a stack of 2-D frames of identical dimensions.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Cube struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].

	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X, Y, frames)
	Pixels int32   // Number of pixels in the cube. Product of Naxisn[]

	Data []float32 // The image data, frame after frame, row-major within each frame

	Exposure float32 // Exposure per frame in seconds, from EXPTIME
	MJD      float64 // Modified julian date of observation start, from MJD-OBS
	Airmass  float32 // Airmass at observation start, from AIRMASS
}

// Creates a cube initialized with an empty header
func NewCube() *Cube {
	return &Cube{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a cube from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewCubeFromNaxisn(naxisn []int32, data []float32) *Cube {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Cube{
		Header: NewHeader(),
		Bitpix: -32,
		Bzero:  0,
		Bscale: 1,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
	}
}

// Width of each frame in pixels
func (c *Cube) Width() int32 { return c.Naxisn[0] }

// Height of each frame in pixels
func (c *Cube) Height() int32 { return c.Naxisn[1] }

// Number of frames in the cube. A 2-D image counts as one frame.
func (c *Cube) Frames() int32 {
	if len(c.Naxisn) < 3 {
		return 1
	}
	return c.Naxisn[2]
}

// Returns the i-th frame as a slice into the cube data, without copying
func (c *Cube) Frame(i int32) []float32 {
	fsize := c.Naxisn[0] * c.Naxisn[1]
	return c.Data[i*fsize : (i+1)*fsize]
}

// Computes the per-pixel median across all frames of the cube
func (c *Cube) MedianFrame() []float32 {
	w, h, n := c.Naxisn[0], c.Naxisn[1], c.Frames()
	fsize := w * h
	res := make([]float32, fsize)
	if n == 1 {
		copy(res, c.Data[:fsize])
		return res
	}
	tmp := make([]float32, n)
	for p := int32(0); p < fsize; p++ {
		for f := int32(0); f < n; f++ {
			tmp[f] = c.Data[f*fsize+p]
		}
		res[p] = qsort.QSelectMedianFloat32(tmp)
	}
	return res
}

// Replaces IEEE NaN pixels with the median of the finite pixels in a
// growing neighbourhood, frame by frame. Raw float frames off the
// detector can carry NaNs, which would poison every median downstream.
// Requires at least 3 finite neighbours before repairing, widening the
// window until enough exist. Returns the number of pixels replaced.
func (c *Cube) ScrubNaNs() int {
	w, h := c.Naxisn[0], c.Naxisn[1]
	replaced := 0
	good := make([]float32, 0, 64)
	for f := int32(0); f < c.Frames(); f++ {
		data := c.Frame(f)
		var orig []float32
		for p, v := range data {
			if !math.IsNaN(float64(v)) {
				continue
			}
			if orig == nil {
				orig = append([]float32(nil), data...)
			}
			y, x := int32(p)/w, int32(p)%w
			for half := int32(1); half < w; half++ {
				good = good[:0]
				y0, y1 := y-half, y+half
				if y0 < 0 {
					y0 = 0
				}
				if y1 >= h {
					y1 = h - 1
				}
				x0, x1 := x-half, x+half
				if x0 < 0 {
					x0 = 0
				}
				if x1 >= w {
					x1 = w - 1
				}
				for yy := y0; yy <= y1; yy++ {
					for xx := x0; xx <= x1; xx++ {
						if g := orig[yy*w+xx]; !math.IsNaN(float64(g)) {
							good = append(good, g)
						}
					}
				}
				if len(good) >= 3 {
					data[p] = qsort.QSelectMedianFloat32(good)
					break
				}
			}
			if math.IsNaN(float64(data[p])) {
				// fully NaN frame, nothing to interpolate from
				data[p] = 0
			}
			replaced++
		}
	}
	return replaced
}

// Crops every frame of the cube to a size x size square centered on (cy, cx).
// Size must be odd and the square must lie within the frame bounds.
func (c *Cube) CropSquare(cy, cx, size int32) (*Cube, error) {
	if size&1 == 0 {
		return nil, fmt.Errorf("%d: crop size %d is not odd", c.ID, size)
	}
	w, h, n := c.Naxisn[0], c.Naxisn[1], c.Frames()
	half := size >> 1
	y0, x0 := cy-half, cx-half
	if y0 < 0 || x0 < 0 || y0+size > h || x0+size > w {
		return nil, fmt.Errorf("%d: crop %dx%d at (%d,%d) exceeds frame bounds %dx%d", c.ID, size, size, cy, cx, w, h)
	}
	res := NewCubeFromNaxisn([]int32{size, size, n}, nil)
	res.ID, res.FileName = c.ID, c.FileName
	res.Exposure, res.MJD, res.Airmass = c.Exposure, c.MJD, c.Airmass
	fsize, rsize := w*h, size*size
	for f := int32(0); f < n; f++ {
		src := c.Data[f*fsize : (f+1)*fsize]
		dst := res.Data[f*rsize : (f+1)*rsize]
		for row := int32(0); row < size; row++ {
			copy(dst[row*size:(row+1)*size], src[(y0+row)*w+x0:(y0+row)*w+x0+size])
		}
	}
	return res, nil
}

// Extracts an odd-sized square region of a single frame as a standalone copy.
func CropFrameSquare(frame []float32, width, cy, cx, size int32) ([]float32, error) {
	if size&1 == 0 {
		return nil, fmt.Errorf("crop size %d is not odd", size)
	}
	height := int32(len(frame)) / width
	half := size >> 1
	y0, x0 := cy-half, cx-half
	if y0 < 0 || x0 < 0 || y0+size > height || x0+size > width {
		return nil, fmt.Errorf("crop %dx%d at (%d,%d) exceeds frame bounds %dx%d", size, size, cy, cx, width, height)
	}
	res := make([]float32, size*size)
	for row := int32(0); row < size; row++ {
		copy(res[row*size:(row+1)*size], frame[(y0+row)*width+x0:(y0+row)*width+x0+size])
	}
	return res, nil
}

// Returns a cube holding a subrange of frames [from, to) as a copy
func (c *Cube) SliceFrames(from, to int32) *Cube {
	w, h := c.Naxisn[0], c.Naxisn[1]
	fsize := w * h
	res := NewCubeFromNaxisn([]int32{w, h, to - from}, nil)
	res.ID, res.FileName = c.ID, c.FileName
	res.Exposure, res.MJD, res.Airmass = c.Exposure, c.MJD, c.Airmass
	copy(res.Data, c.Data[from*fsize:to*fsize])
	return res
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

func (c *Cube) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range c.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Tests two int32 slices for equality
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
