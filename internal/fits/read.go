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
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

func NewCubeFromFile(fileName string, id int, logWriter io.Writer) (c *Cube, err error) {
	c = NewCube()
	c.ID = id
	return c, c.ReadFile(fileName, true, logWriter)
}

// Reads header metadata only, skipping the data payload (fast)
func NewCubeMetadataFromFile(fileName string, id int, logWriter io.Writer) (c *Cube, err error) {
	c = NewCube()
	c.ID = id
	return c, c.ReadFile(fileName, false, logWriter)
}

// Read FITS data from the file with the given name. Decompresses gzip if .gz or .gzip suffix is present.
// Reads metadata only (fast) if readData is false.
func (c *Cube) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f

	c.FileName = fileName
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		r, err = gzip.NewReader(f)
		if err != nil {
			return err
		}
	}

	return c.Read(r, readData, logWriter)
}

func (c *Cube) PopHeaderInt32(key string) (res int32, err error) {
	if val, ok := c.Header.Ints[key]; ok {
		delete(c.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", c.ID, key)
}

func (c *Cube) PopHeaderInt32OrFloat(key string) (res float64, err error) {
	if val, ok := c.Header.Ints[key]; ok {
		delete(c.Header.Ints, key)
		return float64(val), nil
	} else if val, ok := c.Header.Floats[key]; ok {
		delete(c.Header.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", c.ID, key)
}

func (c *Cube) Read(f io.Reader, readData bool, logWriter io.Writer) (err error) {
	err = c.Header.read(f, c.ID, logWriter)
	if err != nil {
		return err
	}

	// check mandatory fields as per standard
	if !c.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", c.ID)
	}
	delete(c.Header.Bools, "SIMPLE")

	if c.Bitpix, err = c.PopHeaderInt32("BITPIX"); err != nil {
		return err
	}
	var naxis int32
	if naxis, err = c.PopHeaderInt32("NAXIS"); err != nil {
		return err
	}
	if naxis < 2 || naxis > 3 {
		return fmt.Errorf("%d: unsupported NAXIS=%d, expecting 2-D frames or 3-D cubes", c.ID, naxis)
	}
	c.Naxisn = make([]int32, naxis)
	c.Pixels = int32(1)
	for i := int32(1); i <= naxis; i++ {
		name := "NAXIS" + strconv.FormatInt(int64(i), 10)
		var nai int32
		if nai, err = c.PopHeaderInt32(name); err != nil {
			return err
		}
		c.Naxisn[i-1] = nai
		c.Pixels *= nai
	}

	// optional fields relevant for calibration
	if bzero, err := c.PopHeaderInt32OrFloat("BZERO"); err == nil {
		c.Bzero = float32(bzero)
	}
	c.Bscale = 1
	if bscale, err := c.PopHeaderInt32OrFloat("BSCALE"); err == nil {
		c.Bscale = float32(bscale)
	}
	if exp, err := c.PopHeaderInt32OrFloat("EXPTIME"); err == nil {
		c.Exposure = float32(exp)
	} else if exp, err := c.PopHeaderInt32OrFloat("EXPOSURE"); err == nil {
		c.Exposure = float32(exp)
	}
	if mjd, err := c.PopHeaderInt32OrFloat("MJD-OBS"); err == nil {
		c.MJD = mjd
	}
	if am, err := c.PopHeaderInt32OrFloat("AIRMASS"); err == nil {
		c.Airmass = float32(am)
	}

	if !readData {
		return nil
	}
	if err = c.readData(f); err != nil {
		return err
	}
	if c.Bitpix < 0 {
		if n := c.ScrubNaNs(); n > 0 {
			fmt.Fprintf(logWriter, "%d: replaced %d NaN pixels with local medians\n", c.ID, n)
		}
	}
	return nil
}

// Read image data from file, convert to float32 data type, apply Bzero/Bscale and reset them afterwards
func (c *Cube) readData(f io.Reader) (err error) {
	switch c.Bitpix {
	case 8:
		return c.readConvertedData(f, 1, func(b []byte) float32 { return float32(b[0]) })
	case 16:
		return c.readConvertedData(f, 2, func(b []byte) float32 {
			return float32(int16((uint16(b[0]) << 8) | uint16(b[1])))
		})
	case 32:
		return c.readConvertedData(f, 4, func(b []byte) float32 {
			return float32(int32((uint32(b[0]) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3])))
		})
	case -32:
		return c.readConvertedData(f, 4, func(b []byte) float32 {
			return math.Float32frombits((uint32(b[0]) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3]))
		})
	case -64:
		return c.readConvertedData(f, 8, func(b []byte) float32 {
			bits := (uint64(b[0]) << 56) | (uint64(b[1]) << 48) | (uint64(b[2]) << 40) | (uint64(b[3]) << 32) |
				(uint64(b[4]) << 24) | (uint64(b[5]) << 16) | (uint64(b[6]) << 8) | uint64(b[7])
			return float32(math.Float64frombits(bits))
		})
	default:
		return fmt.Errorf("%d: Unknown BITPIX value %d", c.ID, c.Bitpix)
	}
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Batched read of payload values from the file, converting from network
// byte order with the given decoder and folding in Bzero/Bscale
func (c *Cube) readConvertedData(r io.Reader, bytesPerValue int, decode func([]byte) float32) error {
	c.Data = make([]float32, int(c.Pixels))
	buf := make([]byte, bufLen)

	dataIndex, leftoverBytes := 0, 0
	for dataIndex < len(c.Data) {
		bytesToRead := (len(c.Data)-dataIndex)*bytesPerValue - leftoverBytes
		if bytesToRead > bufLen-leftoverBytes {
			bytesToRead = bufLen - leftoverBytes
		}
		bytesRead, err := r.Read(buf[leftoverBytes : leftoverBytes+bytesToRead])
		if err != nil {
			return fmt.Errorf("%d: %s", c.ID, err.Error())
		}

		availableBytes := leftoverBytes + bytesRead
		whole := availableBytes - availableBytes%bytesPerValue
		for i := 0; i < whole; i += bytesPerValue {
			c.Data[dataIndex+i/bytesPerValue] = decode(buf[i:i+bytesPerValue])*c.Bscale + c.Bzero
		}
		dataIndex += whole / bytesPerValue
		leftoverBytes = availableBytes - whole
		copy(buf[:leftoverBytes], buf[whole:availableBytes])
	}
	c.Bzero, c.Bscale = 0, 1 // data values incorporate these now
	return nil
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil || bytesRead != fitsBlockSize {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: cannot parse '%s', ignoring\n", id, string(line))
			} else {
				subNames := reParser.SubexpNames()
				h.readLine(subNames, subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, string(subValues[i]))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, string(subValues[i]))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				val, err := strconv.ParseInt(string(subValues[i]), 10, 64)
				if err == nil {
					h.Ints[key] = int32(val)
				}
			case byte('f'): // float
				val, err := strconv.ParseFloat(strings.Replace(string(subValues[i]), "D", "E", 1), 64)
				if err == nil {
					h.Floats[key] = val
				}
			case byte('s'): // string
				h.Strings[key] = string(subValues[i])
			case byte('d'): // date
				h.Dates[key] = string(subValues[i])
			case byte('c'): // comment
				// ignore value comments
			default:
				fmt.Fprintf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
