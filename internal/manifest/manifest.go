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

// Package manifest describes a coronagraphic observing dataset: which raw
// exposure cubes belong to which calibration category, plus the instrument
// constants and processing options the pipeline needs.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Instrument and observation constants
type Instrument struct {
	PixelScale        float64 `yaml:"pixel_scale"`        // arcsec per pixel
	Wavelength        float64 `yaml:"wavelength"`         // observing wavelength in meters
	TelescopeDiameter float64 `yaml:"telescope_diameter"` // meters
	ShadowRadius      float64 `yaml:"shadow_radius"`      // nominal coronagraph shadow radius in pixels
}

// Resolution element in pixels, lambda/D on the detector
func (i *Instrument) Resel() float64 {
	return i.Wavelength * 206265 / (i.TelescopeDiameter * i.PixelScale)
}

// Raw exposure files per calibration category
type Files struct {
	Sci       []string `yaml:"sci"`
	Sky       []string `yaml:"sky"`
	Flat      []string `yaml:"flat"`
	DarkSci   []string `yaml:"dark_sci"`
	DarkFlat  []string `yaml:"dark_flat"`
	DarkUnsat []string `yaml:"dark_unsat"`
	Unsat     []string `yaml:"unsat"`
	Derot     string   `yaml:"derot"` // 2-D FITS of derotation angles, one row per science cube
}

// Processing options, overridable from the command line
type Options struct {
	DarkMode   string  `yaml:"dark_mode"`   // "median" or "pca"
	SkyMode    string  `yaml:"sky_mode"`    // "median" or "pca"
	Fast       bool    `yaml:"fast"`        // skip leading-frame trimming
	CropCap    int32   `yaml:"crop_cap"`    // optional upper bound on the final frame size, 0 for none
	FlatGroups int     `yaml:"flat_groups"` // expected number of flat field illumination groups
	TrimCap    int32   `yaml:"trim_cap"`    // upper bound on leading frames trimmed per cube
	FWHM       float64 `yaml:"fwhm"`        // stellar FWHM override in pixels, 0 to measure from unsat cubes
	ColumnFix  string  `yaml:"column_fix"`  // quadrant with sporadic bad columns: "topright", "bottomright" or blank
}

type Manifest struct {
	RawDir     string     `yaml:"raw_dir"`
	Instrument Instrument `yaml:"instrument"`
	Files      Files      `yaml:"files"`
	Options    Options    `yaml:"options"`
}

// Loads and validates a dataset manifest from a YAML file. Relative file
// names are resolved against raw_dir, which itself resolves against the
// manifest location.
func Load(path string) (*Manifest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m := &Manifest{
		Options: Options{
			DarkMode:   "pca",
			SkyMode:    "pca",
			FlatGroups: 3,
			TrimCap:    10,
		},
	}
	if err := yaml.Unmarshal(buf, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if !filepath.IsAbs(m.RawDir) {
		m.RawDir = filepath.Join(filepath.Dir(path), m.RawDir)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Files.Sci) == 0 {
		return fmt.Errorf("no science cubes listed")
	}
	if m.Instrument.PixelScale <= 0 {
		return fmt.Errorf("pixel_scale must be positive")
	}
	if m.Instrument.Wavelength <= 0 || m.Instrument.TelescopeDiameter <= 0 {
		return fmt.Errorf("wavelength and telescope_diameter must be positive")
	}
	if m.Instrument.ShadowRadius <= 0 {
		return fmt.Errorf("shadow_radius must be positive")
	}
	switch m.Options.DarkMode {
	case "median", "pca":
	default:
		return fmt.Errorf("dark_mode %q, want median or pca", m.Options.DarkMode)
	}
	switch m.Options.SkyMode {
	case "median", "pca":
	default:
		return fmt.Errorf("sky_mode %q, want median or pca", m.Options.SkyMode)
	}
	if m.Options.FlatGroups < 1 {
		return fmt.Errorf("flat_groups must be at least 1")
	}
	switch m.Options.ColumnFix {
	case "", "topright", "bottomright":
	default:
		return fmt.Errorf("column_fix %q, want topright, bottomright or blank", m.Options.ColumnFix)
	}
	if m.Options.FWHM == 0 && len(m.Files.Unsat) == 0 {
		return fmt.Errorf("need either unsat cubes or an fwhm override")
	}
	return nil
}

// Absolute path of a raw file referenced by the manifest
func (m *Manifest) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.RawDir, name)
}
