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

package manifest

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
raw_dir: raw
instrument:
  pixel_scale: 0.02719
  wavelength: 3.8e-6
  telescope_diameter: 8.2
  shadow_radius: 110
files:
  sci: [sci1.fits, sci2.fits]
  sky: [sky1.fits]
  flat: [flat1.fits, flat2.fits, flat3.fits]
  dark_sci: [dark1.fits]
  unsat: [unsat1.fits, unsat2.fits]
options:
  sky_mode: median
`

func writeManifest(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.yaml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("writing manifest: %s", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, sampleManifest)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(m.Files.Sci) != 2 || len(m.Files.Flat) != 3 {
		t.Errorf("got %d sci and %d flat files expect 2 and 3", len(m.Files.Sci), len(m.Files.Flat))
	}

	// unset options fall back to defaults, set ones stick
	if m.Options.DarkMode != "pca" || m.Options.SkyMode != "median" {
		t.Errorf("modes got %s/%s expect pca/median", m.Options.DarkMode, m.Options.SkyMode)
	}
	if m.Options.FlatGroups != 3 || m.Options.TrimCap != 10 {
		t.Errorf("defaults got groups %d trim cap %d expect 3 and 10", m.Options.FlatGroups, m.Options.TrimCap)
	}

	// raw_dir resolves against the manifest location
	expect := filepath.Join(filepath.Dir(path), "raw")
	if m.RawDir != expect {
		t.Errorf("raw dir got %s expect %s", m.RawDir, expect)
	}
	if got := m.Resolve("sci1.fits"); got != filepath.Join(expect, "sci1.fits") {
		t.Errorf("resolve got %s", got)
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	cases := []struct{ name, text string }{
		{"no sci cubes", `
instrument: {pixel_scale: 0.027, wavelength: 3.8e-6, telescope_diameter: 8.2, shadow_radius: 110}
files: {sky: [sky1.fits]}
`},
		{"bad dark mode", `
instrument: {pixel_scale: 0.027, wavelength: 3.8e-6, telescope_diameter: 8.2, shadow_radius: 110}
files: {sci: [sci1.fits], unsat: [u1.fits]}
options: {dark_mode: average}
`},
		{"no fwhm and no unsat", `
instrument: {pixel_scale: 0.027, wavelength: 3.8e-6, telescope_diameter: 8.2, shadow_radius: 110}
files: {sci: [sci1.fits]}
`},
		{"missing pixel scale", `
instrument: {wavelength: 3.8e-6, telescope_diameter: 8.2, shadow_radius: 110}
files: {sci: [sci1.fits], unsat: [u1.fits]}
`},
		{"bad column fix quadrant", `
instrument: {pixel_scale: 0.027, wavelength: 3.8e-6, telescope_diameter: 8.2, shadow_radius: 110}
files: {sci: [sci1.fits], unsat: [u1.fits]}
options: {column_fix: topleft}
`},
	}
	for _, tc := range cases {
		if _, err := Load(writeManifest(t, tc.text)); err == nil {
			t.Errorf("%s: expect validation error", tc.name)
		}
	}
}

func TestResel(t *testing.T) {
	i := Instrument{PixelScale: 0.02719, Wavelength: 3.8e-6, TelescopeDiameter: 8.2}
	got := i.Resel()
	expect := 3.8e-6 * 206265 / (8.2 * 0.02719)
	if math.Abs(got-expect) > 1e-9 {
		t.Errorf("got %f expect %f", got, expect)
	}
}
