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

// Package store persists stage intermediates as FITS files under a working
// directory, keyed by stage prefix and input basename. Keys are write-once
// so a resumed run can skip stages whose outputs already exist.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/corocal/corocal/internal/fits"
)

type Store struct {
	Dir   string
	Force bool // overwrite existing keys instead of failing
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// File name for a (stage prefix, input name) key
func (s *Store) Path(prefix, name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, ".gz")
	if !strings.HasSuffix(strings.ToLower(base), ".fits") {
		base += ".fits"
	}
	return filepath.Join(s.Dir, prefix+"_"+base)
}

func (s *Store) Exists(prefix, name string) bool {
	_, err := os.Stat(s.Path(prefix, name))
	return err == nil
}

// Writes a cube under the given key. Errors if the key exists, unless the
// store was opened with Force.
func (s *Store) Write(prefix, name string, c *fits.Cube) error {
	path := s.Path(prefix, name)
	if !s.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("store key %s already exists; use force to overwrite", filepath.Base(path))
		}
	}
	return c.WriteFile(path)
}

func (s *Store) Read(prefix, name string, id int, logWriter io.Writer) (*fits.Cube, error) {
	return fits.NewCubeFromFile(s.Path(prefix, name), id, logWriter)
}

func (s *Store) Remove(prefix, name string) error {
	return os.Remove(s.Path(prefix, name))
}

// Writes a flat float32 vector as a 2-D FITS row, for small per-stage
// results like shift tables and flux curves
func (s *Store) WriteVector(prefix, name string, values []float32) error {
	c := fits.NewCubeFromNaxisn([]int32{int32(len(values)), 1}, values)
	return s.Write(prefix, name, c)
}

// True if every (prefix, name) key exists for the given names
func (s *Store) AllExist(prefix string, names []string) bool {
	for _, n := range names {
		if !s.Exists(prefix, n) {
			return false
		}
	}
	return len(names) > 0
}
