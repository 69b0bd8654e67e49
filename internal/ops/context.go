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

// Package ops implements the calibration pipeline stages. Each stage reads
// raw cubes or earlier intermediates, writes its outputs into the store,
// and extends the calibration context for the stages after it.
package ops

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/corocal/corocal/internal/manifest"
	"github.com/corocal/corocal/internal/store"
	"github.com/pbnjay/memory"
)

// Shared pipeline state. The fixed part (logging, store, manifest,
// parallelism) is set up once; the calibration part is filled in stage by
// stage. Stages receive a Context by value and return an extended copy,
// so earlier values are never mutated behind a stage's back.
type Context struct {
	Log        io.Writer
	MaxThreads int
	MemoryMB   int
	Store      *store.Store
	Man        *manifest.Manifest

	// calibration state, filled in by the stages in pipeline order
	ComSz            int32   // odd working frame size after the initial crop
	ShadowY, ShadowX int32   // coronagraph shadow centre
	ShadowR          float32 // coronagraph shadow radius in pixels
	MaskY, MaskX     int32   // coronagraphic mask centre
	FWHM             float32 // stellar full width at half maximum in pixels
	Resel            float32 // resolution element lambda/D in pixels
	FinalSz          int32   // odd frame size after the final crop
	TrimCount        int32   // leading frames trimmed from each cube
	NewNDit          int32   // frames per science cube after trimming
}

// Creates a context with parallelism defaulted to the CPU count and the
// memory budget to half of physical RAM.
func NewContext(logWriter io.Writer, st *store.Store, man *manifest.Manifest) Context {
	return Context{
		Log:        logWriter,
		MaxThreads: runtime.NumCPU(),
		MemoryMB:   int(memory.TotalMemory() / 1024 / 1024 / 2),
		Store:      st,
		Man:        man,
	}
}

// Bounds parallel cube processing so that workers stay within the memory
// budget, assuming each worker holds about cubeMB megabytes
func (c *Context) ThreadsFor(cubeMB int) int {
	threads := c.MaxThreads
	if cubeMB > 0 && c.MemoryMB > 0 {
		if byMem := c.MemoryMB / (2 * cubeMB); byMem < threads {
			threads = byMem
		}
	}
	if threads < 1 {
		threads = 1
	}
	return threads
}

// Runs f(i) for i in [0, n) on a bounded worker pool and joins the
// results. Individual failures do not stop the other workers; all error
// messages are combined into a single error.
func (c *Context) ForEach(n int, threads int, f func(i int) error) error {
	if threads < 1 {
		threads = 1
	}
	limiter := make(chan bool, threads)
	mutex := sync.Mutex{}
	msgs := []string{}
	for i := 0; i < n; i++ {
		limiter <- true
		go func(i int) {
			defer func() { <-limiter }()
			if err := f(i); err != nil {
				mutex.Lock()
				msgs = append(msgs, err.Error())
				mutex.Unlock()
			}
		}(i)
	}
	for i := 0; i < cap(limiter); i++ { // barrier: wait for all workers
		limiter <- true
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

// A pipeline stage. Apply consumes the context of the previous stage and
// returns the extended one for the next.
type Stage interface {
	Name() string
	Apply(c Context) (Context, error)
}
