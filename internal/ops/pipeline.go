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

package ops

import (
	"fmt"
	"time"

	"github.com/corocal/corocal/internal/manifest"
)

// The full calibration pipeline in stage order
type Pipeline struct {
	Stages []Stage
}

func NewPipeline(man *manifest.Manifest) *Pipeline {
	return &Pipeline{Stages: []Stage{
		NewOpLocate(),
		NewOpDark(man.Options.DarkMode),
		NewOpFlat(man.Options.FlatGroups),
		NewOpBadPixel(man.Options.ColumnFix),
		NewOpPsf(),
		NewOpStabilize(),
		NewOpSpeck(),
		NewOpSky(man.Options.SkyMode),
	}}
}

// Runs the stages in order. After each stage the calibration context is
// checkpointed into the store; on a later run over the same directory,
// stages with a checkpoint are skipped and their context restored, so an
// interrupted run resumes where it stopped. If only is non-empty, just
// that stage runs, on top of the checkpoints already present.
func (p *Pipeline) Run(c Context, only string) (Context, error) {
	start := time.Now()
	for _, stage := range p.Stages {
		if only != "" && only != stage.Name() {
			// restore context from earlier stages so the chosen one
			// sees the geometry and trim state it depends on
			if restored, ok := p.restore(&c, stage.Name()); ok {
				c = restored
			}
			continue
		}
		if restored, ok := p.restore(&c, stage.Name()); ok && only == "" {
			c = restored
			fmt.Fprintf(c.Log, "=== %s: checkpoint found, skipping\n", stage.Name())
			continue
		}
		fmt.Fprintf(c.Log, "=== %s\n", stage.Name())
		stageStart := time.Now()
		next, err := stage.Apply(c)
		if err != nil {
			return c, err
		}
		c = next
		if err := p.checkpoint(c, stage.Name()); err != nil {
			fmt.Fprintf(c.Log, "warning: checkpointing %s: %s\n", stage.Name(), err.Error())
		}
		fmt.Fprintf(c.Log, "=== %s done in %v\n", stage.Name(), time.Since(stageStart).Round(time.Millisecond))
		if only == stage.Name() {
			fmt.Fprintf(c.Log, "ran single stage %s in %v\n", only, time.Since(start).Round(time.Millisecond))
			return c, nil
		}
	}
	if only != "" {
		return c, fmt.Errorf("unknown stage %q", only)
	}
	fmt.Fprintf(c.Log, "pipeline done in %v\n", time.Since(start).Round(time.Millisecond))
	return c, nil
}

// Names of all stages, in pipeline order
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name()
	}
	return names
}

func (p *Pipeline) checkpoint(c Context, name string) error {
	if c.Store.Force {
		_ = c.Store.Remove("ckpt", name)
	}
	return c.Store.WriteVector("ckpt", name, []float32{
		float32(c.ComSz), float32(c.ShadowY), float32(c.ShadowX), c.ShadowR,
		float32(c.MaskY), float32(c.MaskX), c.FWHM, c.Resel,
		float32(c.FinalSz), float32(c.TrimCount), float32(c.NewNDit),
	})
}

func (p *Pipeline) restore(c *Context, name string) (Context, bool) {
	if c.Store.Force || !c.Store.Exists("ckpt", name) {
		return *c, false
	}
	vec, err := c.Store.Read("ckpt", name, -1, c.Log)
	if err != nil || len(vec.Data) < 11 {
		return *c, false
	}
	res := *c
	res.ComSz = int32(vec.Data[0])
	res.ShadowY, res.ShadowX = int32(vec.Data[1]), int32(vec.Data[2])
	res.ShadowR = vec.Data[3]
	res.MaskY, res.MaskX = int32(vec.Data[4]), int32(vec.Data[5])
	res.FWHM, res.Resel = vec.Data[6], vec.Data[7]
	res.FinalSz = int32(vec.Data[8])
	res.TrimCount, res.NewNDit = int32(vec.Data[9]), int32(vec.Data[10])
	return res, true
}
