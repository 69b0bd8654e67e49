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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/corocal/corocal/internal/manifest"
	"github.com/corocal/corocal/internal/ops"
	"github.com/corocal/corocal/internal/rest"
	"github.com/corocal/corocal/internal/store"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out     = flag.String("out", "", "write intermediates and results to `directory`, default <manifest dir>/corocal_out")
var logFile = flag.String("log", "%auto", "save log output to `file`. `%auto` places corocal.log in the output directory")
var addr    = flag.String("addr", ":8080", "listen `address` for the serve command")
var chroot  = flag.String("chroot", "", "serve from a chroot jail at `directory` (requires root)")
var setuid  = flag.Int("setuid", -1, "drop to this user `id` after entering the chroot, -1=keep")

var threads = flag.Int("threads", 0, "maximum number of parallel cube workers, 0=all CPUs")
var mem     = flag.Int("mem", 0, "MiB of memory to budget for cube processing, 0=half of physical RAM")

var darkMode = flag.String("dark", "", "dark subtraction mode, median or pca, blank=manifest setting")
var skyMode  = flag.String("sky", "", "sky subtraction mode, median or pca, blank=manifest setting")
var crop     = flag.Int("crop", -1, "cap the final frame size at `pixels`, 0=uncapped, -1=manifest setting")
var fast     = flag.Bool("fast", false, "skip leading-frame trimming for a quick look")
var force    = flag.Bool("force", false, "overwrite existing outputs instead of resuming")
var stage    = flag.String("stage", "", "run only the named pipeline stage, resuming from its checkpointed inputs")

func main() {
	logWriter := io.Writer(os.Stdout)
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Corocal Copyright (c) 2026 The corocal authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (run|stages|serve|legal|version) [manifest.yaml]

Commands:
  run     Calibrate the dataset described by the given manifest
  stages  List the pipeline stages in order
  serve   Accept calibration requests over HTTP
  legal   Show license information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	switch args[0] {
	case "serve":
		rest.MakeSandbox(*chroot, *setuid)
		if err := rest.Serve(*addr); err != nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}

	case "stages":
		man := &manifest.Manifest{}
		man.Options.DarkMode, man.Options.SkyMode = "pca", "pca"
		for _, name := range ops.NewPipeline(man).StageNames() {
			fmt.Fprintf(logWriter, "%s\n", name)
		}

	case "run":
		if len(args) < 2 {
			fmt.Fprintf(logWriter, "run: missing manifest file argument\n")
			os.Exit(-1)
		}
		if err := run(logWriter, args[1]); err != nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}
		fmt.Fprintf(logWriter, "done in %v\n", time.Since(start).Round(time.Millisecond))

	case "legal":
		fmt.Fprintf(logWriter, "Corocal is licensed under the GNU General Public License v3.\nSee https://www.gnu.org/licenses/gpl-3.0.en.html\n")

	case "version":
		fmt.Fprintf(logWriter, "corocal version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(-1)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not write memory profile: %s\n", err.Error())
		}
	}
}

func run(logWriter io.Writer, manifestPath string) error {
	man, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}

	// command line overrides on top of the manifest options
	if *darkMode != "" {
		man.Options.DarkMode = *darkMode
	}
	if *skyMode != "" {
		man.Options.SkyMode = *skyMode
	}
	if *crop >= 0 {
		man.Options.CropCap = int32(*crop)
	}
	if *fast {
		man.Options.Fast = true
	}
	if err := man.Validate(); err != nil {
		return err
	}

	outDir := *out
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(manifestPath), "corocal_out")
	}
	st, err := store.New(outDir)
	if err != nil {
		return err
	}
	st.Force = *force

	// log to a file in addition to stdout, if selected
	if *logFile == "%auto" {
		*logFile = filepath.Join(outDir, "corocal.log")
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening logfile %s: %w", *logFile, err)
		}
		defer f.Close()
		logWriter = io.MultiWriter(logWriter, f)
	}

	c := ops.NewContext(logWriter, st, man)
	if *threads > 0 {
		c.MaxThreads = *threads
	}
	if *mem > 0 {
		c.MemoryMB = *mem
	}
	fmt.Fprintf(logWriter, "corocal %s calibrating %d science cubes from %s with %d threads, %d MiB\n",
		version, len(man.Files.Sci), man.RawDir, c.MaxThreads, c.MemoryMB)

	_, err = ops.NewPipeline(man).Run(c, strings.TrimSpace(*stage))
	return err
}
