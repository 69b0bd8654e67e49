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

// Package rest exposes the calibration pipeline over HTTP. A calibration
// request streams the run log back as a plain text response body, so a
// caller can follow progress with curl.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/corocal/corocal/internal/manifest"
	"github.com/corocal/corocal/internal/ops"
	"github.com/corocal/corocal/internal/store"
)

// Cubes are large and stages saturate the worker pool, so only one
// calibration runs at a time
var busy int32

func Serve(addr string) error {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/stages", getStages)
			v1.POST("/calibrate", postCalibrate)
		}
	}
	return r.Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func getStages(c *gin.Context) {
	man := &manifest.Manifest{}
	man.Options.DarkMode, man.Options.SkyMode = "pca", "pca"
	c.JSON(200, gin.H{
		"stages": ops.NewPipeline(man).StageNames(),
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postCalibrateArgs struct {
	Manifest string `json:"manifest"`
	OutDir   string `json:"outDir"`
	Stage    string `json:"stage"`
	Force    bool   `json:"force"`
	Threads  int    `json:"threads"`
	MemoryMB int    `json:"memoryMB"`
}

func postCalibrate(c *gin.Context) {
	logWriter := c.Writer
	var args postCalibrateArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !atomic.CompareAndSwapInt32(&busy, 0, 1) {
		c.JSON(http.StatusConflict, gin.H{"error": "a calibration is already running"})
		return
	}
	defer atomic.StoreInt32(&busy, 0)

	man, err := manifest.Load(args.Manifest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.OutDir == "" {
		args.OutDir = filepath.Join(filepath.Dir(args.Manifest), "corocal_out")
	}
	st, err := store.New(args.OutDir)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st.Force = args.Force

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter, st, man)
	if args.Threads > 0 {
		ctx.MaxThreads = args.Threads
	}
	if args.MemoryMB > 0 {
		ctx.MemoryMB = args.MemoryMB
	}
	if _, err := ops.NewPipeline(man).Run(ctx, args.Stage); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}
