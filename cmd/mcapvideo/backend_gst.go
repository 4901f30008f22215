//go:build gstreamer

package main

import (
	"github.com/user/mcapvideo/pkg/adapters/gopipeline"
	"github.com/user/mcapvideo/pkg/adapters/gstpipeline"
	"github.com/user/mcapvideo/pkg/config"
	"github.com/user/mcapvideo/pkg/ports"
)

func newBackend(cfg config.Config, fs ports.FileSystem, log ports.Logger) (ports.PipelineBackend, error) {
	if cfg.Backend == config.BackendGStreamer {
		return gstpipeline.New(fs, log), nil
	}
	return gopipeline.New(fs, log, gopipeline.Options{FrameDuration: cfg.FrameDuration()}), nil
}
