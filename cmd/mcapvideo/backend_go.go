//go:build !gstreamer

package main

import (
	"fmt"

	"github.com/user/mcapvideo/pkg/adapters/gopipeline"
	"github.com/user/mcapvideo/pkg/config"
	"github.com/user/mcapvideo/pkg/ports"
)

func newBackend(cfg config.Config, fs ports.FileSystem, log ports.Logger) (ports.PipelineBackend, error) {
	if cfg.Backend == config.BackendGStreamer {
		return nil, fmt.Errorf("backend %s: this binary was built without the gstreamer tag", cfg.Backend)
	}
	return gopipeline.New(fs, log, gopipeline.Options{FrameDuration: cfg.FrameDuration()}), nil
}
