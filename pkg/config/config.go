// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/mcapvideo/pkg/adapters/mcapreader"
	"github.com/user/mcapvideo/pkg/orchestrator"
	"github.com/user/mcapvideo/pkg/ports"
)

// Backend names accepted by the backend setting.
const (
	BackendGo        = "go"
	BackendGStreamer = "gstreamer"
)

// Config represents the full configuration for mcapvideo. Command line flags
// override values loaded from a file.
type Config struct {
	// Output
	OutputDir string `yaml:"output"`
	Report    string `yaml:"report"` // optional Markdown report path

	// Extraction
	Backend      string        `yaml:"backend"`
	Jobs         int           `yaml:"jobs"`
	Timeout      time.Duration `yaml:"timeout"`
	ReadOrder    string        `yaml:"read_order"`
	QueueSize    int           `yaml:"queue_size"`
	FrameRate    float64       `yaml:"frame_rate"` // duration of the last sample in a file
	VerifyOutput bool          `yaml:"verify_output"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		OutputDir: ".",
		Backend:   BackendGo,
		Jobs:      1,
		Timeout:   10 * time.Minute,
		ReadOrder: string(mcapreader.OrderFile),
		QueueSize: 16,
		FrameRate: 30,
		LogLevel:  "info",
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendGo, BackendGStreamer:
	default:
		return fmt.Errorf("backend: unknown backend %q (expected %s or %s)", c.Backend, BackendGo, BackendGStreamer)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs: must be at least 1, got %d", c.Jobs)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout: must not be negative, got %s", c.Timeout)
	}
	if _, err := mcapreader.ParseReadOrder(c.ReadOrder); err != nil {
		return fmt.Errorf("read_order: %w", err)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size: must be at least 1, got %d", c.QueueSize)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate: must be positive, got %g", c.FrameRate)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "quiet":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() ports.LogLevel {
	return ports.ParseLogLevel(c.LogLevel)
}

// FrameDuration is the nominal duration of one frame.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// ToOrchestratorConfig converts Config to orchestrator.Config for selector.
func (c Config) ToOrchestratorConfig(selector string) orchestrator.Config {
	return orchestrator.Config{
		Selector:     selector,
		OutputDir:    c.OutputDir,
		Jobs:         c.Jobs,
		Timeout:      c.Timeout,
		VerifyOutput: c.VerifyOutput,
	}
}
