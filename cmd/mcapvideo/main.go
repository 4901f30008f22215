// Package main provides the CLI entry point for mcapvideo.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ideamans/go-l10n"

	"github.com/user/mcapvideo/pkg/adapters/codecdetect"
	"github.com/user/mcapvideo/pkg/adapters/logger"
	"github.com/user/mcapvideo/pkg/adapters/mcapreader"
	"github.com/user/mcapvideo/pkg/adapters/osfilesystem"
	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/config"
	"github.com/user/mcapvideo/pkg/orchestrator"
	"github.com/user/mcapvideo/pkg/ports"
	"github.com/user/mcapvideo/pkg/summarizer"
)

// CLI defines the command-line interface with subcommands.
type CLI struct {
	Extract ExtractCmd `cmd:"" default:"withargs" help:"List or extract the video channels of an MCAP recording."`
	Fixture FixtureCmd `cmd:"" help:"Write a demo MCAP recording."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// ExtractCmd lists channels when no selector is given and extracts them
// otherwise. Flags left unset keep the value from --config or the default.
type ExtractCmd struct {
	File     string `arg:"" type:"existingfile" help:"MCAP recording to read."`
	Selector string `arg:"" optional:"" help:"Topic to extract, or 'all'. Lists the channels when omitted."`

	// Output
	Output *string `short:"o" help:"Output directory (default: current directory)."`
	Report *string `help:"Write a Markdown report to this file."`

	// Extraction
	Backend      string         `short:"b" enum:"go,gstreamer," default:"" help:"Pipeline backend (go or gstreamer)."`
	Jobs         *int           `short:"j" help:"Number of channels extracted concurrently."`
	Timeout      *time.Duration `help:"Deadline for the whole run (e.g. 10m)."`
	ReadOrder    string         `enum:"file,log_time," default:"" help:"Message order: file or log_time."`
	QueueSize    *int           `help:"Frames buffered between reading and injection per job."`
	VerifyOutput bool           `help:"Read every output file back and check its codec and sample count."`

	// Configuration
	Config string `short:"c" type:"existingfile" help:"YAML configuration file."`

	// Logging
	LogLevel string `short:"l" enum:"debug,info,warn,error," default:"" help:"Log level (debug, info, warn, error)."`
	Quiet    bool   `short:"Q" help:"Suppress all log output."`
}

// FixtureCmd writes a demo recording.
type FixtureCmd struct {
	Output      string `arg:"" help:"Path of the recording to write."`
	Compression string `enum:"zstd,lz4,none" default:"zstd" help:"Chunk compression (zstd, lz4 or none)."`
	Unindexed   bool   `help:"Write an unchunked file without summary section."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

var version = "dev"

// errJobsFailed makes the process exit non-zero after the report is printed.
var errJobsFailed = errors.New("some channels failed")

func main() {
	cli := CLI{}

	ctx := kong.Parse(&cli,
		kong.Name("mcapvideo"),
		kong.Description(l10n.T("Extract compressed video channels from MCAP recordings.")),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// Run executes the extract command.
func (cmd *ExtractCmd) Run() error {
	cfg, err := cmd.buildConfig()
	if err != nil {
		return err
	}

	var log ports.Logger
	if cmd.Quiet {
		log = logger.NewNoop()
	} else {
		log = logger.New(cfg.Level())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn("Interrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	order, _ := mcapreader.ParseReadOrder(cfg.ReadOrder)
	recording, err := mcapreader.Open(cmd.File, order, log)
	if err != nil {
		return err
	}

	fs := osfilesystem.New()
	backend, err := newBackend(cfg, fs, log)
	if err != nil {
		return err
	}

	orch := orchestrator.New(recording, backend, fs, log,
		orchestrator.WithQueueSize(cfg.QueueSize),
		orchestrator.WithVerifier(func(path string, c codec.Codec, frames int) error {
			res, err := codecdetect.Verify(path, c, frames)
			if err == nil {
				log.Debug("Verified %s (%s %dx%d)", path, res.Codec, res.Width, res.Height)
			}
			return err
		}),
	)

	builder := summarizer.NewBuilder().WithRecording(cmd.File).WithBackend(backend.Name())
	if cmd.Selector == "" {
		summaries, err := orch.List(ctx)
		if err != nil {
			return err
		}
		builder.WithListing(summaries)
	} else {
		report, err := orch.Extract(ctx, cfg.ToOrchestratorConfig(cmd.Selector))
		if err != nil {
			return err
		}
		builder.WithReport(report)
		if n := len(report.Results); n > 0 && report.OK() {
			log.Info("All %d channels extracted", n)
		} else if !report.OK() {
			log.Error("%d of %d channels failed", report.Failed(), n)
		}
	}

	summary := builder.Build()
	fmt.Print(summarizer.NewTextFormatter().Format(summary))

	if cfg.Report != "" {
		if err := summarizer.NewWriter(summarizer.NewMarkdownFormatter(), fs).Write(cfg.Report, summary); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		log.Info("Report written to %s", cfg.Report)
	}

	if !summary.OK() {
		return errJobsFailed
	}
	return nil
}

// buildConfig layers the config file and flags over the defaults.
func (cmd *ExtractCmd) buildConfig() (config.Config, error) {
	cfg := config.Defaults()
	if cmd.Config != "" {
		var err error
		if cfg, err = config.LoadFromFile(cmd.Config); err != nil {
			return cfg, err
		}
	}

	if cmd.Output != nil {
		cfg.OutputDir = *cmd.Output
	}
	if cmd.Report != nil {
		cfg.Report = *cmd.Report
	}
	if cmd.Backend != "" {
		cfg.Backend = cmd.Backend
	}
	if cmd.Jobs != nil {
		cfg.Jobs = *cmd.Jobs
	}
	if cmd.Timeout != nil {
		cfg.Timeout = *cmd.Timeout
	}
	if cmd.ReadOrder != "" {
		cfg.ReadOrder = cmd.ReadOrder
	}
	if cmd.QueueSize != nil {
		cfg.QueueSize = *cmd.QueueSize
	}
	if cmd.VerifyOutput {
		cfg.VerifyOutput = true
	}
	if cmd.LogLevel != "" {
		cfg.LogLevel = cmd.LogLevel
	}

	return cfg, cfg.Validate()
}

// Run executes the fixture command.
func (cmd *FixtureCmd) Run() error {
	f, err := os.Create(cmd.Output)
	if err != nil {
		return err
	}

	compression := cmd.Compression
	if compression == "none" {
		compression = ""
	}
	if err := mcapreader.WriteRecording(f, demoChannels(), mcapreader.FixtureOptions{
		Compression: compression,
		Unindexed:   cmd.Unindexed,
	}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Println(l10n.F("Wrote demo recording to %s", cmd.Output))
	return nil
}

// Run executes the version command.
func (cmd *VersionCmd) Run() error {
	fmt.Println(l10n.F("mcapvideo version %s", version))
	return nil
}
