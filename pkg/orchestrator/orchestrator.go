// Package orchestrator resolves which channels of a recording to process and
// runs one extraction job per channel, aggregating a per-channel report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/driver"
	"github.com/user/mcapvideo/pkg/frame"
	"github.com/user/mcapvideo/pkg/lister"
	"github.com/user/mcapvideo/pkg/ports"
)

// SelectAll selects every channel carrying compressed video.
const SelectAll = "all"

var (
	// ErrChannelNotFound is reported when the selector names no channel, or
	// a channel whose schema is not CompressedVideo.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNoSelector is returned by Extract when no channel was selected.
	ErrNoSelector = errors.New("no channel selected")

	// ErrNoFrames is reported for a channel without a single decodable frame.
	ErrNoFrames = errors.New("channel has no decodable frames")
)

// Config controls one extraction run.
type Config struct {
	// Selector is a topic name or SelectAll.
	Selector  string
	OutputDir string

	// Jobs is the number of channels extracted concurrently. Values below 2
	// run the jobs one after another.
	Jobs int

	// Timeout bounds the whole run. Zero means no deadline.
	Timeout time.Duration

	// VerifyOutput reads every produced file back and checks its codec and
	// sample count.
	VerifyOutput bool
}

// VerifyFunc checks that the file at path carries a video track of codec c
// holding the given number of frames.
type VerifyFunc func(path string, c codec.Codec, frames int) error

// Orchestrator wires the recording, the lister and the extraction driver.
type Orchestrator struct {
	recording ports.Recording
	backend   ports.PipelineBackend
	fs        ports.FileSystem
	logger    ports.Logger
	lister    *lister.Lister
	driver    *driver.Driver
	verify    VerifyFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithQueueSize sets the number of decoded frames buffered between the read
// loop and pipeline injection of each job.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		o.driver = driver.New(o.backend, o.logger, n)
	}
}

// WithVerifier sets the function used when Config.VerifyOutput is enabled.
func WithVerifier(fn VerifyFunc) Option {
	return func(o *Orchestrator) {
		o.verify = fn
	}
}

// New creates an Orchestrator.
func New(recording ports.Recording, backend ports.PipelineBackend, fs ports.FileSystem, logger ports.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		recording: recording,
		backend:   backend,
		fs:        fs,
		logger:    logger,
		lister:    lister.New(logger),
		driver:    driver.New(backend, logger, driver.DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// List summarizes every compressed video channel, sorted by topic. Channels
// with other schemas are left out.
func (o *Orchestrator) List(ctx context.Context) ([]lister.ChannelSummary, error) {
	channels, err := o.videoChannels(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Found %d video channels", len(channels))

	summaries := make([]lister.ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		s, err := o.summarize(ctx, ch)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (o *Orchestrator) summarize(ctx context.Context, ch ports.ChannelInfo) (lister.ChannelSummary, error) {
	it, err := o.recording.Messages(ctx, ch)
	if err != nil {
		return lister.ChannelSummary{}, fmt.Errorf("open %s: %w", ch.Topic, err)
	}
	defer it.Close()
	return o.lister.Summarize(ctx, ch, it)
}

// Extract runs one job per selected channel. A failed job is recorded in the
// report and never stops its siblings; the returned error is reserved for
// problems that prevent any job from running.
func (o *Orchestrator) Extract(ctx context.Context, cfg Config) (Report, error) {
	if cfg.Selector == "" {
		return Report{}, ErrNoSelector
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	start := time.Now()

	channels, err := o.videoChannels(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(channels) == 0 && cfg.Selector == SelectAll {
		o.logger.Info("No %s messages found", ports.CompressedVideoSchema)
		return Report{Elapsed: time.Since(start)}, nil
	}
	selected := selectChannels(channels, cfg.Selector)
	if len(selected) == 0 {
		err := fmt.Errorf("%w: %s", ErrChannelNotFound, cfg.Selector)
		o.logger.Error("Channel %s not found", cfg.Selector)
		return Report{
			Results: []JobReport{{Channel: cfg.Selector, Status: StatusFailed, Err: err}},
			Elapsed: time.Since(start),
		}, nil
	}

	if err := o.fs.MkdirAll(cfg.OutputDir); err != nil {
		return Report{}, fmt.Errorf("create output directory: %w", err)
	}

	paths := outputPaths(selected)
	results := make([]JobReport, len(selected))
	jobs := cfg.Jobs
	if jobs < 1 {
		jobs = 1
	}
	o.logger.Info("Extracting %d channels with %d jobs", len(selected), min(jobs, len(selected)))

	var g errgroup.Group
	g.SetLimit(jobs)
	for i, ch := range selected {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = o.extractChannel(ctx, ch, cfg, paths[i])
			return nil
		})
	}
	g.Wait()

	return Report{Results: results, Elapsed: time.Since(start)}, nil
}

func (o *Orchestrator) extractChannel(ctx context.Context, ch ports.ChannelInfo, cfg Config, name string) JobReport {
	report := JobReport{Channel: ch.Topic, Status: StatusFailed}
	failed := func(err error) JobReport {
		report.Err = err
		o.logger.Error("Channel %s: %s", ch.Topic, err)
		return report
	}

	format, err := o.detectFormat(ctx, ch)
	if err != nil {
		return failed(err)
	}
	topology, err := codec.Resolve(format)
	if err != nil {
		return failed(err)
	}
	report.Codec, _ = codec.Parse(format)
	report.OutputPath = filepath.Join(cfg.OutputDir, name+"."+topology.Extension)

	it, err := o.recording.Messages(ctx, ch)
	if err != nil {
		return failed(fmt.Errorf("open %s: %w", ch.Topic, err))
	}
	defer it.Close()

	job := driver.NewJob(ch.Topic, report.OutputPath, topology)
	result, err := o.driver.Run(ctx, job, it)
	report.FramesWritten = job.FramesWritten
	report.FramesDropped = job.FramesDropped
	report.FramesSkipped = job.FramesSkipped
	report.Duration = job.Duration()
	if err != nil {
		report.Err = err
		return report
	}
	if job.FramesSkipped > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: skipped %d frames before the first key frame", ch.Topic, job.FramesSkipped))
	}
	for _, w := range result.Warnings {
		report.Warnings = append(report.Warnings, w.String())
	}
	report.Status = StatusCompleted

	if cfg.VerifyOutput && o.verify != nil {
		if err := o.verify(report.OutputPath, report.Codec, report.FramesWritten); err != nil {
			o.logger.Warn("Output verification failed: %s", err)
			report.Warnings = append(report.Warnings, "verify: "+err.Error())
		}
	}
	return report
}

// detectFormat returns the format tag of the first decodable frame.
func (o *Orchestrator) detectFormat(ctx context.Context, ch ports.ChannelInfo) (string, error) {
	it, err := o.recording.Messages(ctx, ch)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", ch.Topic, err)
	}
	defer it.Close()

	var firstErr error
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		msg, err := it.Next()
		if errors.Is(err, io.EOF) {
			if firstErr != nil {
				return "", fmt.Errorf("%w: %w", ErrNoFrames, firstErr)
			}
			return "", ErrNoFrames
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", ch.Topic, err)
		}
		h, err := frame.DecodeHeader(msg.Data)
		if err == nil || errors.Is(err, frame.ErrUnknownFormat) {
			return h.Format, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
}

func (o *Orchestrator) videoChannels(ctx context.Context) ([]ports.ChannelInfo, error) {
	all, err := o.recording.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	var channels []ports.ChannelInfo
	for _, ch := range all {
		if ch.IsCompressedVideo() {
			channels = append(channels, ch)
		}
	}
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Topic != channels[j].Topic {
			return channels[i].Topic < channels[j].Topic
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func selectChannels(channels []ports.ChannelInfo, selector string) []ports.ChannelInfo {
	if selector == SelectAll {
		return channels
	}
	var out []ports.ChannelInfo
	for _, ch := range channels {
		if ch.Topic == selector {
			out = append(out, ch)
		}
	}
	return out
}
