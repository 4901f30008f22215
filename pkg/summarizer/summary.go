// Package summarizer turns listing and extraction results into the
// per-channel tables printed at the end of a run.
package summarizer

import (
	"time"

	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/lister"
	"github.com/user/mcapvideo/pkg/orchestrator"
)

// Summary contains everything shown in the final report.
type Summary struct {
	GeneratedAt time.Time
	Recording   string
	Backend     string
	Elapsed     time.Duration

	// Listing is set for a listing run, Jobs for an extraction run.
	Listing []ListingRow
	Jobs    []JobRow
}

// ListingRow describes one channel of the recording.
type ListingRow struct {
	Channel      string
	Format       string
	Supported    bool
	Frames       int
	Duration     time.Duration
	DecodeErrors int
}

// JobRow describes one extraction job.
type JobRow struct {
	Channel  string
	Codec    string
	OK       bool
	Frames   int
	Dropped  int
	Duration time.Duration
	Output   string
	Error    string
	Warnings []string
}

// OK reports whether every job completed. A listing summary is always OK.
func (s *Summary) OK() bool {
	for _, j := range s.Jobs {
		if !j.OK {
			return false
		}
	}
	return true
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: &Summary{GeneratedAt: time.Now()},
	}
}

// WithRecording sets the path of the recording.
func (b *Builder) WithRecording(path string) *Builder {
	b.summary.Recording = path
	return b
}

// WithBackend sets the pipeline backend name.
func (b *Builder) WithBackend(name string) *Builder {
	b.summary.Backend = name
	return b
}

// WithListing adds one row per channel summary.
func (b *Builder) WithListing(summaries []lister.ChannelSummary) *Builder {
	for _, s := range summaries {
		b.summary.Listing = append(b.summary.Listing, ListingRow{
			Channel:      s.Channel,
			Format:       s.FormatName(),
			Supported:    s.Codec != codec.Unknown,
			Frames:       s.FrameCount,
			Duration:     s.Duration,
			DecodeErrors: s.DecodeErrors,
		})
	}
	return b
}

// WithReport adds one row per job of an extraction report.
func (b *Builder) WithReport(report orchestrator.Report) *Builder {
	b.summary.Elapsed = report.Elapsed
	b.summary.Jobs = make([]JobRow, 0, len(report.Results))
	for _, r := range report.Results {
		row := JobRow{
			Channel:  r.Channel,
			OK:       r.OK(),
			Frames:   r.FramesWritten,
			Dropped:  r.FramesDropped,
			Duration: r.Duration,
			Output:   r.OutputPath,
			Warnings: r.Warnings,
		}
		if r.Codec != "" {
			row.Codec = r.Codec.String()
		}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		b.summary.Jobs = append(b.summary.Jobs, row)
	}
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
