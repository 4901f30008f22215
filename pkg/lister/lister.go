// Package lister summarizes compressed video channels without extracting them.
package lister

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/frame"
	"github.com/user/mcapvideo/pkg/ports"
)

// ChannelSummary is one row of the listing output. Summaries are derived on
// every run and never cached.
type ChannelSummary struct {
	Channel      string
	Format       string      // format tag of the first decoded frame
	Codec        codec.Codec // Unknown when Format is unsupported
	FrameCount   int
	FirstLogTime uint64
	LastLogTime  uint64
	Duration     time.Duration

	DecodeErrors int
	FirstError   error
	MixedFormats int // frames whose format differs from Format
}

// Lister streams channels through the header-only frame decoder. Frame data
// is never copied or parsed.
type Lister struct {
	logger ports.Logger
}

// New creates a Lister.
func New(logger ports.Logger) *Lister {
	return &Lister{logger: logger.WithComponent("lister")}
}

// Summarize reads every message of channel from it. Decode errors are
// recorded on the summary and do not stop the pass; only iterator errors and
// cancellation are returned.
func (l *Lister) Summarize(ctx context.Context, channel ports.ChannelInfo, it ports.MessageIterator) (ChannelSummary, error) {
	summary := ChannelSummary{Channel: channel.Topic}
	seen := false

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		msg, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("read %s: %w", channel.Topic, err)
		}

		h, err := frame.DecodeHeader(msg.Data)
		if err != nil && !errors.Is(err, frame.ErrUnknownFormat) {
			summary.DecodeErrors++
			if summary.FirstError == nil {
				summary.FirstError = err
			}
			l.logger.Debug("Skipping undecodable message on %s: %s", channel.Topic, err)
			continue
		}

		if !seen {
			seen = true
			summary.Format = h.Format
			summary.Codec = h.Codec
			summary.FirstLogTime = msg.LogTime
			summary.LastLogTime = msg.LogTime
		} else if h.Format != summary.Format {
			if summary.MixedFormats == 0 {
				l.logger.Warn("Channel %s mixes formats: %s and %s", channel.Topic, summary.Format, h.Format)
			}
			summary.MixedFormats++
		}

		summary.FrameCount++
		if msg.LogTime < summary.FirstLogTime {
			summary.FirstLogTime = msg.LogTime
		}
		if msg.LogTime > summary.LastLogTime {
			summary.LastLogTime = msg.LogTime
		}
	}

	if summary.FrameCount > 1 {
		summary.Duration = time.Duration(summary.LastLogTime - summary.FirstLogTime)
	}
	return summary, nil
}

// FormatName returns the display name used in listings.
func (s ChannelSummary) FormatName() string {
	if s.Codec != codec.Unknown {
		return s.Codec.String()
	}
	if s.Format != "" {
		return s.Format
	}
	return "unknown"
}
