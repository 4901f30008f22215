package orchestrator

import (
	"strconv"
	"strings"
	"time"

	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/ports"
)

// Status is the terminal status of one channel's job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JobReport is one row of the final report.
type JobReport struct {
	Channel       string
	OutputPath    string // empty when the job failed before a path was chosen
	Codec         codec.Codec
	Status        Status
	FramesWritten int
	FramesDropped int
	FramesSkipped int // leading frames before the first key frame
	Duration      time.Duration
	Warnings      []string
	Err           error // first error encountered, nil when completed
}

// OK reports whether the job completed.
func (r JobReport) OK() bool {
	return r.Status == StatusCompleted
}

// Report aggregates every selected channel's outcome, in topic order.
type Report struct {
	Results []JobReport
	Elapsed time.Duration
}

// OK is true when every job completed. A report without jobs, from a
// recording without video channels, is OK.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Failed returns the number of failed jobs.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// SanitizeName turns a topic into a file name stem. Characters outside
// [A-Za-z0-9._-] become underscores; leading dots and underscores are
// trimmed so the result never names a hidden file or a parent directory.
func SanitizeName(topic string) string {
	var b strings.Builder
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), "._")
	name = strings.TrimRight(name, "_")
	if name == "" {
		return "channel"
	}
	return name
}

// outputPaths returns a distinct file name stem per channel. Later channels
// whose names collide get -2, -3 suffixes. Collisions are detected case
// insensitively so outputs stay distinct on case-folding filesystems.
func outputPaths(channels []ports.ChannelInfo) []string {
	taken := make(map[string]bool, len(channels))
	names := make([]string, len(channels))
	for i, ch := range channels {
		base := SanitizeName(ch.Topic)
		name := base
		for n := 2; taken[strings.ToLower(name)]; n++ {
			name = base + "-" + strconv.Itoa(n)
		}
		taken[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}
