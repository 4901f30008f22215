// Package driver runs one channel extraction through a streaming pipeline.
package driver

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/pipeline"
)

// State is the lifecycle state of an extraction job.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateRunning
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one channel's extraction task. A job owns its pipeline and counters
// exclusively.
type Job struct {
	ID         string
	Channel    string
	OutputPath string
	Topology   pipeline.Topology

	FramesWritten int
	FramesDropped int
	FramesSkipped int // leading frames before the first key frame
	FirstLogTime  uint64
	LastLogTime   uint64

	State State
}

// NewJob creates an idle job with a fresh ID.
func NewJob(channel, outputPath string, topology pipeline.Topology) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Channel:    channel,
		OutputPath: outputPath,
		Topology:   topology,
		State:      StateIdle,
	}
}

// ShortID is the first block of the job ID, used to tag log lines.
func (j *Job) ShortID() string {
	if len(j.ID) >= 8 {
		return j.ID[:8]
	}
	return j.ID
}

// Duration is the log time span of the injected frames.
func (j *Job) Duration() time.Duration {
	if j.FramesWritten < 2 {
		return 0
	}
	return time.Duration(j.LastLogTime - j.FirstLogTime)
}

// Result describes a completed extraction.
type Result struct {
	Channel       string
	OutputPath    string
	Codec         codec.Codec
	FramesWritten int
	FramesDropped int
	FramesSkipped int
	Duration      time.Duration
	Warnings      []OrderingWarning
}

// ExtractionError is returned when a job ends in StateFailed. State is the
// state the job was in when the failure occurred.
type ExtractionError struct {
	Channel       string
	State         State
	FramesWritten int
	Err           error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: failed while %s after %d frames: %v", e.Channel, e.State, e.FramesWritten, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// OrderingWarning describes a frame dropped because its log time went
// backwards.
type OrderingWarning struct {
	Channel  string
	LogTime  uint64
	Previous uint64
}

func (w OrderingWarning) String() string {
	return fmt.Sprintf("%s: dropped frame at %d, earlier than previous frame at %d", w.Channel, w.LogTime, w.Previous)
}
