package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/frame"
	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

// DefaultQueueSize is the number of decoded frames the reader may run ahead
// of the pipeline.
const DefaultQueueSize = 16

// ErrUnexpectedEOS is reported when the pipeline finishes before the end of
// stream was signalled.
var ErrUnexpectedEOS = errors.New("pipeline reached end of stream before input was exhausted")

// ErrBusClosed is reported when the bus closes without EOS or error.
var ErrBusClosed = errors.New("pipeline bus closed before end of stream")

// ErrNoKeyFrame is reported when a channel has frames but none a decoder
// could start from.
var ErrNoKeyFrame = errors.New("no key frame in channel")

// Driver runs extraction jobs against a pipeline backend. A Driver holds no
// per-job state and may run several jobs concurrently.
type Driver struct {
	backend   ports.PipelineBackend
	logger    ports.Logger
	queueSize int
}

// New creates a Driver. A queueSize below 1 selects DefaultQueueSize.
func New(backend ports.PipelineBackend, logger ports.Logger, queueSize int) *Driver {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Driver{
		backend:   backend,
		logger:    logger,
		queueSize: queueSize,
	}
}

// decoded is one unit of work handed from the reader to the injector.
type decoded struct {
	index int
	frame frame.VideoFrame
}

// Run extracts every message of source into job.OutputPath. The pipeline is
// always torn down before Run returns; partial output is left in place.
//
// Frames before the first key frame are skipped, so the output timeline
// starts at that key frame. One frame is held back until its successor
// arrives so every buffer carries the log time delta as its duration.
//
// On failure Run does not wait for a source.Next call that is still in
// progress. Closing source releases it.
func (d *Driver) Run(ctx context.Context, job *Job, source ports.MessageIterator) (Result, error) {
	log := d.logger.WithComponent("job " + job.ShortID())
	want, _ := codec.Parse(job.Topology.Codec)

	fail := func(err error) (Result, error) {
		state := job.State
		job.State = StateFailed
		log.Error("Extraction of %s failed while %s: %s", job.Channel, state, err)
		return Result{}, &ExtractionError{
			Channel:       job.Channel,
			State:         state,
			FramesWritten: job.FramesWritten,
			Err:           err,
		}
	}

	if job.State != StateIdle {
		return fail(fmt.Errorf("job already %s", job.State))
	}

	p, err := d.backend.Build(job.Topology, job.OutputPath)
	if err != nil {
		return fail(fmt.Errorf("build %s pipeline: %w", d.backend.Name(), err))
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("Pipeline teardown failed: %s", err)
		}
	}()
	job.State = StateConfigured
	log.Debug("Pipeline %s bound to %s", job.Topology, job.OutputPath)

	if err := p.Start(ctx); err != nil {
		return fail(fmt.Errorf("start pipeline: %w", err))
	}
	job.State = StateRunning
	log.Info("Extracting %s to %s", job.Channel, job.OutputPath)

	readCtx, cancelRead := context.WithCancel(ctx)
	frames := make(chan decoded, d.queueSize)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		readErr <- d.read(readCtx, want, source, frames)
	}()
	defer cancelRead()

	var (
		warnings []OrderingWarning
		pending  *pipeline.Buffer
		lastDur  time.Duration
		accepted int
		pendIdx  int
	)
	push := func(buf pipeline.Buffer, index int) error {
		if err := p.Push(ctx, buf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("push message %d: %w", index, err)
		}
		job.FramesWritten++
		return nil
	}
	bus := p.Bus()

inject:
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())

		case msg, ok := <-bus:
			if !ok {
				return fail(ErrBusClosed)
			}
			if err := busError(msg); err != nil {
				return fail(err)
			}
			if msg.Type == pipeline.MessageEOS {
				return fail(ErrUnexpectedEOS)
			}
			log.Debug("%s", msg)

		case item, ok := <-frames:
			if !ok {
				break inject
			}
			f := item.frame
			if accepted == 0 && !f.KeyFrame {
				job.FramesSkipped++
				if job.FramesSkipped == 1 {
					log.Warn("Skipping frames of %s before the first key frame", job.Channel)
				}
				continue
			}
			if accepted > 0 && f.LogTime < job.LastLogTime {
				w := OrderingWarning{Channel: job.Channel, LogTime: f.LogTime, Previous: job.LastLogTime}
				warnings = append(warnings, w)
				job.FramesDropped++
				log.Warn("Dropped out of order frame on %s at %d (previous %d)", job.Channel, f.LogTime, job.LastLogTime)
				continue
			}
			if accepted == 0 {
				job.FirstLogTime = f.LogTime
			}
			accepted++
			job.LastLogTime = f.LogTime

			buf := pipeline.Buffer{
				Data:     f.Data,
				PTS:      pts(job.FirstLogTime, f.LogTime),
				KeyFrame: f.KeyFrame,
			}
			if pending != nil {
				pending.Duration = buf.PTS - pending.PTS
				if pending.Duration > 0 {
					lastDur = pending.Duration
				}
				if err := push(*pending, pendIdx); err != nil {
					return fail(err)
				}
			}
			pending, pendIdx = &buf, item.index
		}
	}

	// The held back frame is written even when the reader failed, so
	// FramesWritten covers every frame read before the failure.
	if pending != nil {
		pending.Duration = lastDur
		if err := push(*pending, pendIdx); err != nil {
			return fail(err)
		}
	}

	if err := <-readErr; err != nil {
		return fail(err)
	}
	if job.FramesSkipped > 0 {
		log.Warn("Skipped %d frames of %s before the first key frame", job.FramesSkipped, job.Channel)
		if accepted == 0 {
			return fail(ErrNoKeyFrame)
		}
	}

	if err := p.EndOfStream(); err != nil {
		return fail(fmt.Errorf("signal end of stream: %w", err))
	}
	job.State = StateDraining
	log.Debug("Draining %s after %d frames", job.Channel, job.FramesWritten)

	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case msg, ok := <-bus:
			if !ok {
				return fail(ErrBusClosed)
			}
			if err := busError(msg); err != nil {
				return fail(err)
			}
			if msg.Type != pipeline.MessageEOS {
				log.Debug("%s", msg)
				continue
			}
			job.State = StateCompleted
			log.Info("Wrote %d frames of %s to %s", job.FramesWritten, job.Channel, job.OutputPath)
			return Result{
				Channel:       job.Channel,
				OutputPath:    job.OutputPath,
				Codec:         want,
				FramesWritten: job.FramesWritten,
				FramesDropped: job.FramesDropped,
				FramesSkipped: job.FramesSkipped,
				Duration:      job.Duration(),
				Warnings:      warnings,
			}, nil
		}
	}
}

// read decodes messages from source and hands them to the injector. It
// blocks whenever the injector falls queueSize frames behind.
func (d *Driver) read(ctx context.Context, want codec.Codec, source ports.MessageIterator, out chan<- decoded) error {
	for index := 0; ; index++ {
		msg, err := source.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message %d: %w", index, err)
		}

		f, err := frame.Decode(msg.Data)
		if err != nil {
			return fmt.Errorf("decode message %d: %w", index, err)
		}
		if f.Codec != want {
			return fmt.Errorf("decode message %d: %w", index, frame.NewMixedFormatError(string(want), f.Format))
		}
		f.LogTime = msg.LogTime

		select {
		case out <- decoded{index: index, frame: f}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pts maps a log time onto the zero-based output timeline.
func pts(first, logTime uint64) time.Duration {
	return time.Duration(logTime - first)
}

func busError(msg pipeline.Message) error {
	if msg.Type != pipeline.MessageError {
		return nil
	}
	var perr *pipeline.PipelineError
	if errors.As(msg.Err, &perr) {
		return perr
	}
	return pipeline.NewError(msg.Stage, msg.Err)
}
