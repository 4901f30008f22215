//go:build gstreamer

// Package gstpipeline realizes extraction topologies as native GStreamer
// pipelines: appsrc ! <parser> ! <muxer> ! filesink. It needs the GStreamer
// development packages and is only compiled with the gstreamer build tag.
package gstpipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

// busPollInterval bounds how long teardown waits for the bus watcher.
const busPollInterval = 50 * time.Millisecond

var initOnce sync.Once

// Backend builds GStreamer pipelines.
type Backend struct {
	fs     ports.FileSystem
	logger ports.Logger
}

// New creates a Backend and initializes GStreamer.
func New(fs ports.FileSystem, logger ports.Logger) *Backend {
	initOnce.Do(func() { gst.Init(nil) })
	return &Backend{fs: fs, logger: logger.WithComponent("gstreamer")}
}

// Name returns "gstreamer".
func (b *Backend) Name() string {
	return "gstreamer"
}

// Build creates the output file, constructs every stage of topology and
// links them. The pipeline stays in the NULL state until Start.
func (b *Backend) Build(topology pipeline.Topology, outputPath string) (ports.Pipeline, error) {
	// Check the output path so an unwritable location fails here rather than
	// on the first state change.
	f, err := b.fs.Create(outputPath)
	if err != nil {
		return nil, pipeline.NewError(pipeline.StageFileSink, err)
	}
	f.Close()

	gp, err := gst.NewPipeline("")
	if err != nil {
		return nil, pipeline.NewError("pipeline", err)
	}

	p := &Pipeline{
		pipeline: gp,
		logger:   b.logger,
		stages:   make(map[string]string),
		bus:      make(chan pipeline.Message, 16),
		stopped:  make(chan struct{}),
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, pipeline.NewError(pipeline.StageAppSrc, err)
	}
	src.SetCaps(gst.NewCapsFromString(topology.Caps))
	src.SetStreamType(app.AppStreamTypeStream)
	if err := setProperties(src.Element, map[string]any{
		"format":       gst.FormatTime,
		"block":        true,
		"is-live":      false,
		"do-timestamp": false,
	}); err != nil {
		return nil, pipeline.NewError(pipeline.StageAppSrc, err)
	}
	p.src = src
	p.track(src.Element, pipeline.StageAppSrc)

	elements := []*gst.Element{src.Element}
	for _, name := range topology.Stages()[1:] {
		el, err := gst.NewElement(name)
		if err != nil {
			return nil, pipeline.NewError(name, fmt.Errorf("no such stage: %w", err))
		}
		switch name {
		case topology.Muxer:
			err = setProperties(el, topology.MuxerProperties)
		case pipeline.StageFileSink:
			err = el.SetProperty("location", outputPath)
		}
		if err != nil {
			return nil, pipeline.NewError(name, err)
		}
		p.track(el, name)
		elements = append(elements, el)
	}

	if err := gp.AddMany(elements...); err != nil {
		return nil, pipeline.NewError("pipeline", err)
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		return nil, pipeline.NewError("pipeline", fmt.Errorf("link %s: %w", topology, err))
	}

	b.logger.Debug("Built %s for %s", topology, outputPath)
	return p, nil
}

func setProperties(el *gst.Element, props map[string]any) error {
	for key, value := range props {
		if err := el.SetProperty(key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	return nil
}

// Pipeline wraps one GStreamer pipeline. A goroutine polls the native bus and
// forwards translated messages.
type Pipeline struct {
	pipeline *gst.Pipeline
	src      *app.Source
	logger   ports.Logger

	// stages maps element names to stage names.
	stages map[string]string

	bus     chan pipeline.Message
	stopped chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	started bool
	ended   bool
	closed  bool
}

func (p *Pipeline) track(el *gst.Element, stage string) {
	p.stages[el.GetName()] = stage
}

// stage returns the stage name of the element that posted a message.
func (p *Pipeline) stage(source string) string {
	if s, ok := p.stages[source]; ok {
		return s
	}
	return strings.TrimRight(source, "0123456789")
}

// Start sets the pipeline to PLAYING and starts the bus watcher.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("pipeline closed")
	}
	if p.started {
		return errors.New("pipeline already started")
	}

	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return pipeline.NewError("pipeline", fmt.Errorf("set state playing: %w", err))
	}
	p.started = true

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.watch(watchCtx)
	return nil
}

// Push hands buf to appsrc. With block=true the native push waits while the
// appsrc queue is full. When ctx ends first Push returns and the native push
// is released by teardown.
func (p *Pipeline) Push(ctx context.Context, buf pipeline.Buffer) error {
	p.mu.Lock()
	started, ended := p.started, p.ended
	p.mu.Unlock()
	if !started {
		return pipeline.NewError(pipeline.StageAppSrc, errors.New("pipeline not started"))
	}
	if ended {
		return pipeline.NewError(pipeline.StageAppSrc, errors.New("push after end of stream"))
	}

	gbuf := gst.NewBufferFromBytes(buf.Data)
	gbuf.SetPresentationTimestamp(buf.PTS)
	if buf.Duration > 0 {
		gbuf.SetDuration(buf.Duration)
	}
	if !buf.KeyFrame {
		gbuf.SetFlags(gst.BufferFlagDeltaUnit)
	}

	done := make(chan gst.FlowReturn, 1)
	go func() { done <- p.src.PushBuffer(gbuf) }()

	select {
	case ret := <-done:
		if ret != gst.FlowOK {
			return pipeline.NewError(pipeline.StageAppSrc, fmt.Errorf("push buffer: flow %v", ret))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndOfStream sends EOS into appsrc.
func (p *Pipeline) EndOfStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return pipeline.NewError(pipeline.StageAppSrc, errors.New("pipeline not started"))
	}
	if p.ended {
		return nil
	}
	p.ended = true
	if ret := p.src.EndStream(); ret != gst.FlowOK {
		return pipeline.NewError(pipeline.StageAppSrc, fmt.Errorf("end stream: flow %v", ret))
	}
	return nil
}

// Bus returns the translated message bus.
func (p *Pipeline) Bus() <-chan pipeline.Message {
	return p.bus
}

// Close stops the bus watcher and sets the pipeline to NULL, which releases
// every native resource and any blocked push.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if started {
		p.cancel()
		<-p.stopped
	}
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return pipeline.NewError("pipeline", fmt.Errorf("set state null: %w", err))
	}
	return nil
}

func (p *Pipeline) watch(ctx context.Context) {
	defer close(p.stopped)
	bus := p.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			p.post(ctx, pipeline.Message{Type: pipeline.MessageEOS, Stage: pipeline.StageFileSink})
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			stage := p.stage(msg.Source())
			err := pipeline.NewError(stage, fmt.Errorf("%s (%s)", gerr.Error(), gerr.DebugString()))
			p.post(ctx, pipeline.Message{Type: pipeline.MessageError, Stage: stage, Err: err})
			return

		case gst.MessageWarning:
			p.logger.Warn("Element %s: %s", msg.Source(), msg.ParseWarning().Error())

		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				_, state := msg.ParseStateChanged()
				p.post(ctx, pipeline.Message{
					Type:  pipeline.MessageStateChanged,
					Stage: "pipeline",
					State: strings.ToLower(state.String()),
				})
			}
		}
	}
}

func (p *Pipeline) post(ctx context.Context, msg pipeline.Message) {
	select {
	case p.bus <- msg:
	case <-ctx.Done():
	}
}

var (
	_ ports.PipelineBackend = (*Backend)(nil)
	_ ports.Pipeline        = (*Pipeline)(nil)
)
