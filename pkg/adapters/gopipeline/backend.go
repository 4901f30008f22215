// Package gopipeline is the in-process pipeline backend. It realizes
// topologies with Go stages named after their GStreamer counterparts, so a
// topology runs unchanged on either backend.
package gopipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

// Options configures the backend.
type Options struct {
	// QueueSize bounds the appsrc queue. Push blocks when it is full.
	QueueSize int
	// FrameDuration is the duration of the last sample when it cannot be
	// derived from its predecessor.
	FrameDuration time.Duration
}

// DefaultOptions returns the backend defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:     8,
		FrameDuration: time.Second / 30,
	}
}

// Backend builds in-process pipelines writing through a FileSystem.
type Backend struct {
	fs     ports.FileSystem
	logger ports.Logger
	opts   Options
}

// New creates a Backend. Zero option fields take their defaults.
func New(fs ports.FileSystem, logger ports.Logger, opts Options) *Backend {
	defaults := DefaultOptions()
	if opts.QueueSize < 1 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = defaults.FrameDuration
	}
	return &Backend{
		fs:     fs,
		logger: logger.WithComponent("gopipeline"),
		opts:   opts,
	}
}

// Name returns "go".
func (b *Backend) Name() string {
	return "go"
}

// Build validates the topology, creates the output file and links the
// stages. Stages are not running until Start.
func (b *Backend) Build(topology pipeline.Topology, outputPath string) (ports.Pipeline, error) {
	if topology.DecoderRequired() {
		return nil, pipeline.NewError(topology.Decoder, errors.New("no such stage"))
	}
	newParser, ok := parsers[topology.Parser]
	if !ok {
		return nil, pipeline.NewError(topology.Parser, errors.New("no such stage"))
	}
	newMuxer, ok := muxers[topology.Muxer]
	if !ok {
		return nil, pipeline.NewError(topology.Muxer, errors.New("no such stage"))
	}

	sink, err := newFileSink(b.fs, outputPath)
	if err != nil {
		return nil, pipeline.NewError(pipeline.StageFileSink, err)
	}
	mux, err := newMuxer(sink, topology.MuxerProperties, b.opts.FrameDuration, b.logger)
	if err != nil {
		sink.Close()
		return nil, pipeline.NewError(topology.Muxer, err)
	}

	b.logger.Debug("Built %s for %s", topology, outputPath)
	return &Pipeline{
		topology: topology,
		logger:   b.logger,
		src:      newAppSrc(b.opts.QueueSize),
		parser:   newParser(b.logger),
		muxer:    mux,
		sink:     sink,
		bus:      make(chan pipeline.Message, 16),
		stopped:  make(chan struct{}),
	}, nil
}

// Pipeline is one linked appsrc ! parser ! muxer ! filesink chain driven by
// a streaming goroutine.
type Pipeline struct {
	topology pipeline.Topology
	logger   ports.Logger

	src    *appSrc
	parser parser
	muxer  muxer
	sink   *fileSink

	bus     chan pipeline.Message
	stopped chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	err     error
}

// Start launches the streaming goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("pipeline closed")
	}
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true

	streamCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.stream(streamCtx)
	p.post(streamCtx, pipeline.Message{Type: pipeline.MessageStateChanged, Stage: "pipeline", State: "playing"})
	return nil
}

// Push hands buf to appsrc, blocking while its queue is full.
func (p *Pipeline) Push(ctx context.Context, buf pipeline.Buffer) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return pipeline.NewError(pipeline.StageAppSrc, errNotStarted)
	}

	err := p.src.push(ctx, buf, p.stopped)
	if err == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	if streamErr := p.streamErr(); streamErr != nil {
		return streamErr
	}
	return pipeline.NewError(pipeline.StageAppSrc, err)
}

// EndOfStream closes appsrc. The streaming goroutine finishes the muxer,
// closes the file and posts EOS.
func (p *Pipeline) EndOfStream() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return pipeline.NewError(pipeline.StageAppSrc, errNotStarted)
	}
	p.src.endOfStream()
	return nil
}

// Bus returns the message bus.
func (p *Pipeline) Bus() <-chan pipeline.Message {
	return p.bus
}

// Close stops the streaming goroutine and closes the output file. Data
// already written stays on disk.
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
	if err := p.sink.Close(); err != nil {
		return pipeline.NewError(pipeline.StageFileSink, err)
	}
	return nil
}

func (p *Pipeline) stream(ctx context.Context) {
	defer close(p.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-p.src.queue:
			if !ok {
				p.finish(ctx)
				return
			}
			units, err := p.parser.Parse(buf)
			if err != nil {
				p.fail(ctx, p.parser.Name(), fmt.Errorf("buffer at %s: %w", buf.PTS, err))
				return
			}
			for _, au := range units {
				if err := p.muxer.WriteUnit(au); err != nil {
					p.fail(ctx, p.muxer.Name(), err)
					return
				}
			}
		}
	}
}

func (p *Pipeline) finish(ctx context.Context) {
	if err := p.muxer.Finish(); err != nil {
		p.fail(ctx, p.muxer.Name(), err)
		return
	}
	if err := p.sink.Close(); err != nil {
		p.fail(ctx, pipeline.StageFileSink, err)
		return
	}
	p.logger.Debug("Wrote %d bytes to %s", p.sink.n, p.sink.path)
	p.post(ctx, pipeline.Message{Type: pipeline.MessageEOS, Stage: pipeline.StageFileSink})
}

func (p *Pipeline) fail(ctx context.Context, stage string, err error) {
	perr := pipeline.NewError(stage, err)
	p.mu.Lock()
	p.err = perr
	p.mu.Unlock()
	p.post(ctx, pipeline.Message{Type: pipeline.MessageError, Stage: stage, Err: perr})
}

func (p *Pipeline) streamErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// post delivers msg unless the pipeline is being torn down.
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
