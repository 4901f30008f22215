package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

// PipelineBackend is a mock implementation of ports.PipelineBackend. Every
// Build returns a fresh in-memory Pipeline that is kept for inspection.
type PipelineBackend struct {
	mu        sync.Mutex
	pipelines []*Pipeline

	BuildErr error
	// Configure is applied to each Pipeline before Build returns it.
	Configure func(p *Pipeline)
}

// NewPipelineBackend creates a new mock PipelineBackend.
func NewPipelineBackend() *PipelineBackend {
	return &PipelineBackend{}
}

func (m *PipelineBackend) Name() string {
	return "mock"
}

func (m *PipelineBackend) Build(topology pipeline.Topology, outputPath string) (ports.Pipeline, error) {
	if m.BuildErr != nil {
		return nil, m.BuildErr
	}
	p := NewPipeline(topology, outputPath)
	if m.Configure != nil {
		m.Configure(p)
	}
	m.mu.Lock()
	m.pipelines = append(m.pipelines, p)
	m.mu.Unlock()
	return p, nil
}

// Pipelines returns every pipeline built so far.
func (m *PipelineBackend) Pipelines() []*Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pipeline, len(m.pipelines))
	copy(out, m.pipelines)
	return out
}

// Pipeline is an in-memory ports.Pipeline. Pushed buffers are recorded and
// EndOfStream answers with EOS on the bus unless configured otherwise.
type Pipeline struct {
	mu      sync.Mutex
	buffers []pipeline.Buffer
	started bool
	ended   bool
	closed  int
	bus     chan pipeline.Message

	Topology   pipeline.Topology
	OutputPath string

	StartErr error
	// PushFunc replaces the default recording behaviour of Push.
	PushFunc func(ctx context.Context, buf pipeline.Buffer) error
	// EOSError is posted as an Error message instead of EOS.
	EOSError error
	// HoldEOS leaves the bus silent after EndOfStream, like a hung pipeline.
	HoldEOS bool
}

// NewPipeline creates a mock Pipeline.
func NewPipeline(topology pipeline.Topology, outputPath string) *Pipeline {
	return &Pipeline{
		Topology:   topology,
		OutputPath: outputPath,
		bus:        make(chan pipeline.Message, 8),
	}
}

func (p *Pipeline) Start(ctx context.Context) error {
	if p.StartErr != nil {
		return p.StartErr
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	p.Post(pipeline.Message{Type: pipeline.MessageStateChanged, Stage: "pipeline", State: "playing"})
	return nil
}

func (p *Pipeline) Push(ctx context.Context, buf pipeline.Buffer) error {
	if p.PushFunc != nil {
		if err := p.PushFunc(ctx, buf); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return errors.New("push after end of stream")
	}
	p.buffers = append(p.buffers, buf)
	return nil
}

func (p *Pipeline) EndOfStream() error {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
	switch {
	case p.HoldEOS:
	case p.EOSError != nil:
		p.Post(pipeline.Message{Type: pipeline.MessageError, Stage: p.Topology.Muxer, Err: p.EOSError})
	default:
		p.Post(pipeline.Message{Type: pipeline.MessageEOS, Stage: pipeline.StageFileSink})
	}
	return nil
}

func (p *Pipeline) Bus() <-chan pipeline.Message {
	return p.bus
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Post delivers msg on the bus, dropping it when the bus is full.
func (p *Pipeline) Post(msg pipeline.Message) {
	select {
	case p.bus <- msg:
	default:
	}
}

// Buffers returns the buffers accepted so far.
func (p *Pipeline) Buffers() []pipeline.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pipeline.Buffer, len(p.buffers))
	copy(out, p.buffers)
	return out
}

// Started reports whether Start succeeded.
func (p *Pipeline) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Ended reports whether EndOfStream was called.
func (p *Pipeline) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// CloseCount returns how many times Close was called.
func (p *Pipeline) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var (
	_ ports.PipelineBackend = (*PipelineBackend)(nil)
	_ ports.Pipeline        = (*Pipeline)(nil)
)
