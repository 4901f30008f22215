package ports

import (
	"context"

	"github.com/user/mcapvideo/pkg/pipeline"
)

// PipelineBackend constructs streaming pipelines from topologies.
type PipelineBackend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// Build constructs and links the stages of topology with the sink bound
	// to outputPath. The returned pipeline is not started.
	Build(topology pipeline.Topology, outputPath string) (Pipeline, error)
}

// Pipeline is one constructed pipeline instance. It is owned by a single job.
type Pipeline interface {
	// Start moves the pipeline to its processing state.
	Start(ctx context.Context) error

	// Push hands one buffer to the head stage. It blocks while the head
	// stage cannot accept more data, until ctx is done.
	Push(ctx context.Context, buf pipeline.Buffer) error

	// EndOfStream signals that no further buffers will be pushed.
	EndOfStream() error

	// Bus delivers asynchronous EOS, error and state notifications.
	Bus() <-chan pipeline.Message

	// Close tears the pipeline down. It is safe to call more than once and
	// leaves whatever was written to the output file in place.
	Close() error
}
