package pipeline

import "fmt"

// PipelineError is a stage construction or runtime failure reported by a
// backend. It carries the stage name and the underlying message.
type PipelineError struct {
	Stage string
	Err   error
}

// NewError wraps err as a failure of stage.
func NewError(stage string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("pipeline: %v", e.Err)
	}
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
